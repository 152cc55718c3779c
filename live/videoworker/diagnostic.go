package videoworker

import (
	"io/ioutil"
	"path/filepath"
	"sync"

	"github.com/fzxiao233/Bili_Record/utils"
	"github.com/valyala/bytebufferpool"
)

// ffmpeg prints progress for the whole broadcast, only the tail is worth keeping.
const diagnosticTail = 64 * 1024

var diagPool bytebufferpool.Pool

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	lock  sync.Mutex
	limit int
	buf   *bytebufferpool.ByteBuffer
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit, buf: diagPool.Get()}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.buf == nil {
		return len(p), nil
	}
	n := len(p)
	if n >= t.limit {
		t.buf.Reset()
		_, _ = t.buf.Write(p[n-t.limit:])
		return n, nil
	}
	if over := t.buf.Len() + n - t.limit; over > 0 {
		t.buf.B = append(t.buf.B[:0], t.buf.B[over:]...)
	}
	_, _ = t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.buf == nil {
		return ""
	}
	return t.buf.String()
}

// Release hands the buffer back to the pool, later writes are dropped.
func (t *tailBuffer) Release() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.buf != nil {
		diagPool.Put(t.buf)
		t.buf = nil
	}
}

func writeDiagnostic(path string, text string) error {
	if _, err := utils.MakeDir(filepath.Dir(path)); err != nil {
		return err
	}
	return ioutil.WriteFile(path, []byte(text), 0644)
}
