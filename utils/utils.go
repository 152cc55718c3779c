package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/80.0.3987.122 Safari/537.36"

// HttpStatusError is returned when the server answered with a non-2xx status.
type HttpStatusError struct {
	StatusCode int
	Body       string
}

func (e *HttpStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HttpGet status error %d", e.StatusCode)
	}
	return fmt.Sprintf("HttpGet status error %d %s", e.StatusCode, e.Body)
}

func HttpDoWithBufferEx(ctx context.Context, client *http.Client, meth string, url string, header map[string]string, data []byte, buf *bytes.Buffer) (*bytes.Buffer, error) {
	if client == nil {
		client = &http.Client{}
	}
	var dataReader io.Reader
	if data != nil {
		dataReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, meth, url, dataReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if res != nil {
		defer res.Body.Close()
	}
	if err != nil || res == nil {
		return nil, fmt.Errorf("HttpGet error %w", err)
	}

	if buf == nil {
		buf = bytes.NewBuffer(make([]byte, 0, 2048))
	}
	buf.Reset()
	if _, err := io.Copy(buf, res.Body); err != nil {
		return nil, err
	}
	if res.ContentLength >= 0 && int64(buf.Len()) != res.ContentLength {
		return nil, fmt.Errorf("Got unexpected payload: expected: %v, got %v", res.ContentLength, buf.Len())
	}

	if res.StatusCode != 200 && res.StatusCode != 206 {
		return nil, &HttpStatusError{StatusCode: res.StatusCode, Body: Truncate(buf.String(), 256)}
	}
	return buf, nil
}

func HttpGet(ctx context.Context, client *http.Client, url string, header map[string]string) ([]byte, error) {
	buf, err := HttpDoWithBufferEx(ctx, client, "GET", url, header, nil, nil)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func IsFileExist(aFilepath string) bool {
	_, err := os.Stat(aFilepath)
	return err == nil
}

func MakeDir(dirPath string) (string, error) {
	err := os.MkdirAll(dirPath, 0775)
	if err != nil {
		log.Errorf("mkdir error: %s, err: %s", dirPath, err)
		return "", err
	}
	return dirPath, nil
}

func AddSuffix(aFilepath string, suffix string) string {
	dir, file := filepath.Split(aFilepath)
	ext := path.Ext(file)
	filename := strings.TrimSuffix(path.Base(file), ext)
	filename += "_"
	filename += suffix
	return dir + filename + ext
}

func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func RPartition(s string, sep string) (string, string, string) {
	parts := strings.SplitAfter(s, sep)
	if len(parts) == 1 {
		return "", "", parts[0]
	}
	return strings.Join(parts[0:len(parts)-1], ""), sep, parts[len(parts)-1]
}
