package videoworker

import (
	"errors"
	"sync"
	"testing"
)

type recordingPlugin struct {
	lock   sync.Mutex
	starts int
	ends   []ExitKind
	err    error
}

func (r *recordingPlugin) CaptureStart(info *CaptureInfo) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.starts++
	return r.err
}

func (r *recordingPlugin) CaptureEnd(info *CaptureInfo, outcome ExitOutcome) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.ends = append(r.ends, outcome.Kind)
	return r.err
}

func TestPluginManager(t *testing.T) {
	ok := &recordingPlugin{}
	failing := &recordingPlugin{err: errors.New("boom")}
	pm := &PluginManager{}
	pm.AddPlugin(ok)
	pm.AddPlugin(failing)

	info := &CaptureInfo{}
	pm.OnCaptureStart(info)
	pm.OnCaptureEnd(info, ExitOutcome{Kind: OutcomeRateLimited})

	for _, p := range []*recordingPlugin{ok, failing} {
		if p.starts != 1 || len(p.ends) != 1 || p.ends[0] != OutcomeRateLimited {
			t.Errorf("plugin not called as expected: %+v", p)
		}
	}

	var nilManager *PluginManager
	nilManager.OnCaptureStart(info)
}
