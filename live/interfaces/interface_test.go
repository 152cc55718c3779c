package interfaces

import (
	"testing"

	"github.com/fzxiao233/Bili_Record/config"
	"github.com/sirupsen/logrus"
)

func TestSourceLogHook(t *testing.T) {
	entry := &logrus.Entry{Data: logrus.Fields{
		"source": &config.SourceConfig{Type: "live", Id: "123", Name: "someone"},
	}}
	if err := (&SourceLogHook{}).Fire(entry); err != nil {
		t.Fatalf("Fire() err: %v", err)
	}
	if entry.Data["source"] != "live-123" || entry.Data["name"] != "someone" {
		t.Errorf("unexpected fields %v", entry.Data)
	}
}

func TestLiveStatusString(t *testing.T) {
	if NotLive().String() != "NotLive" {
		t.Errorf("NotLive().String() = %s", NotLive())
	}
	if LiveAt(42).String() != "LiveAt(42)" {
		t.Errorf("LiveAt(42).String() = %s", LiveAt(42))
	}
}
