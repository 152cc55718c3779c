package interfaces

import (
	"fmt"

	"github.com/fzxiao233/Bili_Record/config"
	"github.com/sirupsen/logrus"
)

// SourceLogHook flattens a "source" field holding a *config.SourceConfig
// into its tag so every line carries e.g. source=live-123.
type SourceLogHook struct {
}

func (h *SourceLogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *SourceLogHook) Fire(entry *logrus.Entry) error {
	_ret, ok := entry.Data["source"]
	if !ok {
		return nil
	}
	s, ok := _ret.(*config.SourceConfig)
	if !ok {
		return nil
	}
	entry.Data["source"] = s.Tag()
	if s.Name != "" {
		entry.Data["name"] = s.Name
	}
	return nil
}

func init() {
	logrus.AddHook(&SourceLogHook{})
}

// LiveStatus is the result of one status poll. RoomID is only meaningful when IsLive.
type LiveStatus struct {
	IsLive bool
	RoomID int64
}

func NotLive() LiveStatus {
	return LiveStatus{}
}

func LiveAt(roomID int64) LiveStatus {
	return LiveStatus{IsLive: true, RoomID: roomID}
}

func (s LiveStatus) String() string {
	if !s.IsLive {
		return "NotLive"
	}
	return fmt.Sprintf("LiveAt(%d)", s.RoomID)
}

// StreamDescriptor is a negotiated, playable stream for one capture.
type StreamDescriptor struct {
	Url               string
	NegotiatedQuality int

	// taken from the wsTime query parameter, 0 when absent
	CheckpointTimestamp int64
}
