package videoworker

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/fzxiao233/Bili_Record/config"
	"github.com/fzxiao233/Bili_Record/live/interfaces"
	"github.com/fzxiao233/Bili_Record/utils"
	log "github.com/sirupsen/logrus"
)

type ExitKind int

const (
	OutcomeCompleted ExitKind = iota
	OutcomeNotYetLive
	OutcomeStoppedByRequest
	OutcomeRateLimited
	OutcomeFailed
)

func (k ExitKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "Completed"
	case OutcomeNotYetLive:
		return "NotYetLive"
	case OutcomeStoppedByRequest:
		return "StoppedByRequest"
	case OutcomeRateLimited:
		return "RateLimited"
	default:
		return "Failed"
	}
}

type ExitOutcome struct {
	Kind       ExitKind
	Err        error // nil for Completed
	Diagnostic string
}

const (
	msgNotFound    = "HTTP error 404 Not Found"
	msgInterrupted = "Exiting normally, received signal 2."
	msgRateLimited = "HTTP error 475"
)

// ClassifyExit maps the result of cmd.Wait plus the captured stderr onto an
// outcome. Message checks run in priority order before the generic failure.
func ClassifyExit(err error, diagnostic string) ExitOutcome {
	outcome := ExitOutcome{Err: err, Diagnostic: diagnostic}
	if err == nil {
		outcome.Kind = OutcomeCompleted
		return outcome
	}
	msg := err.Error() + "\n" + diagnostic
	switch {
	case strings.Contains(msg, msgNotFound):
		outcome.Kind = OutcomeNotYetLive
	case strings.Contains(msg, msgInterrupted):
		outcome.Kind = OutcomeStoppedByRequest
	case strings.Contains(msg, msgRateLimited):
		outcome.Kind = OutcomeRateLimited
	default:
		outcome.Kind = OutcomeFailed
	}
	return outcome
}

// SpawnError means the capture binary could not be launched at all.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return "failed to spawn capture process: " + e.Err.Error()
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// CaptureInfo describes one capture, shared with plugins.
type CaptureInfo struct {
	Source    *config.SourceConfig
	RoomID    int64
	Stream    *interfaces.StreamDescriptor
	FilePath  string
	StartedAt time.Time
}

// CaptureProcess is a running ffmpeg. Done is closed once its exit has been
// observed and classified.
type CaptureProcess struct {
	info     *CaptureInfo
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stderr   *tailBuffer
	done     chan struct{}
	outcome  ExitOutcome
	stopOnce sync.Once
	stopped  bool
}

func (p *CaptureProcess) Info() *CaptureInfo {
	return p.info
}

func (p *CaptureProcess) Done() <-chan struct{} {
	return p.done
}

func (p *CaptureProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Outcome is only meaningful after Done is closed.
func (p *CaptureProcess) Outcome() ExitOutcome {
	<-p.done
	return p.outcome
}

// RequestStop asks ffmpeg to quit by writing "q" to its stdin, at most once
// and only while it is still running. It does not wait for the exit.
func (p *CaptureProcess) RequestStop() bool {
	if p.Exited() {
		return false
	}
	p.stopOnce.Do(func() {
		if _, err := io.WriteString(p.stdin, "q"); err != nil {
			log.WithField("source", p.info.Source).WithError(err).Warnf("Failed to send quit to recorder")
			return
		}
		p.stopped = true
		log.WithField("source", p.info.Source).Warnf("Stopping recording task")
	})
	return p.stopped
}

// Supervisor launches and watches ffmpeg captures.
type Supervisor struct {
	FfmpegPath string
	RecordsDir string
	LogsDir    string
	Format     string
	now        func() time.Time
}

func NewSupervisor(mainConfig *config.MainConfig) *Supervisor {
	return &Supervisor{
		FfmpegPath: mainConfig.FfmpegPath,
		RecordsDir: mainConfig.RecordsDir(),
		LogsDir:    mainConfig.LogsDir(),
		Format:     mainConfig.RecordFormat,
		now:        time.Now,
	}
}

func (s *Supervisor) filePath(source *config.SourceConfig, startedAt time.Time) string {
	format := s.Format
	if format == "" {
		format = "mp4"
	}
	return fmt.Sprintf("%s/%s-%s-%d.%s", s.RecordsDir, source.Kind(), source.Id, startedAt.UnixNano()/int64(time.Millisecond), format)
}

// BuildArgs returns the ffmpeg command line for recording streamUrl to dst.
func BuildArgs(source *config.SourceConfig, streamUrl string, dst string) []string {
	args := []string{"-user_agent", source.UserAgent(), "-i", streamUrl}
	args = append(args, source.AdditionalFfmpegArguments...)
	return append(args, dst)
}

// Spawn starts ffmpeg on the stream and begins observing it in the background.
func (s *Supervisor) Spawn(roomID int64, stream *interfaces.StreamDescriptor, source *config.SourceConfig) (*CaptureProcess, error) {
	if stream == nil || stream.Url == "" {
		return nil, &SpawnError{Err: errNoStream}
	}
	startedAt := s.now()
	if _, err := utils.MakeDir(s.RecordsDir); err != nil {
		return nil, &SpawnError{Err: err}
	}
	info := &CaptureInfo{
		Source:    source,
		RoomID:    roomID,
		Stream:    stream,
		FilePath:  s.filePath(source, startedAt),
		StartedAt: startedAt,
	}
	cmd := exec.Command(s.FfmpegPath, BuildArgs(source, stream.Url, info.FilePath)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Err: err}
	}
	stderr := newTailBuffer(diagnosticTail)
	cmd.Stderr = stderr

	logger := log.WithField("source", source)
	if err := cmd.Start(); err != nil {
		stderr.Release()
		return nil, &SpawnError{Err: err}
	}
	logger.WithField("checkpoint", stream.CheckpointTimestamp).Infof("Downloading live stream to %s", info.FilePath)

	p := &CaptureProcess{
		info:   info,
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go s.observe(p)
	return p, nil
}

func (s *Supervisor) observe(p *CaptureProcess) {
	err := p.cmd.Wait()
	diagnostic := p.stderr.String()
	p.stderr.Release()
	p.outcome = ClassifyExit(err, diagnostic)
	s.report(p.info, p.outcome)
	close(p.done)
}

func (s *Supervisor) report(info *CaptureInfo, outcome ExitOutcome) {
	logger := log.WithField("source", info.Source).WithField("outcome", outcome.Kind)
	switch outcome.Kind {
	case OutcomeNotYetLive:
		// the api sometimes reports on air while the cdn still answers 404
		logger.Debugf("%s", outcome.Err)
		logger.Warnf("Seems not ready for streaming or just finished streaming")
	case OutcomeStoppedByRequest:
		logger.Warnf("Exited normally")
		s.dumpDiagnostic(info, outcome)
	case OutcomeRateLimited:
		logger.Warnf("Server returned code 475, keep retrying")
	case OutcomeFailed:
		logger.WithError(outcome.Err).Errorf("Recorder failed: %s", lastLine(outcome.Diagnostic))
		s.dumpDiagnostic(info, outcome)
	default:
		logger.Infof("Recorder finished, saved to %s", info.FilePath)
		s.dumpDiagnostic(info, outcome)
	}
}

func (s *Supervisor) dumpDiagnostic(info *CaptureInfo, outcome ExitOutcome) {
	text := outcome.Diagnostic
	if outcome.Err != nil {
		text = outcome.Err.Error() + "\n" + text
	}
	logPath := fmt.Sprintf("%s/%s-%s-%d.log", s.LogsDir, info.Source.Kind(), info.Source.Id, s.now().UnixNano()/int64(time.Millisecond))
	if err := writeDiagnostic(logPath, text); err != nil {
		log.WithField("source", info.Source).WithError(err).Warnf("Failed to write recorder log %s", logPath)
	}
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n")
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}

var errNoStream = errors.New("empty stream url")
