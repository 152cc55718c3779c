package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fzxiao233/Bili_Record/config"
	"github.com/fzxiao233/Bili_Record/live/interfaces"
	"github.com/fzxiao233/Bili_Record/live/monitor"
	"github.com/fzxiao233/Bili_Record/live/monitor/base"
	"github.com/fzxiao233/Bili_Record/live/monitor/bilibili"
	"github.com/fzxiao233/Bili_Record/live/videoworker"
	log "github.com/sirupsen/logrus"
)

type State int

const (
	StateIdle State = iota
	StatePolling
	StateResolving
	StateRecording
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePolling:
		return "Polling"
	case StateResolving:
		return "Resolving"
	case StateRecording:
		return "Recording"
	default:
		return "Stopped"
	}
}

// Capture is a running capture as seen by its monitor.
type Capture interface {
	Info() *videoworker.CaptureInfo
	Done() <-chan struct{}
	Outcome() videoworker.ExitOutcome
	RequestStop() bool
}

type Spawner interface {
	Spawn(roomID int64, stream *interfaces.StreamDescriptor, source *config.SourceConfig) (Capture, error)
}

// SupervisorSpawner adapts videoworker.Supervisor to Spawner.
type SupervisorSpawner struct {
	Supervisor *videoworker.Supervisor
}

func (s SupervisorSpawner) Spawn(roomID int64, stream *interfaces.StreamDescriptor, source *config.SourceConfig) (Capture, error) {
	p, err := s.Supervisor.Spawn(roomID, stream, source)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func exited(c Capture) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// Monitor watches one source: every interval it polls the status api while no
// capture is running, resolves the stream once the source is on air and hands
// it to ffmpeg.
type Monitor struct {
	Source   *config.SourceConfig
	resolver monitor.Resolver
	spawner  Spawner
	plugins  *videoworker.PluginManager
	interval time.Duration

	lock    sync.Mutex
	state   State
	started bool
	cancel  context.CancelFunc
	// nil, or a capture whose exit has not been handled yet
	capture Capture
}

func NewMonitor(source *config.SourceConfig, resolver monitor.Resolver, spawner Spawner, plugins *videoworker.PluginManager) *Monitor {
	interval := source.Interval
	if interval <= 0 {
		interval = config.DefaultInterval
	}
	return &Monitor{
		Source:   source,
		resolver: resolver,
		spawner:  spawner,
		plugins:  plugins,
		interval: time.Duration(interval) * time.Second,
		state:    StateIdle,
	}
}

func (m *Monitor) State() State {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.state
}

// Start begins ticking; the first poll happens one interval from now.
func (m *Monitor) Start() {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.started || m.state == StateStopped {
		return
	}
	m.started = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(ctx)
	log.WithField("source", m.Source).Infof("Starting recorder for %s", m.Source.Tag())
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.tick(ctx)
		// a tick that overran the interval must not cause an immediate extra one
		select {
		case <-ticker.C:
		default:
		}
	}
}

// Stop cancels the timer and any in-flight request, and asks a running
// capture to quit. Safe to call in any state and more than once.
func (m *Monitor) Stop() {
	m.lock.Lock()
	if m.state == StateStopped {
		m.lock.Unlock()
		return
	}
	m.state = StateStopped
	if m.cancel != nil {
		m.cancel()
	}
	capture := m.capture
	m.lock.Unlock()

	log.WithField("source", m.Source).Warnf("Stopping monitor for %s", m.Source.Tag())
	if capture != nil && !exited(capture) {
		capture.RequestStop()
	}
}

// Wait blocks until the current capture, if any, has exited.
func (m *Monitor) Wait(ctx context.Context) error {
	m.lock.Lock()
	capture := m.capture
	m.lock.Unlock()
	if capture == nil {
		return nil
	}
	select {
	case <-capture.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// transition moves to next unless the monitor was stopped meanwhile.
func (m *Monitor) transition(next State) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.state == StateStopped {
		return false
	}
	m.state = next
	return true
}

func (m *Monitor) tick(ctx context.Context) {
	m.lock.Lock()
	if m.state == StateStopped {
		m.lock.Unlock()
		return
	}
	if m.capture != nil {
		if !exited(m.capture) {
			m.lock.Unlock()
			return
		}
		m.capture = nil
	}
	m.state = StatePolling
	m.lock.Unlock()

	logger := log.WithField("source", m.Source)
	status, err := m.resolver.ResolveStatus(ctx, m.Source)
	if err != nil {
		m.logError(ctx, logger, err)
		m.transition(StateIdle)
		return
	}
	if !status.IsLive {
		m.transition(StateIdle)
		return
	}

	if !m.transition(StateResolving) {
		return
	}
	stream, err := m.resolver.ResolveStream(ctx, status.RoomID, m.Source.Quality)
	if err != nil {
		m.logError(ctx, logger, err)
		m.transition(StateIdle)
		return
	}
	logger.Debugf("Resolved room %d at quality %d, checkpoint %d", status.RoomID, stream.NegotiatedQuality, stream.CheckpointTimestamp)

	m.lock.Lock()
	if m.state == StateStopped || ctx.Err() != nil {
		m.lock.Unlock()
		return
	}
	capture, err := m.spawner.Spawn(status.RoomID, stream, m.Source)
	if err != nil {
		m.state = StateIdle
		m.lock.Unlock()
		logger.WithError(err).Errorf("Failed to start recorder")
		return
	}
	m.capture = capture
	m.state = StateRecording
	m.lock.Unlock()

	go m.observe(capture)
}

func (m *Monitor) observe(capture Capture) {
	m.plugins.OnCaptureStart(capture.Info())
	outcome := capture.Outcome()

	m.lock.Lock()
	if m.capture == capture {
		m.capture = nil
		if m.state == StateRecording {
			m.state = StateIdle
		}
	}
	m.lock.Unlock()

	m.plugins.OnCaptureEnd(capture.Info(), outcome)
}

func (m *Monitor) logError(ctx context.Context, logger *log.Entry, err error) {
	if ctx.Err() != nil {
		// stopped while the request was in flight
		return
	}
	var tErr *base.TransportError
	var apiErr *base.ApiError
	switch {
	case errors.As(err, &tErr):
		logger.WithError(err).Warnf("Request failed")
	case errors.Is(err, bilibili.ErrQualityNegotiationFailed):
		logger.WithError(err).Warnf("Stream quality did not settle, retrying next tick")
	case errors.As(err, &apiErr):
		logger.Errorf("%s", err)
	default:
		logger.WithError(err).Errorf("Bad config")
	}
}
