package live

import (
	"context"

	"github.com/fzxiao233/Bili_Record/config"
	"github.com/fzxiao233/Bili_Record/live/monitor"
	"github.com/fzxiao233/Bili_Record/live/videoworker"
	"golang.org/x/sync/errgroup"
)

// MonitorSet starts and stops every configured monitor together.
type MonitorSet struct {
	monitors []*Monitor
}

// NewMonitorSet builds one monitor per task. Monitors share nothing but the
// stateless ffmpeg supervisor and the plugin list.
func NewMonitorSet(mainConfig *config.MainConfig, plugins *videoworker.PluginManager) *MonitorSet {
	set := &MonitorSet{}
	spawner := SupervisorSpawner{Supervisor: videoworker.NewSupervisor(mainConfig)}
	for i := range mainConfig.Tasks {
		source := &mainConfig.Tasks[i]
		set.Add(NewMonitor(source, monitor.CreateResolver(source, mainConfig), spawner, plugins))
	}
	return set
}

func (s *MonitorSet) Add(m *Monitor) {
	s.monitors = append(s.monitors, m)
}

func (s *MonitorSet) Monitors() []*Monitor {
	return s.monitors
}

func (s *MonitorSet) Start() {
	for _, m := range s.monitors {
		m.Start()
	}
}

func (s *MonitorSet) Stop() {
	for _, m := range s.monitors {
		m.Stop()
	}
}

// Wait returns once every running capture has exited, or ctx is done.
func (s *MonitorSet) Wait(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range s.monitors {
		m := m
		g.Go(func() error {
			return m.Wait(gctx)
		})
	}
	return g.Wait()
}
