package videoworker

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

type PluginCallback interface {
	CaptureStart(info *CaptureInfo) error
	CaptureEnd(info *CaptureInfo, outcome ExitOutcome) error
}

type PluginManager struct {
	plugins []PluginCallback
}

func (p *PluginManager) AddPlugin(plug PluginCallback) {
	p.plugins = append(p.plugins, plug)
}

func (p *PluginManager) each(call func(plug PluginCallback) error) {
	if p == nil {
		return
	}
	var wg sync.WaitGroup
	wg.Add(len(p.plugins))
	for _, plug := range p.plugins {
		go func(plug PluginCallback) {
			defer wg.Done()
			if err := call(plug); err != nil {
				log.WithError(err).Warnf("Plugin %T failed", plug)
			}
		}(plug)
	}
	wg.Wait()
}

func (p *PluginManager) OnCaptureStart(info *CaptureInfo) {
	p.each(func(plug PluginCallback) error {
		return plug.CaptureStart(info)
	})
}

func (p *PluginManager) OnCaptureEnd(info *CaptureInfo, outcome ExitOutcome) {
	p.each(func(plug PluginCallback) error {
		return plug.CaptureEnd(info, outcome)
	})
}
