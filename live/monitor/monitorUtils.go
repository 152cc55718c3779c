package monitor

import (
	"time"

	"github.com/fzxiao233/Bili_Record/config"
	"github.com/fzxiao233/Bili_Record/live/monitor/base"
	"github.com/fzxiao233/Bili_Record/live/monitor/bilibili"
)

// Resolver is everything a monitor asks of the remote API.
type Resolver interface {
	base.StatusResolver
	base.StreamResolver
}

// CreateResolver gives each source its own ctx: http client, headers and limiter.
func CreateResolver(source *config.SourceConfig, mainConfig *config.MainConfig) Resolver {
	ctx := base.CreateMonitorCtx(source, mainConfig)
	return bilibili.New(ctx, source.Hls, time.Duration(mainConfig.QualityCacheSec)*time.Second)
}
