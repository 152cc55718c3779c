package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fzxiao233/Bili_Record/config"
	"github.com/fzxiao233/Bili_Record/live"
	"github.com/fzxiao233/Bili_Record/live/plugins"
	"github.com/fzxiao233/Bili_Record/live/videoworker"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func watchConfig() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		ret, err := config.ReloadConfig()
		if !ret {
			continue
		}
		if err == nil {
			log.Infof("Config changed! New log level: %s", log.GetLevel())
		} else {
			log.Warnf("Config changed but loading failed: %s", err)
		}
	}
}

func main() {
	configPath := flag.StringP("config", "c", "", "config file (json, yaml or toml)")
	flag.BoolP("debug", "d", false, "log debug messages")
	flag.Parse()
	_ = viper.BindPFlag("Debug", flag.Lookup("debug"))

	if err := config.InitConfig(*configPath); err != nil {
		stdlog.Fatalf("%s", err)
	}
	config.InitLog()
	go watchConfig()

	pm := &videoworker.PluginManager{}
	if config.Config.RedisHost != "" {
		pm.AddPlugin(plugins.NewRedisPublisher(config.Config.RedisHost, config.Config.EventChannel))
	}

	set := live.NewMonitorSet(config.Config, pm)
	if len(set.Monitors()) == 0 {
		log.Warnf("No tasks configured")
	}
	set.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	// Exit without damaging files
	log.Warnf("Received %v, exiting...", sig)
	set.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(config.Config.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := set.Wait(ctx); err != nil {
		log.WithError(err).Warnf("Some recorders did not exit in time")
	}
}
