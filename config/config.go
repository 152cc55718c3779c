package config

import (
	"fmt"
	"log"
	"reflect"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var Config *MainConfig

// set by the fsnotify watcher goroutine
var configChanged int32

// SourceKind selects which status endpoint a source is polled with.
type SourceKind int

const (
	KindUnknown SourceKind = iota
	KindSpace
	KindLiveRoom
)

func (k SourceKind) String() string {
	switch k {
	case KindSpace:
		return "space"
	case KindLiveRoom:
		return "live"
	default:
		return "unknown"
	}
}

func ParseSourceKind(s string) SourceKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "space":
		return KindSpace
	case "live":
		return KindLiveRoom
	default:
		return KindUnknown
	}
}

var DefaultFfmpegArguments = []string{"-y", "-vcodec", "copy", "-acodec", "copy"}

var DefaultHeaders = map[string]string{
	"User-Agent":   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/80.0.3987.122 Safari/537.36",
	"Content-Type": "application/json",
}

const DefaultInterval = 5

type SourceConfig struct {
	Type                      string
	Id                        string
	Name                      string
	Interval                  int
	Hls                       bool
	Quality                   int
	AdditionalFfmpegArguments []string
	Headers                   map[string]string
	ExtraConfig               map[string]interface{}
}

func (s *SourceConfig) Kind() SourceKind {
	return ParseSourceKind(s.Type)
}

// Tag identifies the source in file names and log lines, e.g. "live-123".
func (s *SourceConfig) Tag() string {
	return fmt.Sprintf("%s-%s", s.Type, s.Id)
}

func (s *SourceConfig) UserAgent() string {
	if ua, ok := s.Headers["User-Agent"]; ok && ua != "" {
		return ua
	}
	return DefaultHeaders["User-Agent"]
}

type MainConfig struct {
	Debug              bool
	LogLevel           string
	LogFile            string
	LogFileSize        int
	LogToConsole       bool
	EnableStackdriver  bool
	DataDir            string
	FfmpegPath         string
	RecordFormat       string
	ApiHostUrl         string
	ApiRateLimit       int
	QualityCacheSec    int
	RedisHost          string
	EventChannel       string
	ShutdownTimeoutSec int
	Tasks              []SourceConfig
	ExtraConfig        map[string]interface{}
}

func (c *MainConfig) RecordsDir() string {
	return c.DataDir + "/records"
}

func (c *MainConfig) LogsDir() string {
	return c.DataDir + "/logs"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFile", "main.log")
	v.SetDefault("LogFileSize", 100)
	v.SetDefault("LogToConsole", true)
	v.SetDefault("DataDir", "./data")
	v.SetDefault("FfmpegPath", "ffmpeg")
	v.SetDefault("RecordFormat", "mp4")
	v.SetDefault("ApiHostUrl", "https://api.live.bilibili.com")
	v.SetDefault("ApiRateLimit", 2)
	v.SetDefault("QualityCacheSec", 600)
	v.SetDefault("EventChannel", "bili_record")
	v.SetDefault("ShutdownTimeoutSec", 30)
}

// InitConfig reads the config file once and starts watching it for changes.
func InitConfig(path string) error {
	log.Print("Init config!")
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("BILIREC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("config file error: %w", err)
	}
	atomic.StoreInt32(&configChanged, 1)
	if _, err := ReloadConfig(); err != nil {
		return err
	}

	viper.WatchConfig()
	viper.OnConfigChange(func(in fsnotify.Event) {
		atomic.StoreInt32(&configChanged, 1)
	})
	return nil
}

// ReloadConfig decodes the current viper state into Config if the file changed.
func ReloadConfig() (bool, error) {
	if !atomic.CompareAndSwapInt32(&configChanged, 1, 0) {
		return false, nil
	}
	if err := viper.ReadInConfig(); err != nil {
		return true, err
	}
	config, err := Decode(viper.GetViper())
	if err != nil {
		return true, err
	}
	if Config != nil && !reflect.DeepEqual(Config.Tasks, config.Tasks) {
		logrus.Warnf("Task list changed, restart to apply it")
		config.Tasks = Config.Tasks
	}
	Config = config
	UpdateLogLevel()
	return true, nil
}

// Decode unmarshals v into a validated MainConfig.
func Decode(v *viper.Viper) (*MainConfig, error) {
	config := &MainConfig{}
	err := v.Unmarshal(config, func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = mapstructure.ComposeDecodeHookFunc(extraConfigHook, c.DecodeHook)
	})
	if err != nil {
		return nil, fmt.Errorf("struct config error: %w", err)
	}
	config.Validate()
	return config, nil
}

// extraConfigHook stashes keys which have no matching struct field into ExtraConfig.
func extraConfigHook(inType reflect.Type, outType reflect.Type, input interface{}) (interface{}, error) {
	if inType.Kind() != reflect.Map || outType.Kind() != reflect.Struct {
		return input, nil
	}
	inputMap, ok := input.(map[string]interface{})
	if !ok {
		return input, nil
	}
	fieldsMap := make(map[string]reflect.StructField, outType.NumField())
	for i := 0; i < outType.NumField(); i++ {
		fieldsMap[strings.ToLower(outType.Field(i).Name)] = outType.Field(i)
	}
	if _, ok := fieldsMap["extraconfig"]; !ok {
		return input, nil
	}
	extraConfig := make(map[string]interface{}, 5)
	for key := range inputMap {
		if _, ok := fieldsMap[strings.ToLower(key)]; !ok {
			extraConfig[key] = inputMap[key]
		}
	}
	inputMap["ExtraConfig"] = extraConfig
	return inputMap, nil
}

// Validate fills defaults on every task. Problems that make a task unusable
// (unknown type, empty id) are left in place and reported by its monitor on
// every tick, so healthy tasks keep running.
func (c *MainConfig) Validate() {
	if c.ApiRateLimit <= 0 {
		c.ApiRateLimit = 2
	}
	if c.ShutdownTimeoutSec <= 0 {
		c.ShutdownTimeoutSec = 30
	}
	for i := range c.Tasks {
		task := &c.Tasks[i]
		if task.Interval <= 0 {
			logrus.Warnf("%s Bad interval %d, using %d", task.Tag(), task.Interval, DefaultInterval)
			task.Interval = DefaultInterval
		}
		if task.AdditionalFfmpegArguments == nil {
			task.AdditionalFfmpegArguments = append([]string{}, DefaultFfmpegArguments...)
		}
		headers := make(map[string]string, len(DefaultHeaders)+len(task.Headers))
		for k, v := range DefaultHeaders {
			headers[k] = v
		}
		for k, v := range task.Headers {
			headers[canonicalHeaderKey(k)] = v
		}
		task.Headers = headers
	}
}

// viper lowercases nested map keys, restore the usual header spelling.
func canonicalHeaderKey(k string) string {
	parts := strings.Split(strings.ToLower(k), "-")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "-")
}

func UpdateLogLevel() {
	level := logrus.InfoLevel
	switch Config.LogLevel {
	case "debug":
		level = logrus.DebugLevel
	case "info":
		level = logrus.InfoLevel
	case "warn":
		level = logrus.WarnLevel
	case "error":
		level = logrus.ErrorLevel
	}
	if Config.Debug {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
	if ConsoleHook != nil {
		ConsoleHook.LogLevel = level
	}
	log.Printf("Set log level to %s", level)
}
