package plugins

import (
	"github.com/bitly/go-simplejson"
	"github.com/fzxiao233/Bili_Record/live/videoworker"
	"github.com/go-redis/redis"
	log "github.com/sirupsen/logrus"
)

type PublishFunc func(channel string, data []byte) error

// PluginPublisher announces capture start / end on a pubsub channel.
type PluginPublisher struct {
	Channel string
	Publish PublishFunc
}

func NewRedisPublisher(host string, channel string) *PluginPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     host,
		Password: "",
		DB:       0,
	})
	return &PluginPublisher{
		Channel: channel,
		Publish: func(channel string, data []byte) error {
			return client.Publish(channel, data).Err()
		},
	}
}

func captureEvent(event string, info *videoworker.CaptureInfo) *simplejson.Json {
	js := simplejson.New()
	js.Set("event", event)
	js.Set("type", info.Source.Kind().String())
	js.Set("id", info.Source.Id)
	js.Set("name", info.Source.Name)
	js.Set("room_id", info.RoomID)
	js.Set("path", info.FilePath)
	js.Set("start_time", info.StartedAt.Unix())
	if info.Stream != nil {
		js.Set("quality", info.Stream.NegotiatedQuality)
		js.Set("checkpoint", info.Stream.CheckpointTimestamp)
	}
	return js
}

func (p *PluginPublisher) send(js *simplejson.Json) error {
	data, err := js.MarshalJSON()
	if err != nil {
		return err
	}
	log.Debug(string(data))
	return p.Publish(p.Channel, data)
}

func (p *PluginPublisher) CaptureStart(info *videoworker.CaptureInfo) error {
	return p.send(captureEvent("capture_start", info))
}

func (p *PluginPublisher) CaptureEnd(info *videoworker.CaptureInfo, outcome videoworker.ExitOutcome) error {
	js := captureEvent("capture_end", info)
	js.Set("outcome", outcome.Kind.String())
	if outcome.Err != nil {
		js.Set("error", outcome.Err.Error())
	}
	return p.send(js)
}
