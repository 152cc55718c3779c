package bilibili

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/bitly/go-simplejson"
	"github.com/fzxiao233/Bili_Record/config"
	"github.com/fzxiao233/Bili_Record/live/interfaces"
	"github.com/fzxiao233/Bili_Record/live/monitor/base"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	GET_ROOM_BY_UID  = "/room/v1/Room/getRoomInfoOld"
	GET_ROOM_BY_ROOM = "/xlive/web-room/v1/index/getInfoByRoom"
	PLAY_URL         = "/room/v1/Room/playUrl"
)

var ErrQualityNegotiationFailed = errors.New("quality negotiation failed")

// Bilibili resolves live status and stream urls for a single source.
type Bilibili struct {
	Ctx *base.MonitorCtx
	Hls bool

	// roomID -> last negotiated quality
	qualities *cache.Cache
}

func New(ctx *base.MonitorCtx, hls bool, qualityTTL time.Duration) *Bilibili {
	if qualityTTL <= 0 {
		qualityTTL = 10 * time.Minute
	}
	return &Bilibili{
		Ctx:       ctx,
		Hls:       hls,
		qualities: cache.New(qualityTTL, 2*qualityTTL),
	}
}

func toSimpleJson(data gjson.Result) (*simplejson.Json, error) {
	js, err := simplejson.NewJson([]byte(data.Raw))
	if err != nil {
		return nil, &base.ApiError{Detail: fmt.Sprintf("Error when parsing response data %s", data.Raw), Err: err}
	}
	return js, nil
}

// ResolveStatus polls the endpoint matching the source kind.
func (b *Bilibili) ResolveStatus(ctx context.Context, source *config.SourceConfig) (interfaces.LiveStatus, error) {
	if source.Id == "" {
		return interfaces.NotLive(), fmt.Errorf("Bad config 'id': empty")
	}
	switch source.Kind() {
	case config.KindSpace:
		return b.statusBySpace(ctx, source)
	case config.KindLiveRoom:
		return b.statusByRoom(ctx, source)
	default:
		return interfaces.NotLive(), fmt.Errorf("Bad config 'type': %q", source.Type)
	}
}

func (b *Bilibili) statusBySpace(ctx context.Context, source *config.SourceConfig) (interfaces.LiveStatus, error) {
	data, err := b.Ctx.CallAPI(ctx, GET_ROOM_BY_UID, url.Values{
		"mid":   {source.Id},
		"jsonp": {"jsonp"},
	})
	if err != nil {
		return interfaces.NotLive(), err
	}
	infoJson, err := toSimpleJson(data)
	if err != nil {
		return interfaces.NotLive(), err
	}
	logger := log.WithField("source", source)
	if infoJson.Get("roomStatus").MustInt() != 1 {
		logger.Debugf("Live room not found")
		return interfaces.NotLive(), nil
	}
	roomID, err := infoJson.Get("roomid").Int64()
	if err != nil {
		return interfaces.NotLive(), &base.ApiError{Detail: fmt.Sprintf("Bad roomid in %s", data.Raw), Err: err}
	}
	if infoJson.Get("liveStatus").MustInt() != 1 {
		logger.Debugf("Found live room with id %d but not on air", roomID)
		return interfaces.NotLive(), nil
	}
	logger.Infof("Found live room with id %d on air", roomID)
	return interfaces.LiveAt(roomID), nil
}

func (b *Bilibili) statusByRoom(ctx context.Context, source *config.SourceConfig) (interfaces.LiveStatus, error) {
	data, err := b.Ctx.CallAPI(ctx, GET_ROOM_BY_ROOM, url.Values{
		"room_id": {source.Id},
	})
	if err != nil {
		return interfaces.NotLive(), err
	}
	infoJson, err := toSimpleJson(data)
	if err != nil {
		return interfaces.NotLive(), err
	}
	roomInfo, ok := infoJson.CheckGet("room_info")
	if !ok {
		return interfaces.NotLive(), &base.ApiError{Detail: fmt.Sprintf("No room_info in %s", data.Raw)}
	}
	roomID, err := roomInfo.Get("room_id").Int64()
	if err != nil {
		return interfaces.NotLive(), &base.ApiError{Detail: fmt.Sprintf("Bad room_id in %s", data.Raw), Err: err}
	}
	logger := log.WithField("source", source)
	if roomInfo.Get("live_status").MustInt() != 1 {
		logger.Debugf("Found live room with id %d but not on air", roomID)
		return interfaces.NotLive(), nil
	}
	logger.Infof("Found live room with id %d on air", roomID)
	return interfaces.LiveAt(roomID), nil
}

func (b *Bilibili) platform() string {
	if b.Hls {
		return "h5"
	}
	return "web"
}

type playUrl struct {
	current int
	accept  []int
	urls    []string
}

func (b *Bilibili) requestPlayUrl(ctx context.Context, roomID int64, quality int) (*playUrl, error) {
	data, err := b.Ctx.CallAPI(ctx, PLAY_URL, url.Values{
		"cid":      {strconv.FormatInt(roomID, 10)},
		"platform": {b.platform()},
		"otype":    {"json"},
		"quality":  {strconv.Itoa(quality)},
	})
	if err != nil {
		return nil, err
	}
	ret := &playUrl{current: int(data.Get("current_quality").Int())}
	for _, q := range data.Get("accept_quality").Array() {
		ret.accept = append(ret.accept, int(q.Int()))
	}
	for _, u := range data.Get("durl.#.url").Array() {
		ret.urls = append(ret.urls, u.String())
	}
	if len(ret.accept) == 0 {
		return nil, &base.ApiError{Detail: fmt.Sprintf("No accept_quality in %s", data.Raw)}
	}
	if len(ret.urls) == 0 || ret.urls[0] == "" {
		return nil, &base.ApiError{Detail: fmt.Sprintf("No durl in %s", data.Raw)}
	}
	return ret, nil
}

// ResolveStream asks for a play url at preferredQuality. When the server
// answers with a quality other than the best one it accepts, the request is
// repeated once with that quality; a second mismatch is a failure.
func (b *Bilibili) ResolveStream(ctx context.Context, roomID int64, preferredQuality int) (*interfaces.StreamDescriptor, error) {
	key := strconv.FormatInt(roomID, 10)
	quality := preferredQuality
	if q, ok := b.qualities.Get(key); ok {
		quality = q.(int)
	}

	var ret *playUrl
	for attempt := 0; ; attempt++ {
		var err error
		ret, err = b.requestPlayUrl(ctx, roomID, quality)
		if err != nil {
			return nil, err
		}
		if ret.current == ret.accept[0] {
			break
		}
		if attempt >= 1 {
			return nil, fmt.Errorf("%w: requested %d, got %d, accepts %v", ErrQualityNegotiationFailed, quality, ret.current, ret.accept)
		}
		log.Debugf("Room %d quality %d is not the best %d, renegotiating", roomID, ret.current, ret.accept[0])
		quality = ret.accept[0]
	}
	b.qualities.Set(key, ret.current, cache.DefaultExpiration)

	return &interfaces.StreamDescriptor{
		Url:                 ret.urls[0],
		NegotiatedQuality:   ret.current,
		CheckpointTimestamp: checkpointOf(ret.urls[0]),
	}, nil
}

func checkpointOf(streamUrl string) int64 {
	u, err := url.Parse(streamUrl)
	if err != nil {
		return 0
	}
	ts, err := strconv.ParseInt(u.Query().Get("wsTime"), 10, 64)
	if err != nil {
		return 0
	}
	return ts
}
