package bilibili

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/fzxiao233/Bili_Record/config"
	"github.com/fzxiao233/Bili_Record/live/interfaces"
	"github.com/fzxiao233/Bili_Record/live/monitor/base"
)

type fakeApi struct {
	srv  *httptest.Server
	lock sync.Mutex
	reqs []*http.Request
}

func newFakeApi(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *fakeApi {
	f := &fakeApi{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.lock.Lock()
		f.reqs = append(f.reqs, r)
		f.lock.Unlock()
		handler(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeApi) requests() []*http.Request {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]*http.Request{}, f.reqs...)
}

func (f *fakeApi) bilibili(hls bool) *Bilibili {
	source := &config.SourceConfig{Type: "live", Id: "1"}
	ctx := base.CreateMonitorCtx(source, &config.MainConfig{ApiHostUrl: f.srv.URL, ApiRateLimit: 1000})
	ctx.Client = f.srv.Client()
	return New(ctx, hls, 0)
}

func TestResolveStatus(t *testing.T) {
	tests := []struct {
		name    string
		source  config.SourceConfig
		path    string
		body    string
		want    interfaces.LiveStatus
		wantErr bool
	}{
		{"space on air", config.SourceConfig{Type: "space", Id: "2"}, GET_ROOM_BY_UID,
			`{"code":0,"data":{"roomStatus":1,"liveStatus":1,"roomid":5440}}`, interfaces.LiveAt(5440), false},
		{"space off air", config.SourceConfig{Type: "space", Id: "2"}, GET_ROOM_BY_UID,
			`{"code":0,"data":{"roomStatus":1,"liveStatus":0,"roomid":5440}}`, interfaces.NotLive(), false},
		{"space no room", config.SourceConfig{Type: "space", Id: "2"}, GET_ROOM_BY_UID,
			`{"code":0,"data":{"roomStatus":0,"liveStatus":0,"roomid":0}}`, interfaces.NotLive(), false},
		{"room on air", config.SourceConfig{Type: "live", Id: "123"}, GET_ROOM_BY_ROOM,
			`{"code":0,"data":{"room_info":{"room_id":123,"live_status":1}}}`, interfaces.LiveAt(123), false},
		{"room rotating", config.SourceConfig{Type: "live", Id: "123"}, GET_ROOM_BY_ROOM,
			`{"code":0,"data":{"room_info":{"room_id":123,"live_status":2}}}`, interfaces.NotLive(), false},
		{"room api error", config.SourceConfig{Type: "live", Id: "123"}, GET_ROOM_BY_ROOM,
			`{"code":19002000,"message":"获取初始化数据失败","data":{}}`, interfaces.NotLive(), true},
		{"room missing info", config.SourceConfig{Type: "live", Id: "123"}, GET_ROOM_BY_ROOM,
			`{"code":0,"data":{"anchor_info":{}}}`, interfaces.NotLive(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeApi(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.path {
					t.Errorf("requested %s, want %s", r.URL.Path, tt.path)
				}
				_, _ = w.Write([]byte(tt.body))
			})
			got, err := api.bilibili(false).ResolveStatus(context.Background(), &tt.source)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveStatus() err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ResolveStatus() = %v, want %v", got, tt.want)
			}
			q := api.requests()[0].URL.Query()
			if tt.source.Kind() == config.KindSpace && q.Get("mid") != tt.source.Id {
				t.Errorf("mid = %s", q.Get("mid"))
			}
			if tt.source.Kind() == config.KindLiveRoom && q.Get("room_id") != tt.source.Id {
				t.Errorf("room_id = %s", q.Get("room_id"))
			}
		})
	}
}

func TestResolveStatusBadConfig(t *testing.T) {
	api := newFakeApi(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s", r.URL)
	})
	b := api.bilibili(false)
	for _, source := range []config.SourceConfig{{Type: "video", Id: "1"}, {Type: "live"}} {
		if _, err := b.ResolveStatus(context.Background(), &source); err == nil {
			t.Errorf("ResolveStatus(%+v) should fail", source)
		}
	}
}

func playUrlBody(current int, accept []int, url string) string {
	acc := ""
	for i, q := range accept {
		if i > 0 {
			acc += ","
		}
		acc += fmt.Sprint(q)
	}
	return fmt.Sprintf(`{"code":0,"data":{"current_quality":%d,"accept_quality":[%s],"durl":[{"url":%q},{"url":"https://backup/live.flv"}]}}`, current, acc, url)
}

func TestResolveStreamMatch(t *testing.T) {
	api := newFakeApi(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(playUrlBody(0, []int{0}, "https://cn-gotcha.bilivideo.com/live.flv?expires=1&wsTime=1590000000")))
	})
	desc, err := api.bilibili(true).ResolveStream(context.Background(), 123, 0)
	if err != nil {
		t.Fatalf("ResolveStream() err: %v", err)
	}
	if desc.Url != "https://cn-gotcha.bilivideo.com/live.flv?expires=1&wsTime=1590000000" || desc.CheckpointTimestamp != 1590000000 || desc.NegotiatedQuality != 0 {
		t.Errorf("unexpected descriptor %+v", desc)
	}
	reqs := api.requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	q := reqs[0].URL.Query()
	if reqs[0].URL.Path != PLAY_URL || q.Get("cid") != "123" || q.Get("platform") != "h5" || q.Get("otype") != "json" || q.Get("quality") != "0" {
		t.Errorf("unexpected request %s", reqs[0].URL)
	}
}

func TestResolveStreamRenegotiatesOnce(t *testing.T) {
	api := newFakeApi(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("quality") == "4" {
			_, _ = w.Write([]byte(playUrlBody(4, []int{4, 3}, "https://a/live.flv")))
			return
		}
		_, _ = w.Write([]byte(playUrlBody(3, []int{4, 3}, "https://a/low.flv")))
	})
	b := api.bilibili(false)
	desc, err := b.ResolveStream(context.Background(), 9, 0)
	if err != nil {
		t.Fatalf("ResolveStream() err: %v", err)
	}
	if desc.NegotiatedQuality != 4 || desc.Url != "https://a/live.flv" || desc.CheckpointTimestamp != 0 {
		t.Errorf("unexpected descriptor %+v", desc)
	}
	if n := len(api.requests()); n != 2 {
		t.Fatalf("got %d requests, want 2", n)
	}

	// the negotiated quality is remembered for the room
	if _, err := b.ResolveStream(context.Background(), 9, 0); err != nil {
		t.Fatalf("ResolveStream() err: %v", err)
	}
	reqs := api.requests()
	if len(reqs) != 3 || reqs[2].URL.Query().Get("quality") != "4" {
		t.Errorf("cached quality not used: %d requests", len(reqs))
	}
}

func TestResolveStreamNegotiationBound(t *testing.T) {
	api := newFakeApi(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(playUrlBody(2, []int{5}, "https://a/live.flv")))
	})
	_, err := api.bilibili(false).ResolveStream(context.Background(), 1, 0)
	if !errors.Is(err, ErrQualityNegotiationFailed) {
		t.Fatalf("ResolveStream() err = %v, want ErrQualityNegotiationFailed", err)
	}
	reqs := api.requests()
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want exactly 2", len(reqs))
	}
	if reqs[0].URL.Query().Get("quality") != "0" || reqs[1].URL.Query().Get("quality") != "5" {
		t.Errorf("unexpected qualities %s, %s", reqs[0].URL.Query().Get("quality"), reqs[1].URL.Query().Get("quality"))
	}
}

func TestResolveStreamMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no durl", `{"code":0,"data":{"current_quality":4,"accept_quality":[4],"durl":[]}}`},
		{"no accept", `{"code":0,"data":{"current_quality":4,"durl":[{"url":"https://a"}]}}`},
		{"http error", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeApi(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.body == "" {
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := api.bilibili(false).ResolveStream(context.Background(), 1, 0)
			var apiErr *base.ApiError
			if !errors.As(err, &apiErr) {
				t.Errorf("ResolveStream() err = %v, want ApiError", err)
			}
		})
	}
}

func TestCheckpointOf(t *testing.T) {
	tests := []struct {
		url  string
		want int64
	}{
		{"https://a/live.flv?wsTime=1590000000&wsSecret=x", 1590000000},
		{"https://a/live.flv?wsTime=abc", 0},
		{"https://a/live.flv", 0},
		{"://bad", 0},
	}
	for _, tt := range tests {
		if got := checkpointOf(tt.url); got != tt.want {
			t.Errorf("checkpointOf(%s) = %d, want %d", tt.url, got, tt.want)
		}
	}
}
