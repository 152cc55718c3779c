package base

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fzxiao233/Bili_Record/config"
	"github.com/fzxiao233/Bili_Record/live/interfaces"
	"github.com/fzxiao233/Bili_Record/utils"
	"github.com/tidwall/gjson"
	"go.uber.org/ratelimit"
)

const ApiTimeout = 5 * time.Second

// TransportError is a failed round trip: timeout, refused connection, broken body.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ApiError is what every failed API call collapses into. Err holds the
// underlying *TransportError or *utils.HttpStatusError when there is one.
type ApiError struct {
	Detail string
	Code   int
	Err    error
}

func (e *ApiError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("API returned a bad status code %d %s", e.Code, e.Detail)
	}
	return e.Detail
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

type StatusResolver interface {
	ResolveStatus(ctx context.Context, source *config.SourceConfig) (interfaces.LiveStatus, error)
}

type StreamResolver interface {
	ResolveStream(ctx context.Context, roomID int64, preferredQuality int) (*interfaces.StreamDescriptor, error)
}

// MonitorCtx holds the per-source http client, headers and rate limiter.
type MonitorCtx struct {
	Client  *http.Client
	Headers map[string]string
	ApiHost string
	Timeout time.Duration
	limiter ratelimit.Limiter
}

// CreateMonitorCtx builds the ctx for one source. Every source gets its own
// limiter so a noisy source can't starve the others.
func CreateMonitorCtx(source *config.SourceConfig, mainConfig *config.MainConfig) *MonitorCtx {
	return &MonitorCtx{
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Headers: source.Headers,
		ApiHost: strings.TrimSuffix(mainConfig.ApiHostUrl, "/"),
		Timeout: ApiTimeout,
		limiter: ratelimit.New(mainConfig.ApiRateLimit),
	}
}

// HttpGet wraps the raw HttpGet with the source's headers and the fixed timeout.
func (c *MonitorCtx) HttpGet(ctx context.Context, url string) ([]byte, error) {
	if c.limiter != nil {
		c.limiter.Take()
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = ApiTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return utils.HttpGet(ctx, c.Client, url, c.Headers)
}

// CallAPI requests path on the API host and returns the envelope's data field.
func (c *MonitorCtx) CallAPI(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	target := c.ApiHost + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	body, err := c.HttpGet(ctx, target)
	if err != nil {
		var statusErr *utils.HttpStatusError
		if errors.As(err, &statusErr) {
			return gjson.Result{}, &ApiError{
				Detail: fmt.Sprintf("API returned with code %d %s", statusErr.StatusCode, statusErr.Body),
				Err:    err,
			}
		}
		tErr := &TransportError{Err: err}
		return gjson.Result{}, &ApiError{Detail: tErr.Error(), Err: tErr}
	}
	return DecodeEnvelope(body)
}

// DecodeEnvelope unpacks {code, message, data}; a non-zero code is an ApiError.
func DecodeEnvelope(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &ApiError{Detail: fmt.Sprintf("Error when parsing response data %s", utils.Truncate(string(body), 256))}
	}
	resp := gjson.ParseBytes(body)
	code := resp.Get("code")
	if !code.Exists() {
		return gjson.Result{}, &ApiError{Detail: fmt.Sprintf("Response has no code field %s", utils.Truncate(string(body), 256))}
	}
	if code.Int() != 0 {
		msg := resp.Get("message").String()
		if msg == "" {
			msg = resp.Get("msg").String()
		}
		return gjson.Result{}, &ApiError{Code: int(code.Int()), Detail: msg}
	}
	data := resp.Get("data")
	if !data.Exists() || data.Type == gjson.Null {
		return gjson.Result{}, &ApiError{Detail: "Response has no data field"}
	}
	return data, nil
}
