package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andrejsstepanovs/zuul-build/metrics"
	"github.com/andrejsstepanovs/zuul-build/models"
	fastshot "github.com/opus-domini/fast-shot"
)

const (
	// DefaultPageSize is the number of builds requested per page.
	DefaultPageSize = 20

	defaultTimeout = time.Minute
	maxErrorBody   = 256
)

// Client queries a zuul-web tenant API. It is safe for concurrent use.
type Client struct {
	http     fastshot.ClientHttpMethods
	api      *url.URL
	recorder metrics.Recorder
	logger   *slog.Logger
}

type clientConfig struct {
	timeout   time.Duration
	token     string
	userAgent string
	recorder  metrics.Recorder
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*clientConfig)

// WithTimeout sets the per-request timeout. Default is one minute.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.timeout = d
	}
}

// WithToken authenticates requests with a bearer token.
func WithToken(token string) Option {
	return func(cfg *clientConfig) {
		cfg.token = token
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cfg *clientConfig) {
		cfg.userAgent = ua
	}
}

// WithRecorder reports request metrics to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(cfg *clientConfig) {
		cfg.recorder = r
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) {
		cfg.logger = l
	}
}

// ParseRootURL parses the api root url, ensuring it is slash terminated so
// that endpoints resolve below it.
func ParseRootURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid api url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid api url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid api url %q: missing host", raw)
	}
	if u.User != nil {
		return nil, fmt.Errorf("invalid api url %q: credentials in the url are not supported, use a token", u.Redacted())
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
		if u.RawPath != "" {
			u.RawPath += "/"
		}
	}
	return u, nil
}

// NewFromString validates the api url and creates a client.
func NewFromString(api string, opts ...Option) (*Client, error) {
	u, err := ParseRootURL(api)
	if err != nil {
		return nil, err
	}
	return New(u, opts...), nil
}

// New creates a client for the slash terminated api root url.
func New(api *url.URL, opts ...Option) *Client {
	cfg := &clientConfig{
		timeout:   defaultTimeout,
		userAgent: "zuul-build",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	c := fastshot.NewClient(api.Scheme + "://" + api.Host)
	if cfg.token != "" {
		c.Auth().BearerToken(cfg.token)
	}

	return &Client{
		http: c.Config().SetTimeout(cfg.timeout).
			Config().SetFollowRedirects(true).
			Header().Add("Accept", "application/json").
			Header().Add("User-Agent", cfg.userAgent).
			Build(),
		api:      api,
		recorder: metrics.OrNoop(cfg.recorder),
		logger:   logger,
	}
}

// API returns the api root url.
func (c *Client) API() *url.URL {
	u := *c.api
	return &u
}

// endpoint resolves a path relative to the api root.
func (c *Client) endpoint(rel string) string {
	return c.api.ResolveReference(&url.URL{Path: rel}).EscapedPath()
}

// Filter narrows a builds query. Empty fields are not sent.
type Filter struct {
	Project  string
	Pipeline string
	JobName  string
	Branch   string
	Result   string
}

func (f Filter) params() [][2]string {
	var params [][2]string
	for _, p := range [][2]string{
		{"project", f.Project},
		{"pipeline", f.Pipeline},
		{"job_name", f.JobName},
		{"branch", f.Branch},
		{"result", f.Result},
	} {
		if p[1] != "" {
			params = append(params, p)
		}
	}
	return params
}

// BuildsQuery selects a page of completed builds, newest first.
type BuildsQuery struct {
	Skip   uint32
	Limit  uint32
	Filter Filter
}

// BuildResult is one element of a builds page. Err is set when that element
// could not be decoded; the rest of the page is still usable.
type BuildResult struct {
	Build models.Build
	Err   error
}

// Builds gets a page of the latest completed builds.
func (c *Client) Builds(ctx context.Context, q BuildsQuery) ([]BuildResult, error) {
	path := c.endpoint("builds")
	req := c.http.GET(path).
		Context().Set(ctx).
		Query().AddParam("complete", "true").
		Query().AddParam("skip", strconv.FormatUint(uint64(q.Skip), 10)).
		Query().AddParam("limit", strconv.FormatUint(uint64(q.Limit), 10))
	for _, p := range q.Filter.params() {
		req = req.Query().AddParam(p[0], p[1])
	}

	c.logger.Debug("Querying builds", "path", path, "skip", q.Skip, "limit", q.Limit)

	var raw []json.RawMessage
	if err := send(c, "builds", path, req, &raw); err != nil {
		return nil, err
	}

	results := make([]BuildResult, len(raw))
	for i, item := range raw {
		results[i].Build, results[i].Err = models.DecodeBuild(item)
	}
	return results, nil
}

// LatestBuilds gets the latest page of builds and fails if any of them
// cannot be decoded.
func (c *Client) LatestBuilds(ctx context.Context) ([]models.Build, error) {
	results, err := c.Builds(ctx, BuildsQuery{Limit: DefaultPageSize})
	if err != nil {
		return nil, err
	}
	builds := make([]models.Build, 0, len(results))
	for i, r := range results {
		if r.Err != nil {
			return nil, fmt.Errorf("invalid build json at index %d: %w", i, r.Err)
		}
		builds = append(builds, r.Build)
	}
	return builds, nil
}

// Build gets a single build by uuid.
func (c *Client) Build(ctx context.Context, uuid string) (models.Build, error) {
	if uuid == "" || uuid == "." || uuid == ".." || strings.ContainsAny(uuid, "/?#\\") {
		return models.Build{}, fmt.Errorf("invalid build uuid %q", uuid)
	}
	path := c.endpoint("build/" + uuid)
	req := c.http.GET(path).Context().Set(ctx)

	c.logger.Debug("Querying build", "path", path)

	var raw json.RawMessage
	if err := send(c, "build", path, req, &raw); err != nil {
		return models.Build{}, err
	}
	build, err := models.DecodeBuild(raw)
	if err != nil {
		return models.Build{}, &APIError{Op: "build", URL: path, StatusCode: 200, Err: fmt.Errorf("%w: %w", ErrDecode, err)}
	}
	return build, nil
}

func send[T any](c *Client, op, path string, req *fastshot.RequestBuilder, out *T) error {
	start := time.Now()
	resp, err := req.Send()
	if err != nil {
		c.recorder.ObserveRequest(op, metrics.RequestError, time.Since(start))
		return &APIError{Op: op, URL: path, Err: err}
	}
	defer resp.Body().Close()

	err = parseHTTPResponse(op, path, *resp, out)
	result := metrics.RequestSuccess
	if err != nil {
		result = metrics.RequestError
	}
	c.recorder.ObserveRequest(op, result, time.Since(start))
	return err
}

func parseHTTPResponse[T any](op, path string, resp fastshot.Response, result *T) error {
	code := resp.Status().Code()
	if resp.Status().IsError() {
		msg, err := resp.Body().AsString()
		if err != nil {
			msg = fmt.Sprintf("failed to read error response: %v", err)
		}
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &APIError{Op: op, URL: path, StatusCode: code, Body: strings.TrimSpace(msg), Err: errorFromStatus(code)}
	}

	if err := resp.Body().AsJSON(result); err != nil {
		return &APIError{Op: op, URL: path, StatusCode: code, Err: fmt.Errorf("%w: %w", ErrDecode, err)}
	}
	return nil
}
