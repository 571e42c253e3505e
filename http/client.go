package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/wesleyorama2/fetchx/header"
	"github.com/wesleyorama2/fetchx/merge"
	"github.com/wesleyorama2/fetchx/query"
)

// Client runs invocations through the hook pipeline. A Client is safe for
// concurrent use; each call gets its own Context.
type Client struct {
	cfg   Config
	hooks *registry

	Interceptors Interceptors
}

// NewClient creates a new client with the given options.
//
// Example:
//
//	client := http.NewClient(
//	    http.WithBaseURL("https://api.example.com"),
//	    http.WithTimeout(30*time.Second),
//	    http.WithHeader("Authorization", "Bearer token"),
//	)
func NewClient(options ...ClientOption) *Client {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}
	c := &Client{cfg: cfg, hooks: &registry{}}
	c.Interceptors = Interceptors{
		Request:  &Interceptor{client: c, checkpoint: BeforeRequest},
		Response: &Interceptor{client: c, checkpoint: AfterResponse},
	}
	return c
}

// Config returns a copy of the client's configuration.
func (c *Client) Config() Config {
	return c.cfg.clone()
}

// Extend derives a child client. Query and header options merge into the
// parent's defaults, other options replace them, and the parent's hooks are
// copied. Later changes to either client do not affect the other.
func (c *Client) Extend(options ...ClientOption) *Client {
	cfg := c.cfg.clone()
	for _, option := range options {
		option(&cfg)
	}
	child := &Client{cfg: cfg, hooks: c.hooks.clone()}
	child.Interceptors = Interceptors{
		Request:  c.Interceptors.Request.rebind(child),
		Response: c.Interceptors.Response.rebind(child),
	}
	return child
}

// Request executes method (default GET) against target, which is joined with
// the base URL unless absolute.
func (c *Client) Request(ctx context.Context, target string, opts ...Option) (*Response, error) {
	ro := RequestOptions{URL: target}
	for _, o := range opts {
		o(&ro)
	}
	return c.Do(ctx, ro)
}

// Do executes one invocation.
func (c *Client) Do(ctx context.Context, ro RequestOptions) (*Response, error) {
	if c.cfg.err != nil {
		return nil, c.cfg.err
	}
	ictx, err := c.newInvocation(ctx, ro)
	if err != nil {
		return nil, err
	}
	defer ictx.release()

	start := time.Now()
	resp, err := c.run(ictx, ro)
	entry := ictx.logger.WithDuration(time.Since(start))
	if err != nil {
		entry.WithError(err).Debug("request failed")
		return nil, err
	}
	entry.WithField("status", resp.StatusCode).Debug("request done")
	return resp, nil
}

func (c *Client) newInvocation(ctx context.Context, ro RequestOptions) (*Context, error) {
	ictx := newContext(ctx, c.cfg)

	full, baseQuery, err := joinURL(c.cfg.BaseURL, ro.URL)
	if err != nil {
		ictx.release()
		return nil, err
	}
	ictx.URL = full
	ictx.baseQuery = baseQuery
	if ro.Method != "" {
		ictx.Method = strings.ToUpper(ro.Method)
	}

	ictx.optQuery = ro.Query
	ictx.optHeader = ro.Header
	if ictx.Query, err = query.Merge(nil, flattenLayers(ro.Query)...); err != nil {
		ictx.release()
		return nil, newError(KindInvalidInput, err, "request query")
	}
	if ictx.Header, err = header.Merge(nil, flattenLayers(ro.Header)...); err != nil {
		ictx.release()
		return nil, newError(KindInvalidInput, err, "request headers")
	}

	ictx.Body = BodyOf(ro.Body)
	switch {
	case ro.Timeout > 0:
		ictx.Timeout = ro.Timeout
	case ro.Timeout < 0:
		ictx.Timeout = 0
	}
	if ro.ResponseType != TypeUnknown {
		ictx.ResponseType = ro.ResponseType
	}
	ictx.OnProgress = ro.OnProgress
	if ro.Credentials != "" {
		ictx.Credentials = ro.Credentials
	}
	if ro.Cache != "" {
		ictx.Cache = ro.Cache
	}
	if ro.Mode != "" {
		ictx.Mode = ro.Mode
	}
	ictx.logger = ictx.logger.WithFields(log.Fields{"method": ictx.Method, "url": ictx.URL})
	return ictx, nil
}

func (c *Client) run(ictx *Context, ro RequestOptions) (*Response, error) {
	queryBefore := ictx.Query.Clone()
	headerBefore := ictx.Header.Clone()

	steps := []struct {
		checkpoint Checkpoint
		then       func() error
	}{
		{BeforeInit, func() error { return c.mergeParams(ictx, queryBefore, headerBefore) }},
		{BeforeRequest, func() error { return c.transformBody(ictx) }},
		{AfterBodyTransformed, func() error { return c.buildRequest(ictx) }},
		{BeforeActualFetch, func() error { return c.fetch(ictx) }},
	}
	for _, step := range steps {
		raw, err := c.dispatch(ictx, step.checkpoint)
		if err != nil {
			return nil, err
		}
		if raw != nil {
			return c.shortCircuit(ictx, raw)
		}
		if err := step.then(); err != nil {
			return nil, err
		}
	}

	if _, err := c.resolve(ictx, ictx.rawResponse); err != nil {
		return nil, err
	}
	return c.afterResponse(ictx)
}

// mergeParams layers query and headers by priority: base URL query, client
// defaults, target URL query, request options. Edits a beforeInit hook made
// to ctx.Query or ctx.Header are applied on top of the request options as a
// diff, so the options keep their Null/Undefined markers.
func (c *Client) mergeParams(ictx *Context, queryBefore *query.Values, headerBefore *header.Header) error {
	u, err := url.Parse(ictx.URL)
	if err != nil {
		return newError(KindInvalidInput, err, "parse url %q", ictx.URL)
	}
	targetQuery := u.RawQuery
	u.RawQuery = ""
	u.ForceQuery = false
	ictx.URL = u.String()

	if ictx.Query == nil {
		ictx.Query = query.New()
	}
	qLayers := []any{c.cfg.Query, targetQuery}
	qLayers = append(qLayers, flattenLayers(ictx.optQuery)...)
	qLayers = append(qLayers, merge.Diff(query.FromMultiMap(queryBefore), query.FromMultiMap(ictx.Query)))
	if ictx.Query, err = query.Merge(ictx.baseQuery, qLayers...); err != nil {
		return newError(KindInvalidInput, err, "merge query")
	}

	if ictx.Header == nil {
		ictx.Header = header.New()
	}
	var hLayers []any
	hLayers = append(hLayers, flattenLayers(ictx.optHeader)...)
	hLayers = append(hLayers, header.Diff(headerBefore, ictx.Header))
	if ictx.Header, err = header.Merge(c.cfg.Header, hLayers...); err != nil {
		return newError(KindInvalidInput, err, "merge headers")
	}
	return nil
}

var bodylessMethods = map[string]bool{
	http.MethodGet:   true,
	http.MethodHead:  true,
	http.MethodTrace: true,
}

func (c *Client) transformBody(ictx *Context) error {
	ictx.Method = strings.ToUpper(ictx.Method)
	if ictx.Body == nil || ictx.Body.empty() {
		ictx.Payload = nil
		return nil
	}
	if bodylessMethods[ictx.Method] {
		return &Error{
			Kind:       KindMethodBodyConflict,
			Message:    fmt.Sprintf("%s request cannot carry a body", ictx.Method),
			Checkpoint: BeforeRequest,
		}
	}

	payload, contentType, err := serialize(ictx.Body)
	if err != nil {
		return newError(KindInvalidInput, err, "serialize request body")
	}
	ictx.Payload = payload
	if !ictx.Header.Has("Content-Type") {
		ictx.Header.Set("Content-Type", contentType)
	}
	return nil
}

func (c *Client) buildRequest(ictx *Context) error {
	target := ictx.URL
	if ictx.Query.Len() > 0 {
		target += "?" + ictx.Query.Encode()
	}
	req, err := http.NewRequestWithContext(ictx.phases.trace(ictx.ctx), ictx.Method, target, ictx.Payload)
	if err != nil {
		return newError(KindInvalidInput, err, "build request")
	}
	req.Header = ictx.Header.ToHTTP()
	if host := ictx.Header.Get("Host"); host != "" {
		req.Host = host
	}
	if err := c.applyPolicies(ictx, req); err != nil {
		return err
	}
	ictx.request = req
	return nil
}

// applyPolicies maps mode, credentials and cache settings onto req.
func (c *Client) applyPolicies(ictx *Context, req *http.Request) error {
	same := c.sameOrigin(req.URL)
	if ictx.Mode == ModeSameOrigin && !same {
		return newError(KindNetwork, nil, "cross-origin request to %s blocked by same-origin mode", req.URL.Host)
	}

	if ictx.Credentials == CredentialsOmit || (ictx.Credentials == CredentialsSameOrigin && !same) {
		req.Header.Del("Authorization")
		req.Header.Del("Cookie")
	}

	if req.Header.Get("Cache-Control") != "" {
		return nil
	}
	switch ictx.Cache {
	case CacheNoStore:
		req.Header.Set("Cache-Control", "no-store")
	case CacheNoCache, CacheReload:
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	case CacheForceCache:
		req.Header.Set("Cache-Control", "max-stale")
	case CacheOnlyIfCached:
		req.Header.Set("Cache-Control", "only-if-cached")
	}
	return nil
}

func (c *Client) sameOrigin(target *url.URL) bool {
	if c.cfg.BaseURL == "" {
		return true
	}
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil || base.Host == "" {
		return true
	}
	return strings.EqualFold(base.Scheme, target.Scheme) && strings.EqualFold(base.Host, target.Host)
}

type fetchResult struct {
	res *http.Response
	err error
}

// fetch calls the transport, racing it against the invocation's cancel
// handle so a fetcher that ignores its context still times out.
func (c *Client) fetch(ictx *Context) error {
	req := ictx.request
	ictx.startTimer()
	ictx.phases.start()
	ictx.logger.Debug("fetch")

	done := make(chan fetchResult, 1)
	go func() {
		res, err := c.cfg.Fetch(req)
		done <- fetchResult{res: res, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return c.transportError(ictx, r.err)
		}
		if r.res == nil {
			return newError(KindNetwork, nil, "transport returned no response")
		}
		ictx.rawResponse = r.res
		return nil
	case <-ictx.ctx.Done():
		go func() {
			if r := <-done; r.res != nil && r.res.Body != nil {
				r.res.Body.Close()
			}
		}()
		return c.transportError(ictx, context.Cause(ictx.ctx))
	}
}

func (c *Client) transportError(ictx *Context, cause error) error {
	if ictx.timedOut() {
		return newError(KindTimeout, cause, "no response within %s", ictx.Timeout)
	}
	return newError(KindNetwork, cause, "%s %s", ictx.Method, ictx.URL)
}

func (c *Client) shortCircuit(ictx *Context, raw *http.Response) (*Response, error) {
	if raw.Request == nil {
		if ictx.request != nil {
			raw.Request = ictx.request
		} else if u, err := url.Parse(ictx.URL); err == nil {
			raw.Request = &http.Request{Method: ictx.Method, URL: u, Header: http.Header{}}
		}
	}
	ictx.rawResponse = raw
	if _, err := c.resolve(ictx, raw); err != nil {
		return nil, err
	}
	return c.afterResponse(ictx)
}

func (c *Client) afterResponse(ictx *Context) (*Response, error) {
	raw, err := c.dispatch(ictx, AfterResponse)
	if err != nil {
		c.discardStream(ictx)
		return nil, err
	}
	if raw != nil {
		c.discardStream(ictx)
		ictx.rawResponse = raw
		return c.resolve(ictx, raw)
	}
	return ictx.response, nil
}

// discardStream closes a resolved stream that will not reach the caller and
// hands the timer and context back to release.
func (c *Client) discardStream(ictx *Context) {
	if ictx.response == nil {
		return
	}
	if sb, ok := ictx.response.Data.(*streamBody); ok {
		sb.ReadCloser.Close()
	}
	ictx.streamed = false
}

func (c *Client) resolve(ictx *Context, raw *http.Response) (*Response, error) {
	start := time.Now()
	resp, err := Resolve(raw, ResolveOptions{
		Expect:     ictx.ResponseType,
		OnProgress: ictx.OnProgress,
		ShouldFail: c.cfg.ShouldFail,
	})
	if resp != nil && resp.Type == TypeStream {
		if err != nil {
			if rc, ok := resp.Stream(); ok {
				rc.Close()
			}
		} else if rc, ok := resp.Stream(); ok {
			resp.Data = &streamBody{ReadCloser: rc, release: func() {
				ictx.stopTimer()
				ictx.cancel(nil)
			}}
			ictx.streamed = true
		}
	}
	if err != nil {
		var rejected *Error
		if errors.As(err, &rejected) && rejected.Response != nil {
			rejected.Response.Timing = ictx.phases.finish(time.Since(start))
		}
		if errors.Is(err, ErrBodyTransform) && ictx.timedOut() {
			return nil, newError(KindTimeout, err, "body not read within %s", ictx.Timeout)
		}
		return nil, err
	}
	resp.Timing = ictx.phases.finish(time.Since(start))
	ictx.response = resp
	return resp, nil
}

// streamBody releases the invocation's timer and context once closed.
type streamBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (s *streamBody) Close() error {
	err := s.ReadCloser.Close()
	s.once.Do(s.release)
	return err
}

// joinURL joins target onto base the way Request.Build did: paths are
// concatenated, not resolved. It also returns the query embedded in base.
func joinURL(base, target string) (string, string, error) {
	if base == "" {
		return target, "", nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", "", newError(KindInvalidInput, err, "parse base url %q", base)
	}
	baseQuery := b.RawQuery

	t, err := url.Parse(target)
	if err != nil {
		return "", "", newError(KindInvalidInput, err, "parse url %q", target)
	}
	if t.IsAbs() {
		return target, baseQuery, nil
	}

	b.RawQuery = t.RawQuery
	b.Fragment = t.Fragment
	b.RawPath = ""
	if t.Path != "" {
		if b.Path == "" {
			b.Path = "/" + strings.TrimLeft(t.Path, "/")
		} else {
			b.Path = strings.TrimRight(b.Path, "/") + "/" + strings.TrimLeft(t.Path, "/")
		}
	}
	return b.String(), baseQuery, nil
}

// StubResponse builds a transport response for short-circuiting hooks and
// tests.
func StubResponse(status int, contentType, body string) *http.Response {
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func (c *Client) verb(ctx context.Context, method, target string, body any, opts []Option) (*Response, error) {
	ro := RequestOptions{URL: target}
	for _, o := range opts {
		o(&ro)
	}
	ro.Method = method
	if body != nil {
		ro.Body = body
	}
	return c.Do(ctx, ro)
}

// Get is a convenience method for making GET requests.
func (c *Client) Get(ctx context.Context, target string, opts ...Option) (*Response, error) {
	return c.verb(ctx, http.MethodGet, target, nil, opts)
}

// Head is a convenience method for making HEAD requests.
func (c *Client) Head(ctx context.Context, target string, opts ...Option) (*Response, error) {
	return c.verb(ctx, http.MethodHead, target, nil, opts)
}

// Options is a convenience method for making OPTIONS requests.
func (c *Client) Options(ctx context.Context, target string, opts ...Option) (*Response, error) {
	return c.verb(ctx, http.MethodOptions, target, nil, opts)
}

// Trace is a convenience method for making TRACE requests.
func (c *Client) Trace(ctx context.Context, target string, opts ...Option) (*Response, error) {
	return c.verb(ctx, http.MethodTrace, target, nil, opts)
}

// Post is a convenience method for making POST requests with a body.
func (c *Client) Post(ctx context.Context, target string, body any, opts ...Option) (*Response, error) {
	return c.verb(ctx, http.MethodPost, target, body, opts)
}

// Put is a convenience method for making PUT requests with a body.
func (c *Client) Put(ctx context.Context, target string, body any, opts ...Option) (*Response, error) {
	return c.verb(ctx, http.MethodPut, target, body, opts)
}

// Patch is a convenience method for making PATCH requests with a body.
func (c *Client) Patch(ctx context.Context, target string, body any, opts ...Option) (*Response, error) {
	return c.verb(ctx, http.MethodPatch, target, body, opts)
}

// Delete is a convenience method for making DELETE requests. body may be nil.
func (c *Client) Delete(ctx context.Context, target string, body any, opts ...Option) (*Response, error) {
	return c.verb(ctx, http.MethodDelete, target, body, opts)
}
