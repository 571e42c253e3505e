package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/wesleyorama2/fetchx/header"
	"github.com/wesleyorama2/fetchx/query"
)

// errRequestTimeout is the cancellation cause set by the timeout timer.
var errRequestTimeout = errors.New("request timeout")

// Progress reports how much of a response body has been read.
type Progress struct {
	Loaded int64

	// Total is the declared Content-Length, or -1 when unknown.
	Total int64

	// Fraction is Loaded/Total, or 0 when Total is unknown.
	Fraction float64
}

// Context is the mutable record of one invocation. Hooks receive it at every
// checkpoint and may rewrite the exported fields; the engine re-normalizes
// URL, Query and Header after each checkpoint.
type Context struct {
	// ID identifies the invocation in logs.
	ID string

	URL    string
	Method string
	Query  *query.Values
	Header *header.Header

	// Body is the caller's body. Payload is its serialized form, set before
	// afterBodyTransformed.
	Body    Body
	Payload io.Reader

	// Timeout is the effective budget; zero means none.
	Timeout      time.Duration
	ResponseType ResponseType
	OnProgress   func(Progress)

	Credentials Credentials
	Cache       CachePolicy
	Mode        Mode

	// Values is scratch space for hooks. The engine never reads it.
	Values map[string]any

	ctx      context.Context
	cancel   context.CancelCauseFunc
	timerMu  sync.Mutex
	timer    *time.Timer
	streamed bool
	phases   phaseTimer

	checkpoint  Checkpoint
	baseQuery   string
	optQuery    any
	optHeader   any
	request     *http.Request
	rawResponse *http.Response
	response    *Response
	logger      log.Interface
}

func newContext(parent context.Context, cfg Config) *Context {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	id := uuid.NewString()
	return &Context{
		ID:           id,
		Method:       http.MethodGet,
		Query:        query.New(),
		Header:       header.New(),
		Timeout:      cfg.Timeout,
		ResponseType: cfg.ResponseType,
		Credentials:  cfg.Credentials,
		Cache:        cfg.Cache,
		Mode:         cfg.Mode,
		Values:       make(map[string]any),
		ctx:          ctx,
		cancel:       cancel,
		logger:       cfg.Logger.WithFields(log.Fields{"id": id}),
	}
}

// Context returns the context.Context governing this invocation. It is done
// once the invocation is cancelled, times out, or returns.
func (c *Context) Context() context.Context {
	return c.ctx
}

// Cancel aborts the invocation. A transport call in flight fails with a
// network error.
func (c *Context) Cancel() {
	c.cancel(context.Canceled)
}

// Checkpoint is the checkpoint currently being dispatched.
func (c *Context) Checkpoint() Checkpoint {
	return c.checkpoint
}

// Request is the transport request. It is nil before beforeActualFetch.
// Hooks on beforeActualFetch may modify it in place.
func (c *Context) Request() *http.Request {
	return c.request
}

// RawResponse is the transport response, or the one supplied by a
// short-circuiting hook.
func (c *Context) RawResponse() *http.Response {
	return c.rawResponse
}

// Response is the resolved response, available at afterResponse.
func (c *Context) Response() *Response {
	return c.response
}

// Timing returns the phase timings measured so far.
func (c *Context) Timing() TimingInfo {
	c.phases.mu.Lock()
	defer c.phases.mu.Unlock()
	return c.phases.timing
}

// Logger returns a logger tagged with the invocation ID.
func (c *Context) Logger() log.Interface {
	return c.logger
}

func (c *Context) startTimer() {
	if c.Timeout <= 0 {
		return
	}
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.timer == nil {
		c.timer = time.AfterFunc(c.Timeout, func() { c.cancel(errRequestTimeout) })
	}
}

func (c *Context) stopTimer() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
}

func (c *Context) timedOut() bool {
	return errors.Is(context.Cause(c.ctx), errRequestTimeout)
}

// release runs when the invocation returns. Streamed bodies keep the
// context alive until they are closed.
func (c *Context) release() {
	if c.streamed {
		return
	}
	c.stopTimer()
	c.cancel(nil)
}

// RequestOptions describes one invocation. Zero fields fall back to the
// client's Config.
type RequestOptions struct {
	URL    string
	Method string

	// Query and Header accept the same sources as query.Merge and
	// header.Merge; record markers are honoured against the defaults.
	Query  any
	Header any

	// Body is classified once with BodyOf.
	Body any

	// Timeout overrides the client's when positive; negative disables it.
	Timeout      time.Duration
	ResponseType ResponseType
	OnProgress   func(Progress)

	Credentials Credentials
	Cache       CachePolicy
	Mode        Mode
}

// Option is a function that configures RequestOptions.
type Option func(*RequestOptions)

// layers lets repeated options stack instead of replacing each other.
type layers []any

func stack(cur, next any) any {
	switch c := cur.(type) {
	case nil:
		return next
	case layers:
		return append(c, next)
	}
	return layers{cur, next}
}

func flattenLayers(v any) []any {
	if l, ok := v.(layers); ok {
		return l
	}
	if v == nil {
		return nil
	}
	return []any{v}
}

func WithMethod(method string) Option {
	return func(o *RequestOptions) { o.Method = method }
}

// WithRequestQuery layers q over any query given earlier.
func WithRequestQuery(q any) Option {
	return func(o *RequestOptions) { o.Query = stack(o.Query, q) }
}

func WithRequestHeader(key, value string) Option {
	return WithRequestHeaders(map[string]string{key: value})
}

// WithRequestHeaders layers h over any headers given earlier.
func WithRequestHeaders(h any) Option {
	return func(o *RequestOptions) { o.Header = stack(o.Header, h) }
}

func WithBody(body any) Option {
	return func(o *RequestOptions) { o.Body = body }
}

// WithRequestTimeout overrides the client timeout for this request. A
// negative d disables the timeout; zero keeps the client's.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *RequestOptions) { o.Timeout = d }
}

// WithExpect forces the response type for this request.
func WithExpect(t ResponseType) Option {
	return func(o *RequestOptions) { o.ResponseType = t }
}

func WithProgress(fn func(Progress)) Option {
	return func(o *RequestOptions) { o.OnProgress = fn }
}

func WithRequestCredentials(v Credentials) Option {
	return func(o *RequestOptions) { o.Credentials = v }
}

func WithRequestCache(v CachePolicy) Option {
	return func(o *RequestOptions) { o.Cache = v }
}

func WithRequestMode(v Mode) Option {
	return func(o *RequestOptions) { o.Mode = v }
}
