package http

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/apex/log"

	"github.com/wesleyorama2/fetchx/header"
	"github.com/wesleyorama2/fetchx/query"
)

// Checkpoint names a point in the request lifecycle where hooks run.
type Checkpoint string

// Checkpoints in the order they are reached.
const (
	BeforeInit           Checkpoint = "beforeInit"
	BeforeRequest        Checkpoint = "beforeRequest"
	AfterBodyTransformed Checkpoint = "afterBodyTransformed"
	BeforeActualFetch    Checkpoint = "beforeActualFetch"
	AfterResponse        Checkpoint = "afterResponse"

	// AnyCheckpoint matches every checkpoint in Off.
	AnyCheckpoint Checkpoint = "*"
)

var checkpoints = []Checkpoint{BeforeInit, BeforeRequest, AfterBodyTransformed, BeforeActualFetch, AfterResponse}

func validCheckpoint(cp Checkpoint) bool {
	for _, c := range checkpoints {
		if c == cp {
			return true
		}
	}
	return false
}

// Hook inspects or rewrites an invocation at one checkpoint. Returning an
// error fails the invocation with that error.
type Hook func(*Context) (Result, error)

type resultKind int

const (
	resultInvalid resultKind = iota
	resultContinue
	resultAbort
	resultShortCircuit
)

// Result tells the engine how to proceed after a hook. Build one with
// Continue, Abort or ShortCircuit; the zero Result is invalid.
type Result struct {
	kind     resultKind
	ctx      *Context
	response *http.Response
	reason   string
}

// Continue proceeds with ctx, which must be the context the hook received.
func Continue(ctx *Context) Result {
	return Result{kind: resultContinue, ctx: ctx}
}

// Abort stops the invocation with an ErrAbortedByHook error.
func Abort(reason string) Result {
	return Result{kind: resultAbort, reason: reason}
}

// ShortCircuit skips the rest of the normal path. resp is resolved as if the
// transport had returned it and afterResponse hooks run on the result.
func ShortCircuit(resp *http.Response) Result {
	return Result{kind: resultShortCircuit, response: resp}
}

// HookID identifies a registration for Off.
type HookID uint64

type registration struct {
	id         HookID
	checkpoint Checkpoint
	hook       Hook
}

// registry is shared by every invocation of a client. Dispatch works on a
// snapshot, so hooks may register or remove hooks while running.
type registry struct {
	mu    sync.RWMutex
	next  HookID
	hooks []registration
}

func (r *registry) add(cp Checkpoint, hook Hook, prepend bool) (HookID, error) {
	if !validCheckpoint(cp) {
		return 0, newError(KindInvalidHook, nil, "unknown checkpoint %q", cp)
	}
	if hook == nil {
		return 0, newError(KindInvalidHook, nil, "nil hook for %s", cp)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	reg := registration{id: r.next, checkpoint: cp, hook: hook}
	if prepend {
		r.hooks = append([]registration{reg}, r.hooks...)
	} else {
		r.hooks = append(r.hooks, reg)
	}
	return reg.id, nil
}

func (r *registry) remove(cp Checkpoint, id HookID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, reg := range r.hooks {
		if reg.id != id {
			continue
		}
		if cp != "" && cp != AnyCheckpoint && cp != reg.checkpoint {
			return false
		}
		r.hooks = append(r.hooks[:i:i], r.hooks[i+1:]...)
		return true
	}
	return false
}

func (r *registry) snapshot(cp Checkpoint) []registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []registration
	for _, reg := range r.hooks {
		if reg.checkpoint == cp {
			out = append(out, reg)
		}
	}
	return out
}

func (r *registry) clone() *registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &registry{next: r.next, hooks: make([]registration, len(r.hooks))}
	copy(out.hooks, r.hooks)
	return out
}

// On registers hook at cp. Prepended hooks run before the others.
func (c *Client) On(cp Checkpoint, hook Hook, prepend bool) (HookID, error) {
	return c.hooks.add(cp, hook, prepend)
}

// Off removes a registration. cp may be AnyCheckpoint or empty to match the
// hook wherever it was registered.
func (c *Client) Off(cp Checkpoint, id HookID) bool {
	return c.hooks.remove(cp, id)
}

// Interceptor registers hooks on a single checkpoint.
type Interceptor struct {
	client     *Client
	checkpoint Checkpoint

	mu  sync.Mutex
	ids []HookID
}

// Interceptors are shortcuts for beforeRequest and afterResponse hooks.
type Interceptors struct {
	Request  *Interceptor
	Response *Interceptor
}

// Use appends hook.
func (i *Interceptor) Use(hook Hook) (HookID, error) {
	id, err := i.client.On(i.checkpoint, hook, false)
	if err != nil {
		return 0, err
	}
	i.mu.Lock()
	i.ids = append(i.ids, id)
	i.mu.Unlock()
	return id, nil
}

// Clear removes every hook added through this interceptor.
func (i *Interceptor) Clear() {
	i.mu.Lock()
	ids := i.ids
	i.ids = nil
	i.mu.Unlock()
	for _, id := range ids {
		i.client.Off(i.checkpoint, id)
	}
}

func (i *Interceptor) rebind(c *Client) *Interceptor {
	i.mu.Lock()
	defer i.mu.Unlock()
	return &Interceptor{client: c, checkpoint: i.checkpoint, ids: append([]HookID(nil), i.ids...)}
}

// dispatch runs the hooks of one checkpoint. A non-nil response means a hook
// short-circuited.
func (c *Client) dispatch(ictx *Context, cp Checkpoint) (*http.Response, error) {
	hooks := c.hooks.snapshot(cp)
	if len(hooks) == 0 {
		return nil, nil
	}
	ictx.checkpoint = cp
	ictx.logger.WithFields(log.Fields{"checkpoint": cp, "hooks": len(hooks)}).Debug("dispatch")

	for _, reg := range hooks {
		res, err := reg.hook(ictx)
		if err != nil {
			return nil, fmt.Errorf("%s hook: %w", cp, err)
		}

		switch res.kind {
		case resultContinue:
			if res.ctx == ictx {
				continue
			}
		case resultAbort:
			e := newError(KindAbortedByHook, nil, "aborted by hook %d", reg.id)
			if res.reason != "" {
				e.Message = res.reason
			}
			e.Checkpoint = cp
			return nil, e
		case resultShortCircuit:
			if res.response != nil {
				ictx.logger.WithField("checkpoint", cp).Debug("short-circuit")
				return res.response, nil
			}
		}

		if c.cfg.StrictHooks {
			e := newError(KindInvalidHookResult, nil, "hook %d returned an invalid result", reg.id)
			e.Checkpoint = cp
			return nil, e
		}
		ictx.logger.WithFields(log.Fields{"checkpoint": cp, "hook": reg.id}).Warn("invalid hook result ignored")
	}

	if cp != BeforeInit {
		if err := normalize(ictx); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// normalize folds a query embedded in ctx.URL into ctx.Query, with the
// explicit field winning, and strips it from the URL.
func normalize(ictx *Context) error {
	if ictx.Header == nil {
		ictx.Header = header.New()
	}
	if ictx.Query == nil {
		ictx.Query = query.New()
	}
	u, err := url.Parse(ictx.URL)
	if err != nil {
		return newError(KindInvalidInput, err, "parse url %q", ictx.URL)
	}
	if u.RawQuery == "" && !u.ForceQuery {
		return nil
	}
	merged, err := query.Merge(u.RawQuery, ictx.Query)
	if err != nil {
		return newError(KindInvalidInput, err, "merge query")
	}
	u.RawQuery = ""
	u.ForceQuery = false
	ictx.URL = u.String()
	ictx.Query = merged
	return nil
}
