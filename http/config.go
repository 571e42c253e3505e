package http

import (
	"net/http"
	"time"

	"github.com/apex/log"

	"github.com/wesleyorama2/fetchx/header"
	"github.com/wesleyorama2/fetchx/query"
)

// Fetcher is the transport primitive the engine drives. (*http.Client).Do
// satisfies it.
type Fetcher func(*http.Request) (*http.Response, error)

// Credentials controls whether Authorization and Cookie headers leave the
// process.
type Credentials string

const (
	CredentialsInclude    Credentials = "include"
	CredentialsSameOrigin Credentials = "same-origin"
	CredentialsOmit       Credentials = "omit"
)

// CachePolicy is translated into request cache directives.
type CachePolicy string

const (
	CacheDefault      CachePolicy = "default"
	CacheNoStore      CachePolicy = "no-store"
	CacheReload       CachePolicy = "reload"
	CacheNoCache      CachePolicy = "no-cache"
	CacheForceCache   CachePolicy = "force-cache"
	CacheOnlyIfCached CachePolicy = "only-if-cached"
)

// Mode restricts which origins a request may target.
type Mode string

const (
	ModeCORS       Mode = "cors"
	ModeNoCORS     Mode = "no-cors"
	ModeSameOrigin Mode = "same-origin"
)

// Config holds the defaults a Client copies into every invocation. Treat it
// as read-only; derive changed copies with Client.Extend.
type Config struct {
	// BaseURL is joined with relative targets. A query embedded in it is the
	// lowest-priority query layer.
	BaseURL string

	// Timeout bounds the transport call and body read. Zero means none.
	Timeout time.Duration

	Query  *query.Values
	Header *header.Header

	Credentials  Credentials
	Cache        CachePolicy
	Mode         Mode
	ResponseType ResponseType

	// ShouldFail turns a resolved response into a response error. The
	// default rejects non-2xx statuses.
	ShouldFail func(*Response) bool

	Fetch  Fetcher
	Logger log.Interface

	// StrictHooks turns invalid hook results into errors instead of
	// warnings.
	StrictHooks bool

	err error
}

func defaultConfig() Config {
	return Config{
		Query:       query.New(),
		Header:      header.New(),
		Credentials: CredentialsSameOrigin,
		Cache:       CacheDefault,
		Mode:        ModeCORS,
		ShouldFail:  DefaultShouldFail,
		Fetch:       (&http.Client{}).Do,
		Logger:      log.Log,
	}
}

func (c Config) clone() Config {
	out := c
	out.Query = c.Query.Clone()
	out.Header = c.Header.Clone()
	return out
}

// DefaultShouldFail rejects every response outside 2xx.
func DefaultShouldFail(r *Response) bool {
	return !r.OK
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Config)

// WithBaseURL sets the base URL for all requests made by this client.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Config) {
		c.BaseURL = baseURL
	}
}

// WithTimeout sets the default timeout. Zero disables it.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithQuery merges q into the default query. q may be a raw string, a
// multi-map or a nested record using merge.Null / merge.Undefined.
func WithQuery(q any) ClientOption {
	return func(c *Config) {
		merged, err := query.Merge(c.Query, q)
		if err != nil {
			c.err = newError(KindInvalidInput, err, "default query")
			return
		}
		c.Query = merged
	}
}

// WithHeader sets a default header.
func WithHeader(key, value string) ClientOption {
	return func(c *Config) {
		c.Header = c.Header.Clone()
		c.Header.Set(key, value)
	}
}

// WithHeaders merges h into the default headers.
func WithHeaders(h any) ClientOption {
	return func(c *Config) {
		merged, err := header.Merge(c.Header, h)
		if err != nil {
			c.err = newError(KindInvalidInput, err, "default headers")
			return
		}
		c.Header = merged
	}
}

func WithCredentials(v Credentials) ClientOption {
	return func(c *Config) { c.Credentials = v }
}

func WithCache(v CachePolicy) ClientOption {
	return func(c *Config) { c.Cache = v }
}

func WithMode(v Mode) ClientOption {
	return func(c *Config) { c.Mode = v }
}

// WithResponseType forces how response bodies are decoded instead of
// guessing from Content-Type.
func WithResponseType(t ResponseType) ClientOption {
	return func(c *Config) { c.ResponseType = t }
}

// WithFailurePredicate replaces DefaultShouldFail.
func WithFailurePredicate(fn func(*Response) bool) ClientOption {
	return func(c *Config) {
		if fn == nil {
			fn = DefaultShouldFail
		}
		c.ShouldFail = fn
	}
}

// WithFetcher replaces the transport primitive.
func WithFetcher(fn Fetcher) ClientOption {
	return func(c *Config) {
		if fn != nil {
			c.Fetch = fn
		}
	}
}

// WithHTTPClient sends requests through httpClient.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Config) {
		if httpClient != nil {
			c.Fetch = httpClient.Do
		}
	}
}

func WithLogger(l log.Interface) ClientOption {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

func WithStrictHooks(strict bool) ClientOption {
	return func(c *Config) { c.StrictHooks = strict }
}
