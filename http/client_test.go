package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/fetchx/merge"
)

// recorder captures the requests a fetcher receives.
type recorder struct {
	calls atomic.Int32
	last  atomic.Pointer[http.Request]
	body  atomic.Pointer[string]
	reply func(*http.Request) (*http.Response, error)
}

func (r *recorder) fetch(req *http.Request) (*http.Response, error) {
	r.calls.Add(1)
	r.last.Store(req)
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		s := string(data)
		r.body.Store(&s)
	}
	if r.reply != nil {
		return r.reply(req)
	}
	return StubResponse(http.StatusOK, "application/json", `{"ok":true}`), nil
}

func TestClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/test", r.URL.Path)
		assert.Equal(t, "test-value", r.Header.Get("X-Test-Header"))
		assert.Equal(t, "fetchx-test", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"success"}`))
	}))
	defer server.Close()

	client := NewClient(
		WithTimeout(5*time.Second),
		WithHeader("User-Agent", "fetchx-test"),
		WithBaseURL(server.URL),
	)

	resp, err := client.Get(context.Background(), "/test", WithRequestHeader("X-Test-Header", "test-value"))
	require.NoError(t, err)

	assert.True(t, resp.OK)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", resp.StatusText)
	assert.Equal(t, "application/json", resp.GetHeader("Content-Type"))
	assert.Equal(t, TypeJSON, resp.Type)
	assert.Equal(t, map[string]any{"message": "success"}, resp.Data)
	assert.Equal(t, "success", resp.Get("message").String())
	assert.False(t, resp.Timing.StartTime.IsZero())
	assert.Greater(t, resp.Timing.TotalTime, time.Duration(0))
}

func TestClient_Verbs(t *testing.T) {
	var gotMethod, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	ctx := context.Background()

	tests := []struct {
		name   string
		call   func() (*Response, error)
		method string
		body   string
	}{
		{"get", func() (*Response, error) { return client.Get(ctx, "/") }, "GET", ""},
		{"head", func() (*Response, error) { return client.Head(ctx, "/") }, "HEAD", ""},
		{"options", func() (*Response, error) { return client.Options(ctx, "/") }, "OPTIONS", ""},
		{"post", func() (*Response, error) { return client.Post(ctx, "/", map[string]any{"a": 1}) }, "POST", `{"a":1}`},
		{"put", func() (*Response, error) { return client.Put(ctx, "/", "text") }, "PUT", "text"},
		{"patch", func() (*Response, error) { return client.Patch(ctx, "/", []byte("raw")) }, "PATCH", "raw"},
		{"delete", func() (*Response, error) { return client.Delete(ctx, "/", nil) }, "DELETE", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.call()
			require.NoError(t, err)
			assert.Equal(t, http.StatusNoContent, resp.StatusCode)
			assert.Equal(t, tt.method, gotMethod)
			assert.Equal(t, tt.body, gotBody)
		})
	}
}

func TestClient_URLJoin(t *testing.T) {
	tests := []struct {
		base, target, want string
	}{
		{"https://api.example.com", "/users", "https://api.example.com/users"},
		{"https://api.example.com/v1/", "/users", "https://api.example.com/v1/users"},
		{"https://api.example.com/v1", "users", "https://api.example.com/v1/users"},
		{"https://api.example.com", "https://other.example.com/x", "https://other.example.com/x"},
		{"", "https://other.example.com/x", "https://other.example.com/x"},
	}
	for _, tt := range tests {
		t.Run(tt.base+"|"+tt.target, func(t *testing.T) {
			rec := &recorder{}
			client := NewClient(WithBaseURL(tt.base), WithFetcher(rec.fetch))
			_, err := client.Get(context.Background(), tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.last.Load().URL.String())
		})
	}
}

func TestClient_QueryLayers(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		client  any
		target  string
		request any
		want    string
	}{
		{
			name:    "request overrides default",
			client:  map[string]any{"page": 1, "limit": 10},
			target:  "/items",
			request: map[string]any{"page": 2},
			want:    "limit=10&page=2",
		},
		{
			name:    "null deletes default",
			client:  map[string]any{"page": 1, "limit": 10},
			target:  "/items",
			request: merge.Record{"page": merge.Null},
			want:    "limit=10",
		},
		{
			name:    "undefined keeps default",
			client:  map[string]any{"page": 1},
			target:  "/items",
			request: merge.Record{"page": merge.Undefined, "q": "x"},
			want:    "page=1&q=x",
		},
		{
			name:   "target query beats client default",
			client: "page=1",
			target: "/items?page=3",
			want:   "page=3",
		},
		{
			name:    "base url query is lowest",
			base:    "?token=abc&page=0",
			client:  "page=1",
			target:  "/items",
			request: "q=go",
			want:    "page=1&q=go&token=abc",
		},
		{
			name:    "nested records use brackets",
			target:  "/items",
			request: map[string]any{"filter": map[string]any{"tag": "go"}},
			want:    "filter%5Btag%5D=go",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			opts := []ClientOption{WithBaseURL("https://api.example.com" + tt.base), WithFetcher(rec.fetch)}
			if tt.client != nil {
				opts = append(opts, WithQuery(tt.client))
			}
			client := NewClient(opts...)

			var ropts []Option
			if tt.request != nil {
				ropts = append(ropts, WithRequestQuery(tt.request))
			}
			_, err := client.Get(context.Background(), tt.target, ropts...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.last.Load().URL.RawQuery)
		})
	}
}

func TestClient_HeaderLayers(t *testing.T) {
	rec := &recorder{}
	client := NewClient(
		WithBaseURL("https://api.example.com"),
		WithFetcher(rec.fetch),
		WithHeaders(map[string]string{"Accept": "application/json", "X-Trace": "1"}),
	)

	_, err := client.Get(context.Background(), "/",
		WithRequestHeaders(map[string]any{"x-trace": merge.Null, "X-Extra": []string{"a", "b"}}),
		WithRequestHeader("accept", "text/plain"),
	)
	require.NoError(t, err)

	h := rec.last.Load().Header
	assert.Equal(t, "text/plain", h.Get("Accept"))
	assert.Empty(t, h.Get("X-Trace"))
	assert.Equal(t, []string{"a", "b"}, h.Values("X-Extra"))
}

func TestClient_MethodBodyConflict(t *testing.T) {
	rec := &recorder{}
	client := NewClient(WithBaseURL("https://api.example.com"), WithFetcher(rec.fetch))

	for _, method := range []string{"GET", "head", "TRACE"} {
		_, err := client.Request(context.Background(), "/", WithMethod(method), WithBody(map[string]any{"a": 1}))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMethodBodyConflict), "method %s", method)
	}
	assert.Zero(t, rec.calls.Load())

	// an empty body is not a conflict
	_, err := client.Request(context.Background(), "/", WithBody(""))
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.calls.Load())
}

func TestClient_BodyContentType(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		header string
		want   string
		sent   string
	}{
		{name: "json", body: map[string]any{"a": 1}, want: "application/json", sent: `{"a":1}`},
		{name: "text", body: "hello", want: "text/plain; charset=utf-8", sent: "hello"},
		{name: "form", body: FormBody{Values: map[string]any{"a": []any{"1", "2"}}}, want: "application/x-www-form-urlencoded", sent: "a=1&a=2"},
		{name: "binary", body: []byte{1, 2}, want: "application/octet-stream", sent: "\x01\x02"},
		{name: "explicit header wins", body: "x", header: "text/csv", want: "text/csv", sent: "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			client := NewClient(WithFetcher(rec.fetch))
			var opts []Option
			if tt.header != "" {
				opts = append(opts, WithRequestHeader("Content-Type", tt.header))
			}
			_, err := client.Post(context.Background(), "https://api.example.com/", tt.body, opts...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.last.Load().Header.Get("Content-Type"))
			assert.Equal(t, tt.sent, *rec.body.Load())
		})
	}
}

func TestClient_MultipartBody(t *testing.T) {
	var form map[string][]string
	var file string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		form = r.MultipartForm.Value
		f, _, err := r.FormFile("upload")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(f)
		file = string(data)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	resp, err := client.Post(context.Background(), "/upload", MultipartBody{
		Fields: map[string][]string{"name": {"report"}},
		Files:  []FilePart{{Field: "upload", Filename: "r.txt", Content: strings.NewReader("contents")}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{"report"}, form["name"])
	assert.Equal(t, "contents", file)
}

func TestClient_Timeout(t *testing.T) {
	client := NewClient(
		WithTimeout(20*time.Millisecond),
		WithFetcher(func(req *http.Request) (*http.Response, error) {
			// ignores the request context on purpose
			time.Sleep(200 * time.Millisecond)
			return StubResponse(http.StatusOK, "", ""), nil
		}),
	)

	start := time.Now()
	_, err := client.Get(context.Background(), "https://api.example.com/slow")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrNetwork))
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestClient_TimeoutPerRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	_, err := client.Get(context.Background(), "/", WithRequestTimeout(30*time.Millisecond))
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestClient_TimeoutDisabledPerRequest(t *testing.T) {
	client := NewClient(WithTimeout(20*time.Millisecond), WithFetcher(func(req *http.Request) (*http.Response, error) {
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(80 * time.Millisecond):
		}
		return StubResponse(http.StatusOK, "text/plain", "slow"), nil
	}))

	_, err := client.Get(context.Background(), "https://api.example.com/")
	assert.True(t, errors.Is(err, ErrTimeout))

	resp, err := client.Get(context.Background(), "https://api.example.com/", WithRequestTimeout(-1))
	require.NoError(t, err)
	assert.Equal(t, "slow", resp.Text())
}

func TestClient_NetworkError(t *testing.T) {
	boom := errors.New("connection refused")
	client := NewClient(WithFetcher(func(*http.Request) (*http.Response, error) {
		return nil, boom
	}))

	_, err := client.Get(context.Background(), "https://api.example.com/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.True(t, errors.Is(err, boom))
}

func TestClient_CallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(WithFetcher(func(req *http.Request) (*http.Response, error) {
		cancel()
		<-req.Context().Done()
		return nil, req.Context().Err()
	}))

	_, err := client.Get(ctx, "https://api.example.com/")
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestClient_ShouldFail(t *testing.T) {
	client := NewClient(WithFetcher(func(*http.Request) (*http.Response, error) {
		return StubResponse(http.StatusNotFound, "application/json", `{"error":"missing"}`), nil
	}))

	_, err := client.Get(context.Background(), "https://api.example.com/")
	require.Error(t, err)

	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindResponse, fe.Kind)
	require.NotNil(t, fe.Response)
	assert.Equal(t, http.StatusNotFound, fe.Response.StatusCode)
	assert.Equal(t, "missing", fe.Response.Get("error").String())

	lenient := client.Extend(WithFailurePredicate(func(r *Response) bool { return r.StatusCode >= 500 }))
	resp, err := lenient.Get(context.Background(), "https://api.example.com/")
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.True(t, resp.IsClientError())
}

func TestClient_ProgressAndUpgrade(t *testing.T) {
	payload := `{"a":1}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(payload))
	}))
	defer server.Close()

	var last Progress
	client := NewClient(WithBaseURL(server.URL))
	resp, err := client.Get(context.Background(), "/", WithProgress(func(p Progress) { last = p }))
	require.NoError(t, err)

	assert.Equal(t, TypeJSON, resp.Type)
	assert.Equal(t, map[string]any{"a": float64(1)}, resp.Data)
	assert.EqualValues(t, len(payload), last.Loaded)
	assert.EqualValues(t, len(payload), last.Total)
	assert.InDelta(t, 1.0, last.Fraction, 0.0001)
}

func TestClient_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("streamed body"))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithTimeout(time.Second))
	resp, err := client.Get(context.Background(), "/", WithExpect(TypeStream))
	require.NoError(t, err)

	rc, ok := resp.Stream()
	require.True(t, ok)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "streamed body", string(data))
	assert.Error(t, resp.Decode(&struct{}{}))
}

// trackedBody records whether it was closed.
type trackedBody struct {
	io.Reader
	closed atomic.Bool
}

func (b *trackedBody) Close() error {
	b.closed.Store(true)
	return nil
}

func TestClient_StreamDiscardedAfterResponse(t *testing.T) {
	newClient := func(body *trackedBody) *Client {
		return NewClient(WithFetcher(func(*http.Request) (*http.Response, error) {
			resp := StubResponse(http.StatusOK, "text/event-stream", "")
			resp.Body = body
			return resp, nil
		}))
	}

	t.Run("hook error", func(t *testing.T) {
		body := &trackedBody{Reader: strings.NewReader("data: 1")}
		client := newClient(body)
		var ictx *Context
		client.On(AfterResponse, func(c *Context) (Result, error) {
			ictx = c
			return Result{}, errors.New("hook failed")
		}, false)

		resp, err := client.Get(context.Background(), "https://api.example.com/events", WithExpect(TypeStream))
		assert.Nil(t, resp)
		assert.ErrorContains(t, err, "hook failed")
		assert.True(t, body.closed.Load())
		require.NotNil(t, ictx)
		assert.Error(t, ictx.Context().Err())
	})

	t.Run("hook replaces stream", func(t *testing.T) {
		body := &trackedBody{Reader: strings.NewReader("data: 1")}
		client := newClient(body)
		client.On(AfterResponse, func(c *Context) (Result, error) {
			return ShortCircuit(StubResponse(http.StatusOK, "text/plain", "cached")), nil
		}, false)

		resp, err := client.Get(context.Background(), "https://api.example.com/events", WithExpect(TypeStream))
		require.NoError(t, err)
		assert.True(t, body.closed.Load())

		rc, ok := resp.Stream()
		require.True(t, ok)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "cached", string(data))
		require.NoError(t, rc.Close())
	})
}

func TestClient_Policies(t *testing.T) {
	t.Run("credentials omitted", func(t *testing.T) {
		rec := &recorder{}
		client := NewClient(WithFetcher(rec.fetch), WithHeader("Authorization", "Bearer x"), WithCredentials(CredentialsOmit))
		_, err := client.Get(context.Background(), "https://api.example.com/")
		require.NoError(t, err)
		assert.Empty(t, rec.last.Load().Header.Get("Authorization"))
	})

	t.Run("same-origin credentials stripped cross-origin", func(t *testing.T) {
		rec := &recorder{}
		client := NewClient(WithFetcher(rec.fetch), WithBaseURL("https://api.example.com"), WithHeader("Cookie", "a=b"))
		_, err := client.Get(context.Background(), "/")
		require.NoError(t, err)
		assert.Equal(t, "a=b", rec.last.Load().Header.Get("Cookie"))

		_, err = client.Get(context.Background(), "https://evil.example.net/")
		require.NoError(t, err)
		assert.Empty(t, rec.last.Load().Header.Get("Cookie"))
	})

	t.Run("same-origin mode blocks", func(t *testing.T) {
		rec := &recorder{}
		client := NewClient(WithFetcher(rec.fetch), WithBaseURL("https://api.example.com"), WithMode(ModeSameOrigin))
		_, err := client.Get(context.Background(), "https://other.example.com/")
		assert.True(t, errors.Is(err, ErrNetwork))
		assert.Zero(t, rec.calls.Load())
	})

	t.Run("cache directives", func(t *testing.T) {
		rec := &recorder{}
		client := NewClient(WithFetcher(rec.fetch), WithCache(CacheNoCache))
		_, err := client.Get(context.Background(), "https://api.example.com/")
		require.NoError(t, err)
		assert.Equal(t, "no-cache", rec.last.Load().Header.Get("Cache-Control"))
		assert.Equal(t, "no-cache", rec.last.Load().Header.Get("Pragma"))

		_, err = client.Get(context.Background(), "https://api.example.com/", WithRequestCache(CacheNoStore))
		require.NoError(t, err)
		assert.Equal(t, "no-store", rec.last.Load().Header.Get("Cache-Control"))
	})
}

func TestClient_Extend(t *testing.T) {
	rec := &recorder{}
	parent := NewClient(
		WithBaseURL("https://api.example.com"),
		WithFetcher(rec.fetch),
		WithQuery("a=1"),
		WithHeader("X-Parent", "p"),
	)
	var parentHits atomic.Int32
	_, err := parent.On(BeforeRequest, func(c *Context) (Result, error) {
		parentHits.Add(1)
		return Continue(c), nil
	}, false)
	require.NoError(t, err)

	child := parent.Extend(WithQuery("b=2"), WithHeader("X-Child", "c"))
	var childHits atomic.Int32
	_, err = child.On(BeforeRequest, func(c *Context) (Result, error) {
		childHits.Add(1)
		return Continue(c), nil
	}, false)
	require.NoError(t, err)

	_, err = child.Get(context.Background(), "/")
	require.NoError(t, err)
	req := rec.last.Load()
	assert.Equal(t, "a=1&b=2", req.URL.RawQuery)
	assert.Equal(t, "p", req.Header.Get("X-Parent"))
	assert.Equal(t, "c", req.Header.Get("X-Child"))
	assert.EqualValues(t, 1, parentHits.Load())
	assert.EqualValues(t, 1, childHits.Load())

	_, err = parent.Get(context.Background(), "/")
	require.NoError(t, err)
	req = rec.last.Load()
	assert.Equal(t, "a=1", req.URL.RawQuery)
	assert.Empty(t, req.Header.Get("X-Child"))
	assert.EqualValues(t, 2, parentHits.Load())
	assert.EqualValues(t, 1, childHits.Load())

	assert.Equal(t, "a=1", parent.Config().Query.Encode())
}

func TestClient_InvalidDefaultQuery(t *testing.T) {
	client := NewClient(WithQuery("%zz"))
	_, err := client.Get(context.Background(), "https://api.example.com/")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestClient_Concurrent(t *testing.T) {
	rec := &recorder{}
	client := NewClient(WithBaseURL("https://api.example.com"), WithFetcher(rec.fetch))
	_, err := client.On(BeforeRequest, func(c *Context) (Result, error) {
		c.Header.Set("X-ID", c.ID)
		return Continue(c), nil
	}, false)
	require.NoError(t, err)

	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := client.Get(context.Background(), "/")
			errs <- err
		}()
	}
	for i := 0; i < 20; i++ {
		assert.NoError(t, <-errs)
	}
	assert.EqualValues(t, 20, rec.calls.Load())
}
