package throttle

import (
	"context"
	"errors"
	nethttp "net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/fetchx/http"
)

func newClient(calls *atomic.Int32) *http.Client {
	return http.NewClient(http.WithFetcher(func(*nethttp.Request) (*nethttp.Response, error) {
		calls.Add(1)
		return http.StubResponse(nethttp.StatusOK, "text/plain", "ok"), nil
	}))
}

func TestThrottle_Spacing(t *testing.T) {
	var calls atomic.Int32
	client := newClient(&calls)
	_, err := New(20, 1).Attach(client)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 4; i++ {
		_, err := client.Get(context.Background(), "https://api.example.com/")
		require.NoError(t, err)
	}
	// first call takes the initial token, the other three wait ~50ms each
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
	assert.EqualValues(t, 4, calls.Load())
}

func TestThrottle_Unlimited(t *testing.T) {
	th := New(0, 0)
	assert.True(t, th.Limit() > 1e300)

	th.SetRate(5, 2)
	assert.Equal(t, 5.0, th.Limit())
}

func TestThrottle_Deadline(t *testing.T) {
	var calls atomic.Int32
	client := newClient(&calls)
	th := New(0.5, 1)
	_, err := th.Attach(client)
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "https://api.example.com/")
	require.NoError(t, err)

	// the next token is two seconds away, past the caller's deadline
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = client.Get(ctx, "https://api.example.com/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beforeActualFetch hook")
	assert.Less(t, time.Since(start), time.Second)
	assert.EqualValues(t, 1, calls.Load())
}

func TestThrottle_Cancel(t *testing.T) {
	var calls atomic.Int32
	client := newClient(&calls)
	_, err := New(0.5, 1).Attach(client)
	require.NoError(t, err)
	_, err = client.Get(context.Background(), "https://api.example.com/")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Get(ctx, "https://api.example.com/")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.EqualValues(t, 1, calls.Load())
}
