package http

import (
	"context"
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"
)

// TimingInfo stores detailed timing information for an HTTP request.
// All durations represent the time spent in each phase of the request.
// Short-circuited invocations only carry StartTime and TotalTime.
type TimingInfo struct {
	// StartTime is when the transport call started
	StartTime time.Time

	// DNSLookupTime is the time spent looking up the DNS address
	DNSLookupTime time.Duration

	// TCPConnectTime is the time spent establishing a TCP connection
	TCPConnectTime time.Duration

	// TLSHandshakeTime is the time spent performing the TLS handshake (for HTTPS)
	TLSHandshakeTime time.Duration

	// TimeToFirstByte (TTFB) is the time from connection established to receiving the first byte
	TimeToFirstByte time.Duration

	// ContentTransferTime is the time spent reading the response body
	ContentTransferTime time.Duration

	// TotalTime is the total time from request start to completion
	TotalTime time.Duration
}

// phaseTimer collects TimingInfo from httptrace callbacks, which the transport
// may call from its own goroutines.
type phaseTimer struct {
	mu     sync.Mutex
	timing TimingInfo

	dnsStart, connectStart, tlsStart time.Time
	lastPhaseEnd                     time.Time
}

func (t *phaseTimer) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timing.StartTime = time.Now()
	t.lastPhaseEnd = t.timing.StartTime
}

// trace attaches the callbacks to ctx.
func (t *phaseTimer) trace(ctx context.Context) context.Context {
	return httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			t.mu.Lock()
			t.dnsStart = time.Now()
			t.mu.Unlock()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			t.mu.Lock()
			defer t.mu.Unlock()
			now := time.Now()
			t.timing.DNSLookupTime = now.Sub(t.dnsStart)
			t.lastPhaseEnd = now
		},
		ConnectStart: func(network, addr string) {
			t.mu.Lock()
			t.connectStart = time.Now()
			t.mu.Unlock()
		},
		ConnectDone: func(network, addr string, err error) {
			if err != nil {
				return
			}
			t.mu.Lock()
			defer t.mu.Unlock()
			now := time.Now()
			t.timing.TCPConnectTime = now.Sub(t.connectStart)
			t.lastPhaseEnd = now
		},
		TLSHandshakeStart: func() {
			t.mu.Lock()
			t.tlsStart = time.Now()
			t.mu.Unlock()
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err != nil {
				return
			}
			t.mu.Lock()
			defer t.mu.Unlock()
			now := time.Now()
			t.timing.TLSHandshakeTime = now.Sub(t.tlsStart)
			t.lastPhaseEnd = now
		},
		GotFirstResponseByte: func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			// measured from the end of the last completed phase
			t.timing.TimeToFirstByte = time.Since(t.lastPhaseEnd)
		},
	})
}

func (t *phaseTimer) finish(transfer time.Duration) TimingInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timing.StartTime.IsZero() {
		t.timing.StartTime = time.Now()
	}
	t.timing.ContentTransferTime = transfer
	t.timing.TotalTime = time.Since(t.timing.StartTime)
	return t.timing
}
