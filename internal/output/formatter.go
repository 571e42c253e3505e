// Package output renders invocation results and latency stats for the
// fetchx command line in text, JSON or YAML.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"sort"
	"strings"
	"time"

	"github.com/wesleyorama2/fetchx/http"
	"github.com/wesleyorama2/fetchx/metrics"
)

// Formatter renders results as colored text.
type Formatter struct {
	Verbose bool
	NoColor bool

	colors *ColorScheme
}

// NewFormatter creates a new formatter with the given options
func NewFormatter(verbose, noColor bool) *Formatter {
	return &Formatter{
		Verbose: verbose,
		NoColor: noColor,
		colors:  NewColorScheme(noColor),
	}
}

// FormatRequest formats an outgoing request. Headers are shown only when
// verbose.
func (f *Formatter) FormatRequest(req *nethttp.Request) string {
	if req == nil {
		return ""
	}
	var buf strings.Builder
	fmt.Fprintf(&buf, "▶ REQUEST: %s %s\n", f.colors.Method.Sprint(req.Method), f.colors.URL.Sprint(req.URL.String()))
	if f.Verbose && len(req.Header) > 0 {
		buf.WriteString("  Headers:\n")
		keys := make([]string, 0, len(req.Header))
		for key := range req.Header {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			for _, value := range req.Header[key] {
				fmt.Fprintf(&buf, "    %s: %s\n", f.colors.HeaderKey.Sprint(key), value)
			}
		}
	}
	return buf.String()
}

// FormatResult formats a response, or the error that replaced it.
func (f *Formatter) FormatResult(r Result) string {
	var buf strings.Builder
	if r.Name != "" {
		fmt.Fprintf(&buf, "%s %s\n", f.colors.Name.Sprint("●"), f.colors.Name.Sprint(r.Name))
	}

	resp := r.Response
	if resp == nil {
		fmt.Fprintf(&buf, "%s %s %s: %s\n", ErrorIcon(f.NoColor), r.Method, r.URL, f.colors.Error.Sprint(errString(r.Err)))
		return buf.String()
	}

	status := fmt.Sprintf("%d %s", resp.StatusCode, resp.StatusText)
	fmt.Fprintf(&buf, "◀ RESPONSE: %s (%dms)\n", f.colors.Status(resp.StatusCode).Sprint(status), resp.GetTotalTimeMillis())

	if f.Verbose {
		t := resp.Timing
		buf.WriteString("  Timing:\n")
		fmt.Fprintf(&buf, "    DNS Lookup:         %dms\n", t.DNSLookupTime.Milliseconds())
		fmt.Fprintf(&buf, "    TCP Connection:     %dms\n", t.TCPConnectTime.Milliseconds())
		fmt.Fprintf(&buf, "    TLS Handshake:      %dms\n", t.TLSHandshakeTime.Milliseconds())
		fmt.Fprintf(&buf, "    Time to First Byte: %dms\n", resp.GetTimeToFirstByteMillis())
		fmt.Fprintf(&buf, "    Content Transfer:   %dms\n", resp.GetContentTransferTimeMillis())
		fmt.Fprintf(&buf, "    Total:              %dms\n", resp.GetTotalTimeMillis())

		if resp.Header != nil && resp.Header.Len() > 0 {
			buf.WriteString("  Headers:\n")
			resp.Header.Range(func(key string, values []string) bool {
				for _, value := range values {
					fmt.Fprintf(&buf, "    %s: %s\n", f.colors.HeaderKey.Sprint(key), value)
				}
				return true
			})
		}
	}

	if body := f.body(resp); body != "" {
		buf.WriteString("  Body:\n")
		buf.WriteString("  " + body + "\n")
	}

	if len(r.Extracted) > 0 {
		buf.WriteString("  Extracted:\n")
		names := make([]string, 0, len(r.Extracted))
		for name := range r.Extracted {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&buf, "    %s = %s\n", name, r.Extracted[name])
		}
	}

	if r.Err != nil {
		fmt.Fprintf(&buf, "%s %s\n", ErrorIcon(f.NoColor), f.colors.Error.Sprint(r.Err.Error()))
	}
	return buf.String()
}

func (f *Formatter) body(resp *http.Response) string {
	switch resp.Type {
	case http.TypeJSON:
		if resp.Data == nil {
			return ""
		}
		out, err := json.MarshalIndent(resp.Data, "  ", "  ")
		if err != nil {
			return resp.Text()
		}
		return string(out)
	case http.TypeStream:
		return "<stream>"
	case http.TypeText:
		return formatJSONString(resp.Text())
	}
	v := bodyValue(resp)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return formatJSONString(encodeJSON(v))
}

// FormatStats formats a latency and status summary.
func (f *Formatter) FormatStats(s metrics.Snapshot) string {
	var buf strings.Builder
	buf.WriteString(f.colors.Name.Sprint("Summary") + "\n")
	fmt.Fprintf(&buf, "  Requests: %d total, %s, %s, %d errors\n",
		s.TotalRequests,
		f.colors.Success.Sprintf("%d ok", s.SuccessRequests),
		f.colors.Error.Sprintf("%d failed", s.FailedRequests),
		s.Errors)
	fmt.Fprintf(&buf, "  Elapsed:  %s (%.2f req/s, %.1f%% errors)\n", round(s.Elapsed), s.RPS, s.ErrorRate*100)
	if s.Latency.Count > 0 {
		fmt.Fprintf(&buf, "  Latency:  %s\n", latencyLine(s.Latency))
	}
	if statuses := s.Statuses(); len(statuses) > 0 {
		parts := make([]string, 0, len(statuses))
		for _, code := range statuses {
			parts = append(parts, f.colors.Status(code).Sprintf("%d×%d", code, s.ByStatus[code]))
		}
		fmt.Fprintf(&buf, "  Status:   %s\n", strings.Join(parts, " "))
	}
	if len(s.Requests) > 1 {
		names := make([]string, 0, len(s.Requests))
		for name := range s.Requests {
			names = append(names, name)
		}
		sort.Strings(names)
		buf.WriteString("  Per request:\n")
		for _, name := range names {
			stats := s.Requests[name]
			fmt.Fprintf(&buf, "    %s (%d): %s\n", name, stats.Count, latencyLine(stats))
		}
	}
	return buf.String()
}

func latencyLine(l metrics.LatencyStats) string {
	return fmt.Sprintf("min %s  p50 %s  p90 %s  p95 %s  p99 %s  max %s",
		round(l.Min), round(l.P50), round(l.P90), round(l.P95), round(l.P99), round(l.Max))
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Microsecond)
}

func errString(err error) string {
	if err == nil {
		return "no response"
	}
	return err.Error()
}

// formatJSONString attempts to pretty-print a JSON string
func formatJSONString(s string) string {
	var prettyJSON bytes.Buffer
	err := json.Indent(&prettyJSON, []byte(strings.TrimSpace(s)), "  ", "  ")
	if err != nil {
		return s
	}
	return prettyJSON.String()
}
