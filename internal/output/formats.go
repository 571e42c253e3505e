package output

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	nethttp "net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/fetchx/http"
	"github.com/wesleyorama2/fetchx/metrics"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	// FormatText is the default colored human-readable format
	FormatText OutputFormat = "text"
	// FormatJSON renders each result as an indented JSON document
	FormatJSON OutputFormat = "json"
	// FormatYAML renders each result as a YAML document
	FormatYAML OutputFormat = "yaml"
)

// ParseFormat validates a format name. The empty string means text.
func ParseFormat(name string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(name)); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", name)
	}
}

// Result is the outcome of one invocation as the CLI reports it.
type Result struct {
	// Name is the config request name, empty for ad-hoc requests.
	Name   string
	Method string
	URL    string

	// Response is set whenever the server answered, including for
	// rejected statuses.
	Response  *http.Response
	Extracted map[string]string
	Err       error
}

// FormatProvider renders requests, results and stats.
type FormatProvider interface {
	FormatRequest(req *nethttp.Request) string
	FormatResult(r Result) string
	FormatStats(s metrics.Snapshot) string
}

// TimingData is the serialized form of http.TimingInfo, in milliseconds.
type TimingData struct {
	DNSLookup       int64 `json:"dnsLookup" yaml:"dnsLookup"`
	TCPConnect      int64 `json:"tcpConnect" yaml:"tcpConnect"`
	TLSHandshake    int64 `json:"tlsHandshake" yaml:"tlsHandshake"`
	TimeToFirstByte int64 `json:"timeToFirstByte" yaml:"timeToFirstByte"`
	ContentTransfer int64 `json:"contentTransfer" yaml:"contentTransfer"`
	Total           int64 `json:"total" yaml:"total"`
}

// ResultData is the serialized form of a Result.
type ResultData struct {
	Name       string              `json:"name,omitempty" yaml:"name,omitempty"`
	Method     string              `json:"method" yaml:"method"`
	URL        string              `json:"url" yaml:"url"`
	Status     int                 `json:"status,omitempty" yaml:"status,omitempty"`
	StatusText string              `json:"statusText,omitempty" yaml:"statusText,omitempty"`
	Type       string              `json:"type,omitempty" yaml:"type,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body       any                 `json:"body,omitempty" yaml:"body,omitempty"`
	Timing     *TimingData         `json:"timing,omitempty" yaml:"timing,omitempty"`
	Extracted  map[string]string   `json:"extracted,omitempty" yaml:"extracted,omitempty"`
	Error      string              `json:"error,omitempty" yaml:"error,omitempty"`
}

func millis(d time.Duration) int64 { return d.Milliseconds() }

// NewResultData converts r for serialization. Headers are only included
// when verbose is set.
func NewResultData(r Result, verbose bool) ResultData {
	data := ResultData{Name: r.Name, Method: r.Method, URL: r.URL, Extracted: r.Extracted}
	if r.Err != nil {
		data.Error = r.Err.Error()
	}
	resp := r.Response
	if resp == nil {
		return data
	}
	if resp.URL != "" {
		data.URL = resp.URL
	}
	data.Status = resp.StatusCode
	data.StatusText = resp.StatusText
	data.Type = string(resp.Type)
	data.Body = bodyValue(resp)
	t := resp.Timing
	data.Timing = &TimingData{
		DNSLookup:       millis(t.DNSLookupTime),
		TCPConnect:      millis(t.TCPConnectTime),
		TLSHandshake:    millis(t.TLSHandshakeTime),
		TimeToFirstByte: millis(t.TimeToFirstByte),
		ContentTransfer: millis(t.ContentTransferTime),
		Total:           millis(t.TotalTime),
	}
	if verbose && resp.Header != nil && resp.Header.Len() > 0 {
		data.Headers = make(map[string][]string, resp.Header.Len())
		resp.Header.Range(func(key string, values []string) bool {
			data.Headers[key] = values
			return true
		})
	}
	return data
}

// bodyValue returns a serializable view of the decoded body.
func bodyValue(resp *http.Response) any {
	switch data := resp.Data.(type) {
	case nil:
		return nil
	case string:
		if data == "" {
			return nil
		}
		return data
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(data))
	case *multipart.Form:
		return data.Value
	}
	if resp.Type == http.TypeStream {
		return "<stream>"
	}
	return resp.Data
}

// JSONFormatter renders results as indented JSON.
type JSONFormatter struct {
	Verbose bool
}

// FormatRequest is empty: requests are reported inside their result.
func (f *JSONFormatter) FormatRequest(*nethttp.Request) string { return "" }

func (f *JSONFormatter) FormatResult(r Result) string {
	return encodeJSON(NewResultData(r, f.Verbose))
}

func (f *JSONFormatter) FormatStats(s metrics.Snapshot) string {
	return encodeJSON(map[string]metrics.Snapshot{"stats": s})
}

func encodeJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error()) + "\n"
	}
	return string(out) + "\n"
}

// YAMLFormatter renders results as a stream of YAML documents.
type YAMLFormatter struct {
	Verbose bool
}

func (f *YAMLFormatter) FormatRequest(*nethttp.Request) string { return "" }

func (f *YAMLFormatter) FormatResult(r Result) string {
	return encodeYAML(NewResultData(r, f.Verbose))
}

func (f *YAMLFormatter) FormatStats(s metrics.Snapshot) string {
	return encodeYAML(map[string]metrics.Snapshot{"stats": s})
}

func encodeYAML(v any) string {
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("---\nerror: %q\n", err.Error())
	}
	return "---\n" + string(out)
}

// GetFormatter returns the formatter for format.
func GetFormatter(format OutputFormat, verbose bool, noColor bool) FormatProvider {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Verbose: verbose}
	case FormatYAML:
		return &YAMLFormatter{Verbose: verbose}
	default:
		return NewFormatter(verbose, noColor)
	}
}
