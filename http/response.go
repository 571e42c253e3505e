package http

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/fetchx/header"
)

// Response is a resolved response. It is not modified after Resolve returns.
type Response struct {
	// OK is true for 2xx statuses.
	OK bool

	// StatusCode is the HTTP status code (e.g., 200, 404, 500)
	StatusCode int

	// StatusText is the reason phrase (e.g., "Not Found")
	StatusText string

	// URL is the final request URL, if the transport reported one
	URL string

	Header *header.Header

	// Type is how the body was decoded. It may differ from the requested
	// type after a JSON upgrade or a text fallback.
	Type ResponseType

	// Data holds the decoded body:
	//   - TypeJSON: the value produced by encoding/json into an any
	//   - TypeText: string
	//   - TypeForm: *multipart.Form, or a nested record for urlencoded bodies
	//   - TypeBlob, TypeArrayBuffer: []byte
	//   - TypeStream: io.ReadCloser, which the caller must close
	Data any

	// Raw is the body as read, nil for streams.
	Raw []byte

	// Timing contains detailed timing information
	Timing TimingInfo
}

// Text returns the body as a string.
func (r *Response) Text() string {
	if s, ok := r.Data.(string); ok {
		return s
	}
	return string(r.Raw)
}

// Decode unmarshals the JSON body into v.
//
// Example:
//
//	var users []User
//	if err := resp.Decode(&users); err != nil {
//	    log.Fatal(err)
//	}
func (r *Response) Decode(v any) error {
	if r.Type == TypeStream {
		return fmt.Errorf("cannot decode a streamed body")
	}
	return json.Unmarshal(r.Raw, v)
}

// Get extracts a value from a JSON body with a gjson path such as
// "users.0.name".
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Raw, path)
}

// Stream returns the unread body of a TypeStream response.
func (r *Response) Stream() (io.ReadCloser, bool) {
	rc, ok := r.Data.(io.ReadCloser)
	return rc, ok
}

// GetHeader returns the value of the specified header.
// Returns an empty string if the header is not present.
func (r *Response) GetHeader(key string) string {
	return r.Header.Get(key)
}

// IsSuccess returns true if the response status code is in the 2xx range.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsRedirect returns true if the response status code is in the 3xx range.
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// IsClientError returns true if the response status code is in the 4xx range.
func (r *Response) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

// IsServerError returns true if the response status code is in the 5xx range.
func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500 && r.StatusCode < 600
}

// IsError returns true if the response status code indicates an error (4xx or 5xx).
func (r *Response) IsError() bool {
	return r.IsClientError() || r.IsServerError()
}

// GetTimeToFirstByteMillis returns the time to first byte in milliseconds.
func (r *Response) GetTimeToFirstByteMillis() int64 {
	return r.Timing.TimeToFirstByte.Milliseconds()
}

// GetContentTransferTimeMillis returns the content transfer time in milliseconds.
func (r *Response) GetContentTransferTimeMillis() int64 {
	return r.Timing.ContentTransferTime.Milliseconds()
}

// GetTotalTimeMillis returns the total time in milliseconds.
func (r *Response) GetTotalTimeMillis() int64 {
	return r.Timing.TotalTime.Milliseconds()
}
