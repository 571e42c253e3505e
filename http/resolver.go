package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/fetchx/header"
	"github.com/wesleyorama2/fetchx/query"
)

// ResponseType selects how a response body is decoded.
type ResponseType string

const (
	TypeJSON        ResponseType = "json"
	TypeText        ResponseType = "text"
	TypeForm        ResponseType = "form"
	TypeBlob        ResponseType = "blob"
	TypeArrayBuffer ResponseType = "arraybuffer"
	TypeStream      ResponseType = "stream"

	// TypeUnknown lets the resolver guess from Content-Type.
	TypeUnknown ResponseType = ""
)

const chunkSize = 32 * 1024

// maxFormMemory caps multipart parts held in memory while decoding.
const maxFormMemory = 32 << 20

var binaryPrefixes = []string{"image/", "audio/", "video/", "font/"}

var binaryTypes = map[string]bool{
	"application/pdf":   true,
	"application/zip":   true,
	"application/gzip":  true,
	"application/x-tar": true,
	"application/wasm":  true,
}

// GuessResponseType maps a Content-Type to a ResponseType, in order of
// precedence: json, text, form, blob, arraybuffer, unknown.
func GuessResponseType(contentType string) ResponseType {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	switch {
	case mt == "":
		return TypeUnknown
	case strings.Contains(mt, "json"):
		return TypeJSON
	case strings.HasPrefix(mt, "text/"), strings.Contains(mt, "xml"),
		strings.Contains(mt, "javascript"), strings.Contains(mt, "html"):
		return TypeText
	case mt == "multipart/form-data", mt == "application/x-www-form-urlencoded":
		return TypeForm
	case binaryTypes[mt]:
		return TypeBlob
	}
	for _, p := range binaryPrefixes {
		if strings.HasPrefix(mt, p) {
			return TypeBlob
		}
	}
	if mt == "application/octet-stream" {
		return TypeArrayBuffer
	}
	return TypeUnknown
}

// ResolveOptions tunes Resolve.
type ResolveOptions struct {
	// Expect overrides Content-Type sniffing.
	Expect     ResponseType
	OnProgress func(Progress)

	// ShouldFail defaults to DefaultShouldFail.
	ShouldFail func(*Response) bool
}

// Resolve decodes a transport response. Every path that produces a response,
// including short-circuiting hooks, goes through here.
//
// Unless the type is TypeStream the body is consumed and closed. A decode
// failure falls back once to reading the body as text; if that fails too the
// error has KindBodyTransform. Finally ShouldFail may turn the result into a
// KindResponse error that still carries the Response.
func Resolve(raw *http.Response, opts ResolveOptions) (*Response, error) {
	if raw == nil {
		return nil, newError(KindBodyTransform, nil, "nil response")
	}
	resp := newResponse(raw)

	explicit := opts.Expect != TypeUnknown
	resp.Type = opts.Expect
	if !explicit {
		resp.Type = GuessResponseType(resp.Header.Get("Content-Type"))
	}

	body := raw.Body
	if body == nil {
		body = http.NoBody
	}

	if resp.Type == TypeStream {
		resp.Data = body
	} else {
		defer body.Close()
		if err := decode(resp, body, raw.ContentLength, explicit, opts.OnProgress); err != nil {
			return nil, err
		}
	}

	shouldFail := opts.ShouldFail
	if shouldFail == nil {
		shouldFail = DefaultShouldFail
	}
	if shouldFail(resp) {
		return resp, &Error{
			Kind:     KindResponse,
			Message:  "response rejected: " + strconv.Itoa(resp.StatusCode) + " " + resp.StatusText,
			Response: resp,
		}
	}
	return resp, nil
}

func newResponse(raw *http.Response) *Response {
	h, _ := header.From(raw.Header)
	resp := &Response{
		OK:         raw.StatusCode >= 200 && raw.StatusCode < 300,
		StatusCode: raw.StatusCode,
		StatusText: statusText(raw),
		Header:     h,
	}
	if raw.Request != nil && raw.Request.URL != nil {
		resp.URL = raw.Request.URL.String()
	}
	return resp
}

func statusText(raw *http.Response) string {
	if text, ok := strings.CutPrefix(raw.Status, strconv.Itoa(raw.StatusCode)); ok && text != "" {
		return strings.TrimSpace(text)
	}
	if raw.Status != "" && raw.Status != strconv.Itoa(raw.StatusCode) {
		return raw.Status
	}
	return http.StatusText(raw.StatusCode)
}

func decode(resp *Response, body io.Reader, total int64, explicit bool, onProgress func(Progress)) error {
	var (
		data []byte
		err  error
	)
	if resp.Type == TypeBlob || resp.Type == TypeArrayBuffer {
		data, err = io.ReadAll(body)
	} else {
		data, err = readChunks(body, total, onProgress)
	}
	if err == nil {
		resp.Raw = data
		err = decodeBytes(resp, data, explicit)
		if err == nil {
			return nil
		}
	}
	return fallbackText(resp, data, body, err)
}

// readChunks reads body incrementally and reports progress per chunk. The
// bytes read so far are returned along with any read error.
func readChunks(body io.Reader, total int64, onProgress func(Progress)) ([]byte, error) {
	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(min(total, 64<<20)))
	}
	chunk := make([]byte, chunkSize)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if onProgress != nil {
				p := Progress{Loaded: int64(buf.Len()), Total: total}
				if total > 0 {
					p.Fraction = float64(p.Loaded) / float64(total)
				} else {
					p.Total = -1
				}
				onProgress(p)
			}
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), err
		}
	}
}

func decodeBytes(resp *Response, data []byte, explicit bool) error {
	switch resp.Type {
	case TypeBlob, TypeArrayBuffer:
		resp.Data = data
	case TypeJSON:
		if len(bytes.TrimSpace(data)) == 0 {
			resp.Data = nil
			return nil
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		resp.Data = v
	case TypeForm:
		v, err := decodeForm(resp.Header.Get("Content-Type"), data)
		if err != nil {
			return err
		}
		resp.Data = v
	default:
		resp.Type = TypeText
		text := string(data)
		resp.Data = text
		if !explicit && looksLikeJSON(text) {
			var v any
			if err := json.Unmarshal(data, &v); err == nil {
				resp.Type = TypeJSON
				resp.Data = v
			}
		}
	}
	return nil
}

func looksLikeJSON(text string) bool {
	t := strings.TrimSpace(text)
	if len(t) < 2 {
		return false
	}
	first, last := t[0], t[len(t)-1]
	if !(first == '{' && last == '}') && !(first == '[' && last == ']') {
		return false
	}
	return gjson.Valid(t)
}

func decodeForm(contentType string, data []byte) (any, error) {
	mt, params, err := mime.ParseMediaType(contentType)
	if err == nil && mt == "multipart/form-data" {
		r := multipart.NewReader(bytes.NewReader(data), params["boundary"])
		return r.ReadForm(maxFormMemory)
	}
	v, err := query.Parse(string(data))
	if err != nil {
		return nil, err
	}
	return query.FromMultiMap(v), nil
}

func fallbackText(resp *Response, captured []byte, body io.Reader, cause error) error {
	rest, err := io.ReadAll(body)
	if err != nil {
		return newError(KindBodyTransform, errors.Join(cause, err), "decode %s body", resp.Type)
	}
	data := append(captured, rest...)
	resp.Type = TypeText
	resp.Raw = data
	resp.Data = string(data)
	return nil
}
