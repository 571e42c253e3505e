package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/wesleyorama2/fetchx/merge"
	"github.com/wesleyorama2/fetchx/query"
)

// Body is one of JSONBody, TextBody, FormBody, MultipartBody or BinaryBody.
type Body interface {
	// contentType is the type inferred when the request sets none.
	contentType() string
	empty() bool
}

// JSONBody is marshaled with encoding/json.
type JSONBody struct {
	Value any
}

// TextBody is sent as UTF-8 text.
type TextBody string

// FormBody is sent URL-encoded. Values accepts any query.ToMultiMap source,
// so nested records encode with bracket notation.
type FormBody struct {
	Values any
}

// FilePart is one file of a MultipartBody.
type FilePart struct {
	Field       string
	Filename    string
	ContentType string
	Content     io.Reader
}

// MultipartBody is sent as multipart/form-data.
type MultipartBody struct {
	Fields map[string][]string
	Files  []FilePart

	boundary string
}

// BinaryBody is passed through untouched.
type BinaryBody struct {
	Content     io.Reader
	ContentType string
}

func (JSONBody) contentType() string  { return "application/json" }
func (TextBody) contentType() string  { return "text/plain; charset=utf-8" }
func (FormBody) contentType() string  { return "application/x-www-form-urlencoded" }
func (b *MultipartBody) contentType() string {
	return "multipart/form-data; boundary=" + b.boundary
}
func (b BinaryBody) contentType() string {
	if b.ContentType != "" {
		return b.ContentType
	}
	return "application/octet-stream"
}

func (b JSONBody) empty() bool { return b.Value == nil }
func (b TextBody) empty() bool { return b == "" }
func (b FormBody) empty() bool {
	v, err := query.ToMultiMap(b.Values)
	return err == nil && v.Len() == 0
}
func (b *MultipartBody) empty() bool { return len(b.Fields) == 0 && len(b.Files) == 0 }
func (b BinaryBody) empty() bool     { return b.Content == nil }

// BodyOf classifies a caller-supplied body. Strings become TextBody, byte
// slices and readers BinaryBody, url.Values and *query.Values FormBody, and
// everything else JSONBody. A Body is returned as is.
func BodyOf(v any) Body {
	switch b := v.(type) {
	case nil:
		return nil
	case Body:
		return b
	case MultipartBody:
		return &b
	case string:
		return TextBody(b)
	case []byte:
		return BinaryBody{Content: bytes.NewReader(b)}
	case io.Reader:
		return BinaryBody{Content: b}
	case url.Values, *query.Values:
		return FormBody{Values: b}
	}
	return JSONBody{Value: v}
}

// serialize turns body into a reader and the Content-Type it implies.
func serialize(body Body) (io.Reader, string, error) {
	switch b := body.(type) {
	case JSONBody:
		data, err := json.Marshal(b.Value)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), b.contentType(), nil
	case TextBody:
		return strings.NewReader(string(b)), b.contentType(), nil
	case FormBody:
		v, err := query.ToMultiMap(b.Values)
		if err != nil {
			return nil, "", err
		}
		return strings.NewReader(v.Encode()), b.contentType(), nil
	case *MultipartBody:
		return b.encode()
	case BinaryBody:
		return b.Content, b.contentType(), nil
	}
	return nil, "", nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func (b *MultipartBody) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, k := range merge.SortedKeys(b.Fields) {
		for _, v := range b.Fields[k] {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
	}
	for _, f := range b.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(f.Field), quoteEscaper.Replace(f.Filename)))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if f.Content != nil {
			if _, err := io.Copy(part, f.Content); err != nil {
				return nil, "", err
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	b.boundary = w.Boundary()
	return &buf, b.contentType(), nil
}
