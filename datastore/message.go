package datastore

import (
	"encoding/json"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/MtkN1/pybybit/store"
)

// Message types carried in the "type" field of a frame.
const (
	TypeSnapshot = "snapshot"
	TypeDelta    = "delta"
)

// decoder keeps numbers as json.Number so ids and prices keep their text.
var decoder = jsoniter.Config{UseNumber: true, EscapeHTML: false}.Froze()

// Message is a decoded WebSocket frame. Type is empty for untyped pushes.
type Message struct {
	Topic string
	Type  string
	Data  any
}

// Response is the part of a REST exchange the engine consumes.
type Response struct {
	Status int
	// Path is the request path including the encoded query string.
	Path string
	Body map[string]any
}

// OK reports whether the response is an authoritative success: HTTP 200 and
// an embedded return code of zero.
func (r *Response) OK() bool {
	if r == nil || r.Status != http.StatusOK || r.Body == nil {
		return false
	}
	code, ok := r.Body["ret_code"]
	if !ok {
		code, ok = r.Body["retCode"]
	}
	if !ok {
		return false
	}
	return isZero(code)
}

// Result returns the "result" member of the body.
func (r *Response) Result() any {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body["result"]
}

// DecodeBody parses a raw REST body into a map suitable for Response.Body.
func DecodeBody(raw []byte) (map[string]any, error) {
	var body map[string]any
	if err := decoder.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	return body, nil
}

type frame struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Data    any    `json:"data"`
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Request any    `json:"request"`
}

func decodeFrame(raw []byte) (frame, error) {
	var f frame
	err := decoder.Unmarshal(raw, &f)
	return f, err
}

func isZero(v any) bool {
	switch t := v.(type) {
	case json.Number:
		i, err := t.Int64()
		return err == nil && i == 0
	case float64:
		return t == 0
	case int:
		return t == 0
	case int64:
		return t == 0
	case string:
		return t == "0"
	}
	return false
}

// items converts a decoded payload into store items. A single object becomes
// a one element batch; anything that is not an object is dropped.
func items(data any) []store.Item {
	switch t := data.(type) {
	case []any:
		out := make([]store.Item, 0, len(t))
		for _, v := range t {
			if m, ok := asItem(v); ok {
				out = append(out, m)
			}
		}
		return out
	case []store.Item:
		return t
	case []map[string]any:
		out := make([]store.Item, 0, len(t))
		for _, m := range t {
			out = append(out, store.Item(m))
		}
		return out
	default:
		if m, ok := asItem(data); ok {
			return []store.Item{m}
		}
	}
	return nil
}

// field returns data[name] when data is an object.
func field(data any, name string) any {
	if m, ok := asItem(data); ok {
		return m[name]
	}
	return nil
}

func asItem(v any) (store.Item, bool) {
	switch t := v.(type) {
	case map[string]any:
		return store.Item(t), true
	case store.Item:
		return t, true
	}
	return nil, false
}
