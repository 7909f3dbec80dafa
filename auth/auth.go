// Package auth signs private Bybit REST queries and WebSocket handshakes with
// HMAC-SHA256.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// wsExpiry is how long a signed WebSocket handshake stays valid.
const wsExpiry = 5 * time.Second

// Signer holds an API key pair. The zero Now uses time.Now.
type Signer struct {
	Key    string
	Secret string
	Now    func() time.Time
}

// NewSigner returns a Signer for the key pair.
func NewSigner(key, secret string) *Signer {
	return &Signer{Key: key, Secret: secret}
}

// Enabled reports whether a key pair is configured.
func (s *Signer) Enabled() bool {
	return s != nil && s.Key != "" && s.Secret != ""
}

func (s *Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// SignQuery returns params plus api_key and timestamp, rendered in sorted key
// order and followed by the sign parameter. Nil values are dropped.
func (s *Signer) SignQuery(params map[string]any) string {
	all := make(map[string]any, len(params)+2)
	for k, v := range params {
		if v != nil {
			all[k] = v
		}
	}
	all["api_key"] = s.Key
	all["timestamp"] = s.now().UnixMilli()

	query := Encode(all)
	return query + "&sign=" + s.sign(query)
}

// WebSocketQuery returns the api_key, expires and signature parameters that
// authenticate a private WebSocket connection.
func (s *Signer) WebSocketQuery() string {
	expires := strconv.FormatInt(s.now().Add(wsExpiry).UnixMilli(), 10)
	return "api_key=" + s.Key + "&expires=" + expires + "&signature=" + s.sign("GET/realtime"+expires)
}

func (s *Signer) sign(payload string) string {
	h := hmac.New(sha256.New, []byte(s.Secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// Encode renders params as k=v pairs joined by & in sorted key order, the
// form Bybit signs. Nil values are skipped.
func Encode(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fmt.Sprint(params[k]))
	}
	return b.String()
}
