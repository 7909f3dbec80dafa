package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSigner() *Signer {
	return &Signer{
		Key:    "key",
		Secret: "secret",
		Now:    func() time.Time { return time.UnixMilli(1600000000000) },
	}
}

func hexHMAC(secret, payload string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func TestSignQuerySortsAndSigns(t *testing.T) {
	s := fixedSigner()
	got := s.SignQuery(map[string]any{"symbol": "BTCUSD", "order_status": "New", "limit": nil})

	want := "api_key=key&order_status=New&symbol=BTCUSD&timestamp=1600000000000"
	require.True(t, strings.HasPrefix(got, want+"&sign="), got)
	assert.Equal(t, want+"&sign="+hexHMAC("secret", want), got)
}

func TestWebSocketQueryExpiresFiveSecondsAhead(t *testing.T) {
	s := fixedSigner()
	got := s.WebSocketQuery()

	assert.Equal(t,
		"api_key=key&expires=1600000005000&signature="+hexHMAC("secret", "GET/realtime1600000005000"),
		got)
}

func TestEnabled(t *testing.T) {
	assert.True(t, fixedSigner().Enabled())
	assert.False(t, NewSigner("key", "").Enabled())
	var nilSigner *Signer
	assert.False(t, nilSigner.Enabled())
}

func TestEncodeSkipsNil(t *testing.T) {
	assert.Equal(t, "a=1&b=x", Encode(map[string]any{"b": "x", "a": 1, "c": nil}))
	assert.Equal(t, "", Encode(nil))
}
