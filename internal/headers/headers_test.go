package headers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaders(t *testing.T) {
	// Test: Case insensitive lookup
	h := NewHeaders()
	h.Add("Content-Type", "application/json")
	val, ok := h.Get("content-type")
	assert.True(t, ok)
	assert.Equal(t, "application/json", val)
	val, ok = h.Get("CONTENT-TYPE")
	assert.True(t, ok)
	assert.Equal(t, "application/json", val)

	// Test: Duplicate headers are merged in arrival order
	h = NewHeaders()
	h.Add("X", "a")
	h.Add("x", "b")
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, "a,b", h.Value("X"))
	assert.Equal(t, "X", h.Fields()[0].Name)

	// Test: Insertion order is preserved
	h = NewHeaders()
	h.Add("Host", "example.com")
	h.Add("Accept", "*/*")
	h.Add("User-Agent", "test")
	h.Add("Accept", "text/html")
	names := []string{}
	for _, f := range h.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Host", "Accept", "User-Agent"}, names)
	assert.Equal(t, "*/*,text/html", h.Value("accept"))

	// Test: Set replaces in place
	h.Set("accept", "new-value")
	assert.Equal(t, "new-value", h.Value("Accept"))
	assert.Equal(t, "Accept", h.Fields()[1].Name)

	// Test: Del keeps index consistent
	h.Del("Host")
	assert.False(t, h.Has("host"))
	assert.Equal(t, "new-value", h.Value("Accept"))
	assert.Equal(t, "test", h.Value("user-agent"))

	// Test: Get on non-existent header
	val, ok = h.Get("non-existent")
	assert.False(t, ok)
	assert.Equal(t, "", val)

	// Test: Reset
	h.Reset()
	assert.Equal(t, 0, h.Len())
	assert.False(t, h.Has("accept"))
}

func TestHasToken(t *testing.T) {
	h := NewHeaders()
	h.Add("Connection", "keep-alive, Upgrade")
	h.Add("Accept-Encoding", "deflate, gzip;q=1.0")

	assert.True(t, h.HasToken("connection", "upgrade"))
	assert.True(t, h.HasToken("Connection", "Keep-Alive"))
	assert.True(t, h.HasToken("accept-encoding", "gzip"))
	assert.False(t, h.HasToken("accept-encoding", "br"))
	assert.False(t, h.HasToken("upgrade", "websocket"))
}

func TestTokenChars(t *testing.T) {
	for _, b := range []byte("GETX-Custom_1~") {
		assert.True(t, IsTokenChar(b), "%q", b)
	}
	for _, b := range []byte(" :(),/\"\x00\x7f") {
		assert.False(t, IsTokenChar(b), "%q", b)
	}
	assert.True(t, IsCtl('\r'))
	assert.True(t, IsCtl(127))
	assert.False(t, IsCtl('a'))
}
