package traffic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeaderCaseInsensitive(t *testing.T) {
	h := make(Header)
	h.Set("Content-Type", "application/json")
	assert.Equal(t, "application/json", h.Get("content-type"))
	h.Del("CONTENT-TYPE")
	assert.Empty(t, h.Get("Content-Type"))

	var nilHeader Header
	assert.Empty(t, nilHeader.Get("x"))
}

func TestNewInterceptedRequest(t *testing.T) {
	now := time.Now()
	r := NewInterceptedRequest("post", "https://x.test/api", now)
	assert.Equal(t, "POST", r.Method)
	assert.Equal(t, now, r.Timestamp)

	r = NewInterceptedRequest("", "https://x.test/api", now)
	assert.Equal(t, "GET", r.Method)
}

func TestMethodHasBody(t *testing.T) {
	assert.False(t, MethodHasBody("GET"))
	assert.False(t, MethodHasBody("head"))
	assert.False(t, MethodHasBody("OPTIONS"))
	assert.True(t, MethodHasBody("POST"))
	assert.True(t, MethodHasBody("put"))
	assert.True(t, MethodHasBody("PATCH"))
	assert.True(t, MethodHasBody("DELETE"))
}
