package cdp

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/stretchr/testify/assert"
)

func TestToInterceptedRequest(t *testing.T) {
	post := `{"value":4}`
	code := 201
	ev := &fetch.RequestPausedReply{
		RequestID: "interception-1",
		Request: network.Request{
			URL:      "https://x.test/api/rating/9",
			Method:   "POST",
			Headers:  network.Headers(`{"Content-Type":"application/json"}`),
			PostData: &post,
		},
		ResponseStatusCode: &code,
		ResponseHeaders:    []fetch.HeaderEntry{{Name: "X-Request-Id", Value: "r-1"}},
	}
	at := time.UnixMilli(1700000000000)
	tx := ToInterceptedRequest(ev, []byte(`{"data":{"id":"r"}}`), at)

	assert.Equal(t, "interception-1", tx.ID)
	assert.Equal(t, "POST", tx.Method)
	assert.Equal(t, at, tx.Timestamp)
	assert.Equal(t, "application/json", tx.RequestHeaders.Get("content-type"))
	assert.Equal(t, post, string(tx.RequestBody))
	assert.Equal(t, 201, tx.StatusCode)
	assert.Equal(t, "r-1", tx.ResponseHeaders.Get("x-request-id"))
	assert.Equal(t, `{"data":{"id":"r"}}`, string(tx.ResponseBody))
}

func TestDecodeBody(t *testing.T) {
	plain := &fetch.GetResponseBodyReply{Body: "hi"}
	assert.Equal(t, []byte("hi"), DecodeBody(plain))

	enc := &fetch.GetResponseBodyReply{Body: base64.StdEncoding.EncodeToString([]byte("bin")), Base64Encoded: true}
	assert.Equal(t, []byte("bin"), DecodeBody(enc))

	bad := &fetch.GetResponseBodyReply{Body: "!!", Base64Encoded: true}
	assert.Nil(t, DecodeBody(bad))
	assert.Nil(t, DecodeBody(nil))
}

func TestHasReadableBody(t *testing.T) {
	ok, redirect := 200, 302
	failed := network.ErrorReasonFailed
	assert.True(t, HasReadableBody(&fetch.RequestPausedReply{ResponseStatusCode: &ok}))
	assert.False(t, HasReadableBody(&fetch.RequestPausedReply{ResponseStatusCode: &redirect}))
	assert.False(t, HasReadableBody(&fetch.RequestPausedReply{}))
	assert.False(t, HasReadableBody(&fetch.RequestPausedReply{ResponseStatusCode: &ok, ResponseErrorReason: &failed}))
}
