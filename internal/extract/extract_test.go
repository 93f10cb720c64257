package extract

import (
	"testing"

	"eventcorr/pkg/domain"

	"github.com/stretchr/testify/assert"
)

func TestFromBody_JSON(t *testing.T) {
	body := []byte(`{"data":{"value":4,"items":[{"id":"a"},{"id":"b"}],"none":null,"empty":""}}`)

	v, ok := FromBody(body, "data.value")
	assert.True(t, ok)
	assert.Equal(t, float64(4), v)

	v, ok = FromBody(body, "data.items.1.id")
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = FromBody(body, "data.none")
	assert.False(t, ok)
	_, ok = FromBody(body, "data.empty")
	assert.False(t, ok)
	_, ok = FromBody(body, "data.missing")
	assert.False(t, ok)

	v, ok = FromBody(body, "data.items.#")
	assert.True(t, ok)
	assert.Equal(t, float64(2), v)
}

func TestFromBody_NonJSON(t *testing.T) {
	v, ok := FromBody([]byte("rating=5&product=p-1"), "rating")
	assert.True(t, ok)
	assert.Equal(t, "5", v)

	v, ok = FromBody([]byte("  plain-token  "), "")
	assert.True(t, ok)
	assert.Equal(t, "plain-token", v)

	_, ok = FromBody([]byte("<html>oops</html>"), "data.value")
	assert.False(t, ok)
	_, ok = FromBody(nil, "")
	assert.False(t, ok)
}

func TestFromString(t *testing.T) {
	v, ok := FromString(`{"user":{"id":12}}`, "user.id")
	assert.True(t, ok)
	assert.Equal(t, float64(12), v)

	v, ok = FromString("raw", "")
	assert.True(t, ok)
	assert.Equal(t, "raw", v)

	_, ok = FromString("raw", "user.id")
	assert.False(t, ok)
	_, ok = FromString("   ", "")
	assert.False(t, ok)
}

func TestFromURL(t *testing.T) {
	u := "https://x.test/api/product/123/reviews?sort=new&page=2"

	v, ok := FromURL(u, domain.MappingConfig{Pattern: "product/:id", Param: "id"})
	assert.True(t, ok)
	assert.Equal(t, "123", v)

	v, ok = FromURL(u, domain.MappingConfig{Param: "page"})
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	v, ok = FromURL(u, domain.MappingConfig{Segment: 3})
	assert.True(t, ok)
	assert.Equal(t, "123", v)

	_, ok = FromURL(u, domain.MappingConfig{Segment: 9})
	assert.False(t, ok)
	_, ok = FromURL(u, domain.MappingConfig{Param: "missing"})
	assert.False(t, ok)
	_, ok = FromURL(u, domain.MappingConfig{})
	assert.False(t, ok)
}
