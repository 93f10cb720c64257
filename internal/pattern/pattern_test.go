package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch_FullWithQueryString(t *testing.T) {
	u := "https://x.test/api/product/123/details?ref=a"
	p := "/api/product/:id/details"
	assert.True(t, Match(u, p))
	assert.Equal(t, map[string]string{"id": "123"}, ExtractParams(u, p))
}

func TestMatch_PartialWithoutLeadingSlash(t *testing.T) {
	u := "/shop/product/55/reviews"
	p := "product/:id"
	assert.True(t, Match(u, p))
	assert.Equal(t, map[string]string{"id": "55"}, ExtractParams(u, p))

	m, err := Compile(p)
	require.NoError(t, err)
	assert.False(t, m.MatchFull(u))
	assert.Equal(t, "/product/:id", m.String())
}

func TestMatch_BraceSyntax(t *testing.T) {
	p := "/api/{kind}/{id}"
	assert.True(t, Match("/api/review/9", p))
	assert.Equal(t, map[string]string{"kind": "review", "id": "9"}, ExtractParams("/api/review/9", p))
}

func TestMatch_SubsequenceNonContiguous(t *testing.T) {
	p := "/api/:id/submit"
	u := "/api/v2/items/77/submit"
	assert.True(t, Match(u, p))
	params := ExtractParams(u, p)
	assert.Len(t, params, 1)
	assert.NotEmpty(t, params["id"])
}

func TestMatch_NoReordering(t *testing.T) {
	// 字面段必须按顺序出现
	assert.False(t, Match("/details/123/product", "/product/:id/details"))
	assert.True(t, MatchStaticSegments("/details/123/product", "/product/:id/details"))
}

func TestMatch_PlaceholderNeedsSegment(t *testing.T) {
	assert.False(t, Match("/shop/product", "product/:id"))
	assert.False(t, Match("/product/", "/product/:id"))
}

func TestMatch_PartialPreservesLiteralOrder(t *testing.T) {
	cases := []struct {
		url, pattern string
	}{
		{"/a/b/c/d", "/b/:x"},
		{"/a/x/b/y/c", "/a/b/c"},
		{"/v1/cart/items/3/rate", "cart/:item/rate"},
		{"/z/a/q/b", "a/:p/b"},
	}
	for _, c := range cases {
		m, err := Compile(c.pattern)
		require.NoError(t, err)
		if !m.Match(c.url) {
			continue
		}
		segs := Segments(c.url)
		pos := 0
		for _, lit := range m.Literals() {
			found := false
			for pos < len(segs) {
				pos++
				if segs[pos-1] == lit {
					found = true
					break
				}
			}
			assert.True(t, found, "literal %q out of order in %q", lit, c.url)
		}
	}
}

func TestExtractParams_FullMatchReturnsEveryPlaceholder(t *testing.T) {
	p := "/u/:user/orders/{order}/:line"
	u := "https://shop.test/u/alice/orders/o-9/3?x=1#frag"
	m, err := Compile(p)
	require.NoError(t, err)
	require.True(t, m.MatchFull(u))
	params := m.ExtractParams(u)
	require.Len(t, params, len(m.Params()))
	for _, name := range m.Params() {
		assert.NotEmpty(t, params[name])
	}
}

func TestMalformedPatternsFailClosed(t *testing.T) {
	for _, p := range []string{"", "  ", "/api/:", "/api/{}", "/api/{id", "/a/x{y}", "/:id/:id", "/a/:bad name"} {
		_, err := Compile(p)
		assert.ErrorIs(t, err, ErrMalformed, p)
		assert.False(t, Match("/api/1", p), p)
		assert.False(t, MatchStaticSegments("/api/1", p), p)
		assert.Empty(t, ExtractParams("/api/1", p), p)
	}
}

func TestMatchStaticSegments(t *testing.T) {
	assert.True(t, MatchStaticSegments("https://x.test/api/rate/5", "/api/rate/:score"))
	assert.True(t, MatchStaticSegments("/x/rate/y/api", "/api/rate"))
	assert.False(t, MatchStaticSegments("/api/review/5", "/api/rate/:score"))
	assert.True(t, MatchStaticSegments("/anything", "/:only"))
}

func TestPath(t *testing.T) {
	assert.Equal(t, "/a/b", Path("https://x.test/a/b?q=1"))
	assert.Equal(t, "/", Path("https://x.test"))
	assert.Equal(t, "/a/b", Path("a/b#top"))
	assert.Equal(t, "/api/x y", Path("/api/x%20y"))
	assert.Equal(t, []string{"a", "b"}, Segments("//cdn.test/a//b/"))
}

func TestRootPattern(t *testing.T) {
	m, err := Compile("/")
	require.NoError(t, err)
	assert.True(t, m.Match("https://x.test/"))
	assert.False(t, m.Match("/anything"))
}
