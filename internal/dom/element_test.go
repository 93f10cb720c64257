package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><body>
<div class="product" data-product-id="p-42">
  <h1 class="title">  Blue   Kettle </h1>
  <form id="review">
    <select name="stars"><option value="1">One</option><option value="4" selected>Four</option></select>
    <textarea name="body">Great
    kettle</textarea>
    <input type="checkbox" name="recommend" value="yes" checked>
    <input type="checkbox" name="newsletter" value="yes">
    <button id="submit" type="submit">Send</button>
  </form>
  <script>var x = "ignored";</script>
</div>
</body></html>`

func TestQueryAndRead(t *testing.T) {
	doc, err := ParseString(page)
	require.NoError(t, err)

	el, ok := doc.Query(".product")
	require.True(t, ok)
	id, ok := el.Attribute("data-product-id")
	assert.True(t, ok)
	assert.Equal(t, "p-42", id)

	title := doc.Find("h1.title")
	require.NotNil(t, title)
	assert.Equal(t, "Blue Kettle", title.Text())

	assert.Equal(t, "4", doc.Find("select[name=stars]").Value())
	assert.Equal(t, "Great kettle", doc.Find("textarea").Value())
	assert.Equal(t, "yes", doc.Find("input[name=recommend]").Value())
	assert.Equal(t, "", doc.Find("input[name=newsletter]").Value())
	assert.NotContains(t, doc.Find(".product").Text(), "ignored")
}

func TestClosestForm(t *testing.T) {
	doc, err := ParseString(page)
	require.NoError(t, err)

	btn := doc.Find("#submit")
	require.NotNil(t, btn)
	form := btn.Closest("form")
	require.NotNil(t, form)
	id, _ := form.Attribute("id")
	assert.Equal(t, "review", id)

	_, ok := form.Query("h1")
	assert.False(t, ok, "query is scoped to descendants")
	assert.Nil(t, btn.Closest("table"))
}

func TestInvalidSelector(t *testing.T) {
	doc, err := ParseString(page)
	require.NoError(t, err)
	_, ok := doc.Query("div[")
	assert.False(t, ok)
	assert.Nil(t, doc.Closest("::bad::"))
}
