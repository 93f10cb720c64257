package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestRulePartition(t *testing.T) {
	r := Rule{
		ID: "rate",
		Mappings: []FieldMapping{
			{Field: "ProductId", Source: SourceElement},
			{Field: "Rating", Source: SourceResponseBody},
			{Field: "Session", Source: SourceCookie},
			{Field: "OrderId", Source: SourceRequestURL},
			{Field: "Broken", Source: "carrier_pigeon"},
			{Field: "", Source: SourceStatic},
		},
	}
	sync, async := r.Partition()
	require.Len(t, sync, 2)
	require.Len(t, async, 2)
	assert.Equal(t, "ProductId", sync[0].Field)
	assert.Equal(t, "Session", sync[1].Field)
	assert.Equal(t, "Rating", async[0].Field)
	assert.Equal(t, "OrderId", async[1].Field)
}

func TestIdentityDescriptor(t *testing.T) {
	var d *IdentityDescriptor
	assert.False(t, d.Enabled())
	d = &IdentityDescriptor{Field: "UserId", Source: SourceResponseBody}
	assert.True(t, d.NetworkSourced())
	d.Source = SourceCookie
	assert.True(t, d.Enabled())
	assert.False(t, d.NetworkSourced())
}

func TestRecordPayload(t *testing.T) {
	rec := Record{"Rating": 4, "Product.Id": "p-1"}
	at := time.UnixMilli(1700000000000)
	b, err := rec.Payload("rate", "rating", at)
	require.NoError(t, err)

	assert.Equal(t, "rate", gjson.GetBytes(b, "ruleId").String())
	assert.Equal(t, "rating", gjson.GetBytes(b, "eventType").String())
	assert.Equal(t, int64(1700000000000), gjson.GetBytes(b, "timestamp").Int())
	assert.Equal(t, int64(4), gjson.GetBytes(b, "fields.Rating").Int())
	assert.Equal(t, "p-1", gjson.GetBytes(b, "fields.Product.Id").String())
}

func TestRecordPayloadMetacharFieldNames(t *testing.T) {
	rec := Record{"Top*Pick": 1, "a|b": "x", "Tag#": "y", "@id": "z", "Why?": true, `back\slash`: "w"}
	b, err := rec.Payload("rate", "rating", time.UnixMilli(0))
	require.NoError(t, err)

	fields := gjson.GetBytes(b, "fields").Map()
	require.Len(t, fields, 6)
	assert.Equal(t, int64(1), fields["Top*Pick"].Int())
	assert.Equal(t, "x", fields["a|b"].String())
	assert.Equal(t, "y", fields["Tag#"].String())
	assert.Equal(t, "z", fields["@id"].String())
	assert.True(t, fields["Why?"].Bool())
	assert.Equal(t, "w", fields[`back\slash`].String())
}

func TestParseCookieHeader(t *testing.T) {
	jar := ParseCookieHeader("sid=abc; theme=dark ;name=J%C3%B6rg; broken; =x")
	v, ok := jar.Cookie("sid")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
	v, _ = jar.Cookie("theme")
	assert.Equal(t, "dark", v)
	v, _ = jar.Cookie("name")
	assert.Equal(t, "Jörg", v)
	_, ok = jar.Cookie("broken")
	assert.False(t, ok)
	assert.Len(t, jar, 3)
}
