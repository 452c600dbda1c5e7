package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCatalog struct {
	resolved map[string]string
	ambiguous map[string]bool
}

func (s stubCatalog) ResolveProduct(name string) (string, string, bool, bool) {
	if s.ambiguous[name] {
		return "", "", true, true
	}
	id, ok := s.resolved[name]
	return id, name, false, ok
}

func TestParse_GreetingDetected(t *testing.T) {
	p := New(stubCatalog{})
	result := p.Parse("Hello there")
	assert.Equal(t, KindGreeting, result.Kind)
}

func TestParse_StatusQueryExtractsOrderNumber(t *testing.T) {
	p := New(stubCatalog{})
	result := p.Parse("what is the status of order ORD-1234")
	require.Equal(t, KindStatusQuery, result.Kind)
	assert.Equal(t, "ORD-1234", result.OrderNumber)
}

func TestParse_OrderIntentNormalizesUnitsAndCase(t *testing.T) {
	catalog := stubCatalog{resolved: map[string]string{"rice": "prod-rice", "dal": "prod-dal"}}
	p := New(catalog)

	result := p.Parse(" 10KGS rice \n5 Ltr dal ")
	require.Equal(t, KindOrder, result.Kind)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "prod-rice", result.Items[0].ProductID)
	assert.Equal(t, "kg", result.Items[0].Unit)
	assert.Equal(t, "prod-dal", result.Items[1].ProductID)
	assert.Equal(t, "l", result.Items[1].Unit)
}

func TestParse_InvalidUnitYieldsClarification(t *testing.T) {
	catalog := stubCatalog{resolved: map[string]string{"rice": "prod-rice"}}
	p := New(catalog)

	result := p.Parse("10xyz rice")
	require.Equal(t, KindNeedsClarification, result.Kind)
	require.Len(t, result.Questions, 1)
	assert.Equal(t, "INVALID_UNIT", result.Questions[0].Kind)
}

func TestParse_AmbiguousProductYieldsClarification(t *testing.T) {
	catalog := stubCatalog{ambiguous: map[string]bool{"rice": true}}
	p := New(catalog)

	result := p.Parse("10kg rice")
	require.Equal(t, KindNeedsClarification, result.Kind)
	require.Len(t, result.Questions, 1)
	assert.Equal(t, "AMBIGUOUS_PRODUCT", result.Questions[0].Kind)
}

func TestParse_UnknownBelowThreshold(t *testing.T) {
	p := New(stubCatalog{})
	result := p.Parse("asdkjashdkjashd")
	assert.Equal(t, KindUnknown, result.Kind)
}

func TestTokenSetSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, TokenSetSimilarity("basmati rice", "basmati rice"), 0.001)
	assert.Greater(t, TokenSetSimilarity("basmati rice", "rice basmati premium"), 0.5)
	assert.Equal(t, 0.0, TokenSetSimilarity("rice", ""))
}
