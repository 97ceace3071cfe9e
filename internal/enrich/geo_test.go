package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewGeoEnricher_EmptyPathDisablesLookup(t *testing.T) {
	g, err := NewGeoEnricher("", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Nil(t, g.db)
}

func TestGeo_TruncatesIPv4To24(t *testing.T) {
	g, err := NewGeoEnricher("", zaptest.NewLogger(t))
	require.NoError(t, err)

	result := g.Geo("203.0.113.42")
	assert.Equal(t, "203.0.113.0", result.AnonymizedIP)
	assert.Empty(t, result.Country)
	assert.Empty(t, result.Region)
	assert.Empty(t, result.City)
}

func TestGeo_TruncatesIPv6To48(t *testing.T) {
	g, err := NewGeoEnricher("", zaptest.NewLogger(t))
	require.NoError(t, err)

	result := g.Geo("2001:db8:1234:5678::1")
	assert.Equal(t, "2001:db8:1234::", result.AnonymizedIP)
}

func TestGeo_InvalidIPYieldsEmptyResult(t *testing.T) {
	g, err := NewGeoEnricher("", zaptest.NewLogger(t))
	require.NoError(t, err)

	result := g.Geo("not-an-ip")
	assert.Equal(t, GeoResult{}, result)
}

func TestGeo_NilEnricherIsSafe(t *testing.T) {
	var g *GeoEnricher
	result := g.Geo("203.0.113.42")
	assert.Equal(t, "203.0.113.0", result.AnonymizedIP)
}
