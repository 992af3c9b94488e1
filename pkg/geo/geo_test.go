package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "gazetteer/pkg/domain-errors"
)

func TestPointValidate(t *testing.T) {
	assert.NoError(t, Point{Lon: 10, Lat: 20}.Validate())
	assert.NoError(t, Point{Lon: -180, Lat: 90}.Validate())

	for name, p := range map[string]Point{
		"lon too small": {Lon: -180.01, Lat: 0},
		"lon too large": {Lon: 180.01, Lat: 0},
		"lat too small": {Lon: 0, Lat: -90.5},
		"lat too large": {Lon: 0, Lat: 91},
		"lon NaN":       {Lon: math.NaN(), Lat: 0},
		"lat Inf":       {Lon: 0, Lat: math.Inf(1)},
	} {
		t.Run(name, func(t *testing.T) {
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestParseBBox(t *testing.T) {
	box, err := ParseBBox("10,-5,20,5")
	require.NoError(t, err)
	assert.Equal(t, BBox{MinLon: 10, MinLat: -5, MaxLon: 20, MaxLat: 5}, box)

	assert.True(t, box.Contains(Point{Lon: 15, Lat: 0}))
	assert.True(t, box.Contains(Point{Lon: 10, Lat: -5}))
	assert.False(t, box.Contains(Point{Lon: 9.99, Lat: 0}))

	for name, raw := range map[string]string{
		"too few values": "10,20,30",
		"not numbers":    "a,b,c,d",
		"inverted box":   "20,0,10,5",
		"lat range":      "0,-100,10,0",
		"infinity":       "0,0,Inf,10",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBBox(raw)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}
