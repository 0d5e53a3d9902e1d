package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMobileParse(t *testing.T) {
	msg := []byte("123456789012345,45.123456,6.654321,1500,12.5,1347704100*52")
	p := &MobileTracker{}

	require.NoError(t, p.CheckCorrectness(msg))
	points, err := p.Parse(msg)
	require.NoError(t, err)
	require.Len(t, points, 1)

	pt := points[0]
	assert.Equal(t, "123456789012345", pt.Imei)
	assert.Equal(t, 45.123456, pt.Lat)
	assert.Equal(t, 6.654321, pt.Lon)
	assert.Equal(t, 1500, pt.Alt)
	assert.Equal(t, 12.5, pt.HSpeed)
	assert.Equal(t, int64(1347704100), pt.Timestamp)
}

func TestMobileDecimalComma(t *testing.T) {
	msg := []byte("123456789012345,45,123456,6,654321,1500,12,5,1347704100*54")
	p := &MobileTracker{}

	require.NoError(t, p.CheckCorrectness(msg))
	points, err := p.Parse(msg)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 45.123456, points[0].Lat)
	assert.Equal(t, 6.654321, points[0].Lon)
	assert.Equal(t, 12.5, points[0].HSpeed)
}

func TestMobileMalformed(t *testing.T) {
	p := &MobileTracker{}
	tests := []struct {
		name string
		msg  string
	}{
		{name: "no checksum", msg: "123456789012345,45.1,6.6"},
		{name: "wrong checksum", msg: "123456789012345,45.123456,6.654321,1500,12.5,1347704100*11"},
		{name: "empty", msg: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, p.CheckCorrectness([]byte(tt.msg)))
		})
	}

	_, err := p.Parse([]byte("123456789012345,45.123456*52"))
	assert.Error(t, err)
}
