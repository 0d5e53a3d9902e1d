package parsers

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Four AVL records captured from a GH3000 near Vilnius.
const gh3000Packet = "003c00000102000f313233343536373839303132333435070441bf9d" +
	"b00fff425adbd741ca6e1e009e1205070001030b160000601a02015e0200031400661500" +
	"0a160067010500000ce441bf9d920fff425adbb141ca6fc900a2b218070001030b160000" +
	"601a02015e02000314006615000a160067010500000cc641bf9d740fff425adbee41ca73" +
	"9200b6c91e070001030b1f0000601a02015f02000314006615000a160066010500000ca8" +
	"41bf9cfc0fff425adba041ca70c100b93813070001030b1f0000601a02015f0200031400" +
	"2315000a160025010500000c3004"

func TestGH3000Parse(t *testing.T) {
	msg, err := hex.DecodeString(gh3000Packet)
	require.NoError(t, err)

	p := &TeltonikaGH3000{}
	points, err := p.Parse(msg)
	require.NoError(t, err)
	require.Len(t, points, 4)

	first := points[0]
	assert.Equal(t, "123456789012345", first.Imei)
	assert.Equal(t, 54.714687, first.Lat)
	assert.Equal(t, 25.303768, first.Lon)
	assert.Equal(t, 158, first.Alt)
	assert.Equal(t, float64(5), first.HSpeed)
	assert.Equal(t, int64(1196944560), first.Timestamp)

	// Records arrive newest first.
	for i := 1; i < len(points); i++ {
		assert.Less(t, points[i].Timestamp, points[i-1].Timestamp)
	}
}

func TestGH3000Response(t *testing.T) {
	msg, err := hex.DecodeString(gh3000Packet)
	require.NoError(t, err)

	p := &TeltonikaGH3000{}
	_, err = p.Parse(msg)
	require.NoError(t, err)

	assert.Equal(t, "00050002010204", hex.EncodeToString(p.Response()))
}

func TestGH3000Malformed(t *testing.T) {
	p := &TeltonikaGH3000{}

	_, err := p.Parse([]byte{0x00, 0x05})
	assert.Error(t, err)

	// Declared imei length runs past the packet end.
	_, err = p.Parse([]byte{0x00, 0x0a, 0x00, 0x00, 0x01, 0x02, 0xff, 0xff,
		0x31, 0x32})
	assert.Error(t, err)

	// Header is fine but the record is cut short.
	msg, err := hex.DecodeString("001200000102000f3132333435363738393031" +
		"32333435070141bf9d")
	require.NoError(t, err)
	_, err = p.Parse(msg)
	assert.Error(t, err)
}
