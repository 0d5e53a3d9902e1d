package parsers

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pmFrame(t *testing.T, id byte, payload []byte) []byte {
	t.Helper()
	frame := []byte{pmMagic, id, 0, 0}
	binary.BigEndian.PutUint16(frame[2:], uint16(len(payload)))
	return append(frame, payload...)
}

func pmChunk(t *testing.T, records ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(1347704100)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, int32(43978500)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, int32(6480000)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, int16(600)))
	buf.WriteByte(10) // time step
	buf.WriteByte(byte(len(records)))
	for _, rec := range records {
		buf.Write(rec)
	}
	return buf.Bytes()
}

func pmRecord(t *testing.T, dlat, dlon int16, dalt int8, hspeed byte,
	vspeed int8,
) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, dlat))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, dlon))
	buf.WriteByte(byte(dalt))
	buf.WriteByte(hspeed)
	buf.WriteByte(byte(vspeed))
	return buf.Bytes()
}

func TestPathMakerParse(t *testing.T) {
	chunk := pmChunk(t,
		pmRecord(t, 0, 0, 0, 30, -5),
		pmRecord(t, 120, -80, 12, 32, 8),
	)
	msg := append(pmFrame(t, pmFrameMobileID, []byte("352000000000001")),
		pmFrame(t, pmFrameChunk, chunk)...)

	p := &PathMaker{}
	points, err := p.Parse(msg)
	require.NoError(t, err)
	require.Len(t, points, 2)

	first := points[0]
	assert.Equal(t, "352000000000001", first.Imei)
	assert.Equal(t, 43.9785, first.Lat)
	assert.Equal(t, 6.48, first.Lon)
	assert.Equal(t, 600, first.Alt)
	assert.Equal(t, float64(30), first.HSpeed)
	assert.Equal(t, -0.5, first.VSpeed)
	assert.Equal(t, int64(1347704100), first.Timestamp)

	second := points[1]
	assert.Equal(t, 43.97862, second.Lat)
	assert.Equal(t, 6.47992, second.Lon)
	assert.Equal(t, 612, second.Alt)
	assert.Equal(t, int64(1347704110), second.Timestamp)
}

func TestPathMakerZippedChunk(t *testing.T) {
	chunk := pmChunk(t, pmRecord(t, 0, 0, 0, 25, 0))
	var zipped bytes.Buffer
	w := zlib.NewWriter(&zipped)
	_, err := w.Write(chunk)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	msg := append(pmFrame(t, pmFrameMobileID, []byte("352000000000001")),
		pmFrame(t, pmFrameChunkZipped, zipped.Bytes())...)

	p := &PathMaker{}
	points, err := p.Parse(msg)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, float64(25), points[0].HSpeed)
}

func TestPathMakerResponse(t *testing.T) {
	msg := append(pmFrame(t, pmFrameMobileID, []byte("352000000000001")),
		pmFrame(t, pmFrameChunk, pmChunk(t,
			pmRecord(t, 0, 0, 0, 30, 0),
			pmRecord(t, 1, 1, 1, 30, 0),
		))...)

	p := &PathMaker{}
	_, err := p.Parse(msg)
	require.NoError(t, err)

	resp := p.Response()
	assert.Equal(t, []byte{pmMagic, pmFrameChunkConfirm, 0x00, 0x02,
		0x00, 0x02}, resp)
}

func TestPathMakerErrors(t *testing.T) {
	p := &PathMaker{}

	_, err := p.Parse([]byte{0xAB, 0x01, 0x00, 0x00})
	assert.Error(t, err, "bad magic")

	_, err = p.Parse(pmFrame(t, pmFrameChunk, pmChunk(t)))
	assert.Error(t, err, "chunk before mobile id")

	truncated := pmFrame(t, pmFrameChunk, pmChunk(t))
	_, err = p.Parse(truncated[:len(truncated)-2])
	assert.Error(t, err)
}

func TestPathMakerKeepsIdentityBetweenMessages(t *testing.T) {
	p := &PathMaker{}
	_, err := p.Parse(pmFrame(t, pmFrameMobileID, []byte("352000000000001")))
	require.NoError(t, err)

	points, err := p.Parse(pmFrame(t, pmFrameChunk,
		pmChunk(t, pmRecord(t, 0, 0, 0, 20, 0))))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "352000000000001", points[0].Imei)
}
