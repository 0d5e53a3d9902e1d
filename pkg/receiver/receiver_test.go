package receiver

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBoris/gorynych/pkg/model"
	"github.com/TBoris/gorynych/pkg/parsers"
)

type fakeSender struct {
	mu       sync.Mutex
	messages map[string][][]byte
	fail     bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{messages: make(map[string][][]byte)}
}

func (f *fakeSender) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("nats down")
	}
	f.messages[subject] = append(f.messages[subject], data)
	return nil
}

type recordingAudit struct {
	msgs int
	errs int
}

func (a *recordingAudit) LogMsg([]byte, int64, string, string) { a.msgs++ }

func (a *recordingAudit) LogErr(error, []byte, int64, string, string) {
	a.errs++
}

var tr203Msg = []byte("GSr,011412001415649,3,3,00,,3,090713,081447," +
	"E02445.3951,N4239.2872,536,0.27,28,5,7.2,93,284,01," +
	"0e74,0f74,12,27*54!")

func TestHandleMessagePublishesPoint(t *testing.T) {
	sender := newFakeSender()
	audit := &recordingAudit{}
	svc := NewService(sender, audit, nil)
	parser, err := parsers.New(parsers.DeviceTR203)
	require.NoError(t, err)

	resp, err := svc.HandleMessage(parser, tr203Msg, parsers.DeviceTR203, "tcp")
	require.NoError(t, err)
	// tr203 has no acknowledgement frame
	assert.Nil(t, resp)
	assert.Equal(t, 1, audit.msgs)

	published := sender.messages["gorynych.points.tr203"]
	require.Len(t, published, 1)
	var pt model.Point
	require.NoError(t, json.Unmarshal(published[0], &pt))
	assert.Equal(t, "011412001415649", pt.Imei)
	assert.InDelta(t, 42.654786, pt.Lat, 1e-9)

	seen, ok := svc.Device("011412001415649")
	require.True(t, ok)
	assert.InDelta(t, pt.Lat, seen.Point.Lat, 1e-9)
	assert.Positive(t, seen.Heard)
}

func TestHandleMessageRejectsBrokenChecksum(t *testing.T) {
	sender := newFakeSender()
	audit := &recordingAudit{}
	svc := NewService(sender, audit, nil)
	parser, err := parsers.New(parsers.DeviceTR203)
	require.NoError(t, err)

	bad := append([]byte{}, tr203Msg...)
	bad[len(bad)-3] = 'f'

	_, err = svc.HandleMessage(parser, bad, parsers.DeviceTR203, "tcp")
	require.Error(t, err)
	assert.Equal(t, 1, audit.errs)
	assert.Empty(t, sender.messages)
	_, ok := svc.Device("011412001415649")
	assert.False(t, ok)
}

func TestHandleMessageSenderFailure(t *testing.T) {
	sender := newFakeSender()
	sender.fail = true
	svc := NewService(sender, DumbAuditLog{}, nil)
	parser, err := parsers.New(parsers.DeviceTR203)
	require.NoError(t, err)

	_, err = svc.HandleMessage(parser, tr203Msg, parsers.DeviceTR203, "tcp")
	require.Error(t, err)
}

type ackParser struct {
	ack []byte
}

func (ackParser) CheckCorrectness([]byte) error { return nil }

func (ackParser) Parse([]byte) ([]model.Point, error) {
	return []model.Point{{Imei: "fake", Timestamp: 1347704100}}, nil
}

func (p ackParser) Response() []byte { return p.ack }

func TestHandleMessageReturnsAck(t *testing.T) {
	sender := newFakeSender()
	svc := NewService(sender, DumbAuditLog{}, nil)

	resp, err := svc.HandleMessage(
		ackParser{ack: []byte{0x00, 0x05}}, []byte("ping"), "telt_gh3000", "udp")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x05}, resp)
	assert.Len(t, sender.messages["gorynych.points.telt_gh3000"], 1)
}

func TestFileAuditLog(t *testing.T) {
	name := t.TempDir() + "/audit.log"
	audit := NewFileAuditLog(name)
	audit.LogMsg([]byte("hello"), 1347704100, "tcp", "tr203")
	audit.LogErr(errors.New("bad checksum"), []byte("broken"),
		1347704101, "tcp", "tr203")

	var first auditRecord
	data := readLines(t, name)
	require.Len(t, data, 2)
	require.NoError(t, json.Unmarshal(data[0], &first))
	assert.Equal(t, "hello", first.Msg)
	assert.Equal(t, int64(1347704100), first.Ts)
	assert.Empty(t, first.Err)

	var second auditRecord
	require.NoError(t, json.Unmarshal(data[1], &second))
	assert.Equal(t, "bad checksum", second.Err)
}

func readLines(t *testing.T, name string) [][]byte {
	t.Helper()
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	lines := bytes.Split(data, []byte("\r\n"))
	if len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	return lines
}
