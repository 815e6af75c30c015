package aurora

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildResponse(txState, globalState byte, data [4]byte) []byte {
	raw := make([]byte, responseFrameSize)
	raw[0] = txState
	raw[1] = globalState
	copy(raw[2:6], data[:])
	binary.LittleEndian.PutUint16(raw[6:], crc16(raw[:6]))
	return raw
}

func TestRequestFrameLayout(t *testing.T) {
	frame := requestFrame(3, CmdMeasureRequest, ChannelGridVoltage, 1)

	require.Len(t, frame, requestFrameSize)
	assert.Equal(t, byte(3), frame[0])
	assert.Equal(t, CmdMeasureRequest, frame[1])
	assert.Equal(t, byte(ChannelGridVoltage), frame[2])
	assert.Equal(t, byte(1), frame[3])
	// unused parameter slots stay zero
	assert.Equal(t, []byte{0, 0, 0, 0}, frame[4:8])
	assert.Equal(t, crc16(frame[:8]), binary.LittleEndian.Uint16(frame[8:]))
}

func TestCRC16IsStable(t *testing.T) {
	a := crc16([]byte{3, 59, 1, 1, 0, 0, 0, 0})
	b := crc16([]byte{3, 59, 1, 1, 0, 0, 0, 0})
	c := crc16([]byte{3, 59, 2, 1, 0, 0, 0, 0})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestParseResponseFloat(t *testing.T) {
	var data [4]byte
	binary.BigEndian.PutUint32(data[:], math.Float32bits(230.5))

	resp, err := parseResponse(CmdMeasureRequest, buildResponse(0, 6, data))

	require.NoError(t, err)
	assert.InDelta(t, 230.5, resp.float(), 0.001)
	assert.Equal(t, byte(6), resp.globalState)
}

func TestParseResponseTime(t *testing.T) {
	var data [4]byte
	binary.BigEndian.PutUint32(data[:], 86400)

	resp, err := parseResponse(CmdTimeDateReading, buildResponse(0, 6, data))

	require.NoError(t, err)
	assert.Equal(t, time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC), resp.time())
}

func TestParseResponseTransmissionError(t *testing.T) {
	_, err := parseResponse(CmdMeasureRequest, buildResponse(52, 0, [4]byte{}))

	require.Error(t, err)
	var te *TransmissionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, byte(52), te.State)
	assert.Contains(t, te.Error(), "variable does not exist")
}

func TestParseResponseBadCRC(t *testing.T) {
	raw := buildResponse(0, 6, [4]byte{1, 2, 3, 4})
	raw[6] ^= 0xFF

	_, err := parseResponse(CmdMeasureRequest, raw)

	assert.ErrorIs(t, err, ErrBadCRC)
}

func TestParseResponseShort(t *testing.T) {
	_, err := parseResponse(CmdMeasureRequest, []byte{0, 6, 0})

	assert.ErrorIs(t, err, ErrShortResponse)
}
