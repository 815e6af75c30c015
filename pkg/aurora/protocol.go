package aurora

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Aurora (Power-One/ABB) RS-485 protocol framing.
//
// Request frame (10 bytes):  address, command, p0..p5, crcL, crcH
// Response frame (8 bytes):  txState, globalState, d0..d3, crcL, crcH
//
// Protocol reference: Power-One "Aurora Inverter Series Communication
// Protocol" rel. 4.7.

const (
	requestFrameSize  = 10
	responseFrameSize = 8

	CmdStateRequest    byte = 50
	CmdVersionReading  byte = 58
	CmdMeasureRequest  byte = 59
	CmdSerialNumber    byte = 63
	CmdTimeDateReading byte = 70
	CmdCumulatedEnergy byte = 78
)

// Measurement channels for CmdMeasureRequest.
const (
	ChannelGridVoltage = 1
	ChannelGridCurrent = 2
	ChannelGridPower   = 3
)

// Periods for CmdCumulatedEnergy. Only the lifetime total is used here.
const (
	PeriodDaily   = 0
	PeriodWeekly  = 1
	PeriodMonthly = 3
	PeriodYearly  = 4
	PeriodTotal   = 5
)

// Inverter timestamps count seconds since 2000-01-01 00:00:00 UTC.
const epoch2000 = 946684800

var (
	ErrBadCRC        = errors.New("aurora: response CRC mismatch")
	ErrShortResponse = errors.New("aurora: short response")

	// ErrDeviceOffline marks an inverter that is reachable on the bus but not
	// producing (night mode). Not a failure; callers skip the measurement
	// phase for this cycle.
	ErrDeviceOffline = errors.New("aurora: device offline")
)

// TransmissionError is a non-zero transmission state in a response frame.
type TransmissionError struct {
	Command byte
	State   byte
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("aurora: command %d failed with transmission state %d (%s)", e.Command, e.State, transmissionStateText(e.State))
}

func transmissionStateText(state byte) string {
	switch state {
	case 0:
		return "ok"
	case 51:
		return "command not implemented"
	case 52:
		return "variable does not exist"
	case 53:
		return "value out of range"
	case 54:
		return "EEprom not accessible"
	case 55:
		return "not toggled service mode"
	case 56:
		return "cannot send the command to internal micro"
	case 57:
		return "command not executed"
	case 58:
		return "the variable is not available, retry"
	default:
		return "unknown"
	}
}

// crc16 computes the Aurora frame checksum: CRC-16 with polynomial 0x8408,
// initial value 0xFFFF, complemented.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return ^crc & 0xFFFF
}

// requestFrame builds the 10-byte request for one command. Unused parameter
// slots are zero-padded.
func requestFrame(address byte, command byte, params ...byte) []byte {
	frame := make([]byte, requestFrameSize)
	frame[0] = address
	frame[1] = command
	copy(frame[2:8], params)
	crc := crc16(frame[:8])
	binary.LittleEndian.PutUint16(frame[8:], crc)
	return frame
}

type response struct {
	txState     byte
	globalState byte
	data        [4]byte
}

// parseResponse validates the CRC and transmission state of a raw 8-byte
// response frame.
func parseResponse(command byte, raw []byte) (*response, error) {
	if len(raw) < responseFrameSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrShortResponse, len(raw))
	}
	crc := binary.LittleEndian.Uint16(raw[6:8])
	if crc16(raw[:6]) != crc {
		return nil, ErrBadCRC
	}
	resp := &response{
		txState:     raw[0],
		globalState: raw[1],
	}
	copy(resp.data[:], raw[2:6])
	if resp.txState != 0 {
		return nil, &TransmissionError{Command: command, State: resp.txState}
	}
	return resp, nil
}

func (r *response) float() float64 {
	bits := binary.BigEndian.Uint32(r.data[:])
	return float64(math.Float32frombits(bits))
}

func (r *response) uint32() uint32 {
	return binary.BigEndian.Uint32(r.data[:])
}

func (r *response) time() time.Time {
	return time.Unix(int64(r.uint32())+epoch2000, 0).UTC()
}
