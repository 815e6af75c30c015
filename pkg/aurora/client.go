package aurora

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"
)

// Client is the request/reply boundary to one Aurora inverter. One
// Connect/Close pair frames one acquisition cycle; the connection is never
// held across cycles.
type Client interface {
	Connect() error
	// TimeOfDevice reads the inverter clock. Returns ErrDeviceOffline when
	// the inverter does not answer the time request (typically night mode).
	TimeOfDevice() (time.Time, error)
	// Measure reads one DSP measurement channel (Channel* constants).
	Measure(channel int) (float64, error)
	// CumulativeEnergy reads one cumulated energy counter in Wh
	// (Period* constants).
	CumulativeEnergy(period int) (float64, error)
	Close() error
}

// SerialConfig holds the RS-485 line parameters. The Aurora bus runs
// 19200 8N1; only the port path and inverter address normally vary.
type SerialConfig struct {
	Port        string
	Address     uint8
	BaudRate    int
	ReadTimeout time.Duration
}

type serialClient struct {
	cfg    SerialConfig
	port   *serial.Port
	logger *zap.Logger
}

// NewSerialClient creates a Client speaking the Aurora protocol over a local
// serial device. The port is not opened until Connect.
func NewSerialClient(cfg SerialConfig, logger *zap.Logger) Client {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 19200
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	return &serialClient{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "aurora"), zap.String("port", cfg.Port)),
	}
}

func (c *serialClient) Connect() error {
	if c.port != nil {
		return nil
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        c.cfg.Port,
		Baud:        c.cfg.BaudRate,
		ReadTimeout: c.cfg.ReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("aurora: open %s: %w", c.cfg.Port, err)
	}
	c.port = port
	return nil
}

func (c *serialClient) Close() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}

func (c *serialClient) TimeOfDevice() (time.Time, error) {
	resp, err := c.exchange(CmdTimeDateReading)
	if err != nil {
		// No answer to the clock request means the inverter DSP is down
		// (night mode), not a broken bus.
		var te *TransmissionError
		if errors.Is(err, ErrShortResponse) || errors.As(err, &te) {
			c.logger.Debug("time request unanswered, device offline", zap.Error(err))
			return time.Time{}, ErrDeviceOffline
		}
		return time.Time{}, err
	}
	return resp.time(), nil
}

func (c *serialClient) Measure(channel int) (float64, error) {
	// Second parameter selects the DSP global measurement set.
	resp, err := c.exchange(CmdMeasureRequest, byte(channel), 1)
	if err != nil {
		return 0, err
	}
	return resp.float(), nil
}

func (c *serialClient) CumulativeEnergy(period int) (float64, error) {
	resp, err := c.exchange(CmdCumulatedEnergy, byte(period))
	if err != nil {
		return 0, err
	}
	return float64(resp.uint32()), nil
}

func (c *serialClient) exchange(command byte, params ...byte) (*response, error) {
	if c.port == nil {
		return nil, errors.New("aurora: not connected")
	}
	frame := requestFrame(c.cfg.Address, command, params...)
	if _, err := c.port.Write(frame); err != nil {
		return nil, fmt.Errorf("aurora: write command %d: %w", command, err)
	}
	raw := make([]byte, responseFrameSize)
	n, err := io.ReadFull(c.port, raw)
	if err != nil {
		if n == 0 || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: command %d", ErrShortResponse, command)
		}
		return nil, fmt.Errorf("aurora: read command %d: %w", command, err)
	}
	return parseResponse(command, raw)
}
