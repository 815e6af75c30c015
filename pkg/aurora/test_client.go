package aurora

import (
	"time"
)

// TestClient is a scriptable in-memory Client for tests. Zero value behaves
// as an online inverter returning zeroes.
type TestClient struct {
	GridVoltage float64
	GridCurrent float64
	GridPower   float64
	EnergyWh    float64

	ConnectErr error
	Offline    bool
	// MeasureErrs maps a channel to a forced error for that measurement.
	MeasureErrs map[int]error
	EnergyErr   error

	ConnectCalls int
	CloseCalls   int
	MeasureCalls []int
}

func (c *TestClient) Connect() error {
	c.ConnectCalls++
	return c.ConnectErr
}

func (c *TestClient) Close() error {
	c.CloseCalls++
	return nil
}

func (c *TestClient) TimeOfDevice() (time.Time, error) {
	if c.Offline {
		return time.Time{}, ErrDeviceOffline
	}
	return time.Now(), nil
}

func (c *TestClient) Measure(channel int) (float64, error) {
	c.MeasureCalls = append(c.MeasureCalls, channel)
	if err := c.MeasureErrs[channel]; err != nil {
		return 0, err
	}
	switch channel {
	case ChannelGridVoltage:
		return c.GridVoltage, nil
	case ChannelGridCurrent:
		return c.GridCurrent, nil
	case ChannelGridPower:
		return c.GridPower, nil
	}
	return 0, &TransmissionError{Command: CmdMeasureRequest, State: 52}
}

func (c *TestClient) CumulativeEnergy(period int) (float64, error) {
	if c.EnergyErr != nil {
		return 0, c.EnergyErr
	}
	return c.EnergyWh, nil
}
