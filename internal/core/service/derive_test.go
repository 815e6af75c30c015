package service

import (
	"testing"

	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/domain"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	err := RegisterSchema(reg, Identity{
		ProcessName:    "dbus-aurora-pvinverter",
		ProcessVersion: "test",
		Connection:     "ttyUSB0",
		ProductId:      0xB00D,
		ProductName:    "Aurora PV-Inverter",
	}, zap.NewNop())
	require.NoError(t, err)
	return reg
}

func readValue(t *testing.T, reg *registry.Registry, name string) any {
	t.Helper()
	value, _, err := reg.Read(name)
	require.NoError(t, err)
	return value
}

func TestDeriveFullReading(t *testing.T) {
	reading := domain.Reading{
		GridVoltage: domain.Float(230.0),
		GridCurrent: domain.Float(15.0),
		GridPower:   domain.Float(3450.0),
		EnergyWh:    domain.Float(120500.0),
	}

	m := Derive(reading, 10000)

	require.NotNil(t, m.AcPower)
	assert.Equal(t, 3450.0, *m.AcPower)
	assert.Equal(t, 15.0, *m.AcCurrent)
	assert.Equal(t, 230.0, *m.PhaseVoltage)
	assert.Equal(t, 5.0, *m.PhaseCurrent)
	assert.Equal(t, 1150.0, *m.PhasePower)
	assert.Equal(t, 120.5, *m.EnergyForward)
	assert.Equal(t, 40.17, *m.PhaseEnergyForward)
	assert.Equal(t, 10000.0, m.MaxPower)
	assert.Equal(t, StatusCodeProducing, m.StatusCode)
}

func TestDerivePhaseSplitThirds(t *testing.T) {
	reading := domain.Reading{
		GridCurrent: domain.Float(10.0),
		GridPower:   domain.Float(1000.0),
	}

	m := Derive(reading, 10000)

	assert.InDelta(t, 10.0/3.0, *m.PhaseCurrent, 0.005)
	assert.InDelta(t, 1000.0/3.0, *m.PhasePower, 0.005)
	// rounded once, to exactly 2 decimals
	assert.Equal(t, 3.33, *m.PhaseCurrent)
	assert.Equal(t, 333.33, *m.PhasePower)
}

func TestDeriveEmptyReadingKeepsConstants(t *testing.T) {
	m := Derive(domain.Reading{}, 10000)

	assert.Nil(t, m.AcPower)
	assert.Nil(t, m.AcCurrent)
	assert.Nil(t, m.PhaseVoltage)
	assert.Nil(t, m.EnergyForward)
	assert.Equal(t, 10000.0, m.MaxPower)
	assert.Equal(t, StatusCodeProducing, m.StatusCode)
}

func TestStagePublishesScenario(t *testing.T) {
	reg := newTestRegistry(t)
	reading := domain.Reading{
		GridVoltage: domain.Float(230.0),
		GridCurrent: domain.Float(15.0),
		GridPower:   domain.Float(3450.0),
		EnergyWh:    domain.Float(120500.0),
	}

	tx := reg.Update()
	require.NoError(t, Derive(reading, 10000).Stage(tx))
	tx.Commit()

	assert.Equal(t, 3450.0, readValue(t, reg, "/Ac/Power"))
	assert.Equal(t, 15.0, readValue(t, reg, "/Ac/Current"))
	assert.Equal(t, 230.0, readValue(t, reg, "/Ac/L1/Voltage"))
	assert.Equal(t, 5.0, readValue(t, reg, "/Ac/L1/Current"))
	assert.Equal(t, 1150.0, readValue(t, reg, "/Ac/L1/Power"))
	assert.Equal(t, 120.5, readValue(t, reg, "/Ac/Energy/Forward"))
	assert.Equal(t, 40.17, readValue(t, reg, "/Ac/L1/Energy/Forward"))
	assert.Equal(t, 10000.0, readValue(t, reg, "/Ac/MaxPower"))
	assert.Equal(t, StatusCodeProducing, readValue(t, reg, "/StatusCode"))

	// all three phases carry the same derived values
	for _, prefix := range []string{"/Ac/L2", "/Ac/L3"} {
		assert.Equal(t, 230.0, readValue(t, reg, prefix+"/Voltage"))
		assert.Equal(t, 5.0, readValue(t, reg, prefix+"/Current"))
		assert.Equal(t, 1150.0, readValue(t, reg, prefix+"/Power"))
		assert.Equal(t, 40.17, readValue(t, reg, prefix+"/Energy/Forward"))
	}
}

func TestStagePartialFailureRetainsStalePaths(t *testing.T) {
	reg := newTestRegistry(t)

	full := domain.Reading{
		GridVoltage: domain.Float(230.0),
		GridCurrent: domain.Float(15.0),
		GridPower:   domain.Float(3450.0),
		EnergyWh:    domain.Float(120500.0),
	}
	tx := reg.Update()
	require.NoError(t, Derive(full, 10000).Stage(tx))
	tx.Commit()

	// next cycle: power measurement failed, voltage/current moved
	partial := domain.Reading{
		GridVoltage: domain.Float(231.5),
		GridCurrent: domain.Float(14.0),
		EnergyWh:    domain.Float(121000.0),
	}
	tx = reg.Update()
	require.NoError(t, Derive(partial, 10000).Stage(tx))
	tx.Commit()

	assert.Equal(t, 3450.0, readValue(t, reg, "/Ac/Power"), "stale power retained")
	assert.Equal(t, 1150.0, readValue(t, reg, "/Ac/L1/Power"), "stale phase power retained")
	assert.Equal(t, 231.5, readValue(t, reg, "/Ac/L1/Voltage"))
	assert.Equal(t, 14.0, readValue(t, reg, "/Ac/Current"))
	assert.Equal(t, 10000.0, readValue(t, reg, "/Ac/MaxPower"))
	assert.Equal(t, StatusCodeProducing, readValue(t, reg, "/StatusCode"))
}

func TestStageOfflineCycleOnlyTouchesConstants(t *testing.T) {
	reg := newTestRegistry(t)

	var batches [][]registry.Change
	reg.Subscribe(func(changes []registry.Change) {
		batches = append(batches, changes)
	})

	tx := reg.Update()
	require.NoError(t, Derive(domain.Reading{}, 10000).Stage(tx))
	tx.Commit()

	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, "/StatusCode", batches[0][0].Name)
	assert.Equal(t, "/Ac/MaxPower", batches[0][1].Name)
	value, _, err := reg.Read("/Ac/Energy/Forward")
	require.NoError(t, err)
	assert.Nil(t, value, "energy stays unset until first reading")
}

func TestTextFormatters(t *testing.T) {
	reg := newTestRegistry(t)

	require.NoError(t, reg.Publish("/Ac/Power", 42.5))
	_, text, err := reg.Read("/Ac/Power")
	require.NoError(t, err)
	assert.Equal(t, "42.5W", text)

	require.NoError(t, reg.Publish("/Ac/L1/Energy/Forward", 40.166))
	_, text, err = reg.Read("/Ac/L1/Energy/Forward")
	require.NoError(t, err)
	assert.Equal(t, "40.17kWh", text)

	// unset energy renders empty
	_, text, err = reg.Read("/Ac/Energy/Forward")
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestWritableFlagsFollowSchema(t *testing.T) {
	reg := newTestRegistry(t)

	assert.ErrorIs(t, reg.RequestWrite("/DeviceInstance", 5), registry.ErrNotWritable)
	assert.NoError(t, reg.RequestWrite("/Ac/Power", 42.5))
}
