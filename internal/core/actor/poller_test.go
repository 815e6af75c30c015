package actor

import (
	"testing"
	"time"

	adactor "github.com/jabba80/dbus-aurora-pvinverter/internal/adapter/actor"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/config"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/service"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/registry"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/util"
	"github.com/jabba80/dbus-aurora-pvinverter/pkg/aurora"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSchemaRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, service.RegisterSchema(reg, service.Identity{
		ProcessName: "test",
		ProductId:   0xB00D,
	}, zap.NewNop()))
	return reg
}

func runPollerCycle(t *testing.T, cfg config.Config, client *aurora.TestClient, reg *registry.Registry) {
	t.Helper()

	as := actor.NewActorSystem()
	context := as.Root
	defer as.Shutdown()

	deviceProps := actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewDeviceActor(client, zap.NewNop())
	})
	devicePID, err := context.SpawnNamed(deviceProps, "device")
	require.NoError(t, err)

	pollerProps := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(&cfg, devicePID, reg, zap.NewNop())
	})
	pollerPID, err := context.SpawnNamed(pollerProps, "poller")
	require.NoError(t, err)

	// one tick plus slack for the device round trip
	time.Sleep(time.Duration(cfg.Monitor.PollIntervalMillis)*time.Millisecond + 500*time.Millisecond)

	context.Stop(pollerPID)
	context.Stop(devicePID)
}

func readValue(t *testing.T, reg *registry.Registry, name string) any {
	t.Helper()
	value, _, err := reg.Read(name)
	require.NoError(t, err)
	return value
}

func TestPollerPublishesDerivedMetrics(t *testing.T) {
	cfg := util.LoadTestConfig()
	cfg.Monitor.PollIntervalMillis = 1000
	reg := newSchemaRegistry(t)
	client := &aurora.TestClient{
		GridVoltage: 230.0,
		GridCurrent: 15.0,
		GridPower:   3450.0,
		EnergyWh:    120500.0,
	}

	runPollerCycle(t, cfg, client, reg)

	assert.Equal(t, 3450.0, readValue(t, reg, "/Ac/Power"))
	assert.Equal(t, 15.0, readValue(t, reg, "/Ac/Current"))
	assert.Equal(t, 230.0, readValue(t, reg, "/Ac/L1/Voltage"))
	assert.Equal(t, 5.0, readValue(t, reg, "/Ac/L1/Current"))
	assert.Equal(t, 1150.0, readValue(t, reg, "/Ac/L1/Power"))
	assert.Equal(t, 120.5, readValue(t, reg, "/Ac/Energy/Forward"))
	assert.Equal(t, 40.17, readValue(t, reg, "/Ac/L1/Energy/Forward"))
	assert.Equal(t, 10000.0, readValue(t, reg, "/Ac/MaxPower"))
	assert.Equal(t, service.StatusCodeProducing, readValue(t, reg, "/StatusCode"))
}

func TestPollerOfflineCycleKeepsTelemetry(t *testing.T) {
	cfg := util.LoadTestConfig()
	cfg.Monitor.PollIntervalMillis = 1000
	reg := newSchemaRegistry(t)
	client := &aurora.TestClient{Offline: true}

	runPollerCycle(t, cfg, client, reg)

	// telemetry untouched, constants republished
	assert.Equal(t, 0.0, readValue(t, reg, "/Ac/Power"))
	assert.Nil(t, readValue(t, reg, "/Ac/Energy/Forward"))
	assert.Equal(t, 10000.0, readValue(t, reg, "/Ac/MaxPower"))
	assert.Equal(t, service.StatusCodeProducing, readValue(t, reg, "/StatusCode"))
}

func TestPollerConnectFailureCycleSurvives(t *testing.T) {
	cfg := util.LoadTestConfig()
	cfg.Monitor.PollIntervalMillis = 1000
	reg := newSchemaRegistry(t)
	client := &aurora.TestClient{ConnectErr: assert.AnError}

	runPollerCycle(t, cfg, client, reg)

	assert.Equal(t, 0.0, readValue(t, reg, "/Ac/Power"))
	assert.Equal(t, service.StatusCodeProducing, readValue(t, reg, "/StatusCode"))
	// the device saw repeated connect attempts, one per tick at most
	assert.GreaterOrEqual(t, client.ConnectCalls, 1)
}
