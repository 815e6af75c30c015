package actor

import (
	"testing"
	"time"

	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/domain"
	"github.com/jabba80/dbus-aurora-pvinverter/pkg/aurora"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func acquireOnce(t *testing.T, client *aurora.TestClient) domain.AcquireReadingResponse {
	t.Helper()

	as := actor.NewActorSystem()
	context := as.Root
	defer as.Shutdown()

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewDeviceActor(client, zap.NewNop())
	})
	pid, err := context.SpawnNamed(props, "device")
	require.NoError(t, err)
	defer context.Stop(pid)

	res, err := context.RequestFuture(pid, domain.AcquireReadingRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.AcquireReadingResponse)
	require.True(t, ok)
	return resp
}

func TestDeviceActorAcquiresFullReading(t *testing.T) {
	client := &aurora.TestClient{
		GridVoltage: 230.0,
		GridCurrent: 15.0,
		GridPower:   3450.0,
		EnergyWh:    120500.0,
	}

	resp := acquireOnce(t, client)

	require.False(t, resp.HasResponseError())
	require.NotNil(t, resp.Reading.GridVoltage)
	assert.Equal(t, 230.0, *resp.Reading.GridVoltage)
	assert.Equal(t, 15.0, *resp.Reading.GridCurrent)
	assert.Equal(t, 3450.0, *resp.Reading.GridPower)
	assert.Equal(t, 120500.0, *resp.Reading.EnergyWh)

	assert.Equal(t, 1, client.ConnectCalls)
	assert.Equal(t, 1, client.CloseCalls, "transport closed after the cycle")
	assert.Equal(t, []int{aurora.ChannelGridVoltage, aurora.ChannelGridCurrent, aurora.ChannelGridPower}, client.MeasureCalls)
}

func TestDeviceActorOfflineDevice(t *testing.T) {
	client := &aurora.TestClient{Offline: true}

	resp := acquireOnce(t, client)

	require.False(t, resp.HasResponseError())
	assert.True(t, resp.Reading.Empty())
	assert.Empty(t, client.MeasureCalls, "no measurements when offline")
	assert.Equal(t, 1, client.CloseCalls, "transport closed on the offline path too")
}

func TestDeviceActorConnectFailure(t *testing.T) {
	client := &aurora.TestClient{ConnectErr: assert.AnError}

	resp := acquireOnce(t, client)

	require.False(t, resp.HasResponseError(), "connection errors are contained")
	assert.True(t, resp.Reading.Empty())
	assert.Empty(t, client.MeasureCalls)
	assert.Zero(t, client.CloseCalls, "nothing to close when open never succeeded")
}

func TestDeviceActorPartialMeasurementFailure(t *testing.T) {
	client := &aurora.TestClient{
		GridVoltage: 231.5,
		GridCurrent: 14.0,
		EnergyWh:    121000.0,
		MeasureErrs: map[int]error{
			aurora.ChannelGridPower: &aurora.TransmissionError{Command: aurora.CmdMeasureRequest, State: 58},
		},
	}

	resp := acquireOnce(t, client)

	require.False(t, resp.HasResponseError())
	assert.Nil(t, resp.Reading.GridPower, "failed measurement leaves its field unset")
	require.NotNil(t, resp.Reading.GridVoltage)
	assert.Equal(t, 231.5, *resp.Reading.GridVoltage)
	assert.Equal(t, 14.0, *resp.Reading.GridCurrent)
	assert.Equal(t, 121000.0, *resp.Reading.EnergyWh)
	assert.Equal(t, 1, client.CloseCalls)
}

func TestDeviceActorHealth(t *testing.T) {
	as := actor.NewActorSystem()
	context := as.Root
	defer as.Shutdown()

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewDeviceActor(&aurora.TestClient{}, zap.NewNop())
	})
	pid, err := context.SpawnNamed(props, "device")
	require.NoError(t, err)
	defer context.Stop(pid)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	health, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)
	assert.True(t, health.Healthy)
	assert.Equal(t, domain.ACTOR_ID_DEVICE, health.Id)
}
