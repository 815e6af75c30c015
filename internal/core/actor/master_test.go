package actor

import (
	"testing"
	"time"

	adactor "github.com/jabba80/dbus-aurora-pvinverter/internal/adapter/actor"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/config"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/domain"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/registry"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/util"
	"github.com/jabba80/dbus-aurora-pvinverter/pkg/aurora"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMasterActorHealth(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	reg := newSchemaRegistry(t)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterActor(cfg, reg, func() *adactor.DeviceActor {
			return adactor.NewDeviceActor(&aurora.TestClient{}, logger)
		}, func(r *registry.Registry, stream *eventstream.EventStream) *adactor.DBusActor {
			return adactor.NewTestDBusActor(&cfg, r, stream, logger)
		}, nil, logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	require.NoError(t, err)

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	require.NoError(t, err)

	healthResp, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)
	assert.True(t, healthResp.Healthy, "healthy is true")

	context.Stop(pid)
	as.Shutdown()
}

func TestMasterActorMQTTDisabledByDefault(t *testing.T) {
	var cfg config.Config
	assert.False(t, cfg.MQTT.Enabled())

	cfg.MQTT.Host = "localhost"
	assert.True(t, cfg.MQTT.Enabled())
}
