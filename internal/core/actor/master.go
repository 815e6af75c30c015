package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/jabba80/dbus-aurora-pvinverter/internal/adapter/actor"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/config"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/domain"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/events"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/registry"
	. "github.com/jabba80/dbus-aurora-pvinverter/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type DeviceActorProvider func() *adactor.DeviceActor

type DBusActorProvider func(*registry.Registry, *eventstream.EventStream) *adactor.DBusActor

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

// MasterActor spawns and supervises the device, bus and poller actors, wires
// the registry's change feed into the event stream, and aggregates health
// checks.
type MasterActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	registry            *registry.Registry
	eventStream         *eventstream.EventStream
	currentHealthCheck  healthCheckResult
	deviceActor         *actor.PID
	dbusActor           *actor.PID
	mqttActor           *actor.PID
	pollerActor         *actor.PID
	deviceActorProvider DeviceActorProvider
	dbusActorProvider   DBusActorProvider
	mqttActorProvider   MQTTActorProvider
	logger              *zap.Logger
}

type healthCheckResult struct {
	healthyById    map[string]bool
	checksExpected int
	checksReceived int
	respondTo      *actor.PID
}

func NewMasterActor(cfg config.Config, reg *registry.Registry, deviceProvider DeviceActorProvider,
	dbusProvider DBusActorProvider, mqttProvider MQTTActorProvider, logger *zap.Logger) *MasterActor {
	act := &MasterActor{
		config:              cfg,
		registry:            reg,
		behavior:            actor.NewBehavior(),
		stash:               &Stash{},
		logger:              ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:         &eventstream.EventStream{},
		deviceActorProvider: deviceProvider,
		dbusActorProvider:   dbusProvider,
		mqttActorProvider:   mqttProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset(state.childIds())

		// every committed registry batch flows to the bus adapters
		state.registry.Subscribe(func(changes []registry.Change) {
			state.eventStream.Publish(events.PathsChangedEvent{Changes: changes})
		})

		deviceActorPID, err := state.startDeviceActor(ctx)
		if err != nil {
			panic(err)
		}
		state.deviceActor = deviceActorPID

		dbusActorPID, err := state.startDBusActor(ctx)
		if err != nil {
			panic(err)
		}
		state.dbusActor = dbusActorPID

		if state.config.MQTT.Enabled() {
			mqttActorPID, err := state.startMQTTActor(ctx)
			if err != nil {
				panic(err)
			}
			state.mqttActor = mqttActorPID
		}

		pollerActorPID, err := state.startPollerActor(ctx)
		if err != nil {
			panic(err)
		}
		state.pollerActor = pollerActorPID

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset(state.childIds())
		state.currentHealthCheck.respondTo = ctx.Sender()

		for _, pid := range state.childPIDs() {
			child := pid
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(child, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      child.Id,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)
		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case *actor.Terminated:
		// the bus is the reason this process exists; losing it is fatal
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_DBUS) {
			state.logger.Error("master@default dbus terminated")
			panic(errors.New("dbus terminated"))
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// a silent child counts as unhealthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.record(msg)
		if state.currentHealthCheck.allReceived() {
			state.currentHealthCheck.respond(ctx)
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) childIds() []string {
	ids := []string{domain.ACTOR_ID_DEVICE, domain.ACTOR_ID_DBUS, domain.ACTOR_ID_POLLER}
	if state.config.MQTT.Enabled() {
		ids = append(ids, domain.ACTOR_ID_MQTT)
	}
	return ids
}

func (state *MasterActor) childPIDs() []*actor.PID {
	pids := []*actor.PID{state.deviceActor, state.dbusActor, state.pollerActor}
	if state.mqttActor != nil {
		pids = append(pids, state.mqttActor)
	}
	return pids
}

func (state *MasterActor) startDeviceActor(ctx actor.Context) (*actor.PID, error) {
	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	deviceProps := actor.PropsFromProducer(func() actor.Actor {
		return state.deviceActorProvider()
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(deviceProps, domain.ACTOR_ID_DEVICE)
}

func (state *MasterActor) startDBusActor(ctx actor.Context) (*actor.PID, error) {
	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	dbusProps := actor.PropsFromProducer(func() actor.Actor {
		return state.dbusActorProvider(state.registry, state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(dbusProps, domain.ACTOR_ID_DBUS)
}

func (state *MasterActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {
	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *MasterActor) startPollerActor(ctx actor.Context) (*actor.PID, error) {
	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	pollerProps := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(&state.config, state.deviceActor, state.registry, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(pollerProps, domain.ACTOR_ID_POLLER)
}

func (state *healthCheckResult) reset(ids []string) {
	state.healthyById = make(map[string]bool, len(ids))
	for _, id := range ids {
		state.healthyById[id] = false
	}
	state.checksExpected = len(ids)
	state.checksReceived = 0
	state.respondTo = nil
}

func (state *healthCheckResult) record(resp domain.ActorHealthResponse) {
	state.checksReceived++
	if resp.Healthy {
		for id := range state.healthyById {
			// child PID ids are "master/<id>"
			if resp.Id == id || resp.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, id) {
				state.healthyById[id] = true
			}
		}
	}
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived >= state.checksExpected
}

func (state *healthCheckResult) allHealthy() bool {
	for _, healthy := range state.healthyById {
		if !healthy {
			return false
		}
	}
	return true
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
