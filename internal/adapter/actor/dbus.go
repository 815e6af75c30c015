package actor

import (
	"fmt"

	"github.com/jabba80/dbus-aurora-pvinverter/internal/config"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/domain"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/events"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/registry"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/util/actorutil"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/vebus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// DBusActor bridges the registry to the Venus D-Bus service: committed
// batches arriving on the event stream are emitted as PropertiesChanged
// signals; external SetValue calls flow back through the registry inside the
// vebus layer.
type DBusActor struct {
	config         *config.Config
	behavior       actor.Behavior
	stash          *actorutil.Stash
	registry       *registry.Registry
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	service        *vebus.Service
	logger         *zap.Logger
}

func NewDBusActor(cfg *config.Config, reg *registry.Registry, stream *eventstream.EventStream, log *zap.Logger) *DBusActor {
	act := &DBusActor{
		config:      cfg,
		registry:    reg,
		eventStream: stream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_DBUS, log),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *DBusActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *DBusActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("dbus@starting started")

		// An unreachable bus is an unrecoverable startup failure; the panic
		// reaches the master which terminates the process.
		svc, err := vebus.Connect(state.config.DBus.Bus, state.config.DBus.ServiceName, state.registry, state.logger)
		if err != nil {
			panic(err)
		}
		state.service = svc

		state.subscribe(ctx)
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("dbus@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *DBusActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("dbus@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_DBUS,
			Healthy: true,
			State:   "idle",
		})
	case events.PathsChangedEvent:
		state.logger.Debug("dbus@default PathsChangedEvent", zap.Int("changes", len(msg.Changes)))
		state.service.EmitChanges(msg.Changes)
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("dbus@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *DBusActor) subscribe(ctx actor.Context) {
	self := ctx.Self()
	system := ctx.ActorSystem()
	state.eventStreamSub = state.eventStream.Subscribe(func(evt any) {
		if e, ok := evt.(events.PathsChangedEvent); ok {
			system.Root.Send(self, e)
		}
	})
}

func (state *DBusActor) stop() {
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
	if state.service != nil {
		if err := state.service.Close(); err != nil {
			state.logger.Debug("dbus close", zap.Error(err))
		}
		state.service = nil
	}
}

// NewTestDBusActor skips the bus connection; registry changes are only
// counted. Used by actor tests.
func NewTestDBusActor(cfg *config.Config, reg *registry.Registry, stream *eventstream.EventStream, log *zap.Logger) *DBusActor {
	act := &DBusActor{
		config:      cfg,
		registry:    reg,
		eventStream: stream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_DBUS, log),
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *DBusActor) DummyReceive(ctx actor.Context) {
	switch ctx.Message().(type) {
	case *actor.Started:
		state.subscribe(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_DBUS,
			Healthy: true,
			State:   "idle",
		})
	case events.PathsChangedEvent:
	case *actor.Stopping:
		state.stop()
	}
}
