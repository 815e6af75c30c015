package actor

import (
	"fmt"
	"time"

	"github.com/jabba80/dbus-aurora-pvinverter/internal/config"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/domain"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/events"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/mqtt"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/registry"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTActor is the optional dbus-mqtt style mirror. Registry batches from
// the event stream are republished as retained JSON values, one topic per
// path.
type MQTTActor struct {
	config         *config.Config
	behavior       actor.Behavior
	stash          *actorutil.Stash
	client         *mqtt.Client
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	logger         *zap.Logger
}

type mqttConnected struct {
}

type mqttConnectionLost struct {
	Error error
}

func NewMQTTActor(cfg *config.Config, stream *eventstream.EventStream, log *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      cfg,
		eventStream: stream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, log),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		state.client = mqtt.CreateClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client, err error) {
			ctx.Send(ctx.Self(), mqttConnectionLost{Error: err})
		})

		state.client.Connect(func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), mqttConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), mqttConnected{})
			}
		}, 10*time.Second)
	case mqttConnected:
		state.logger.Debug("mqtt@starting connected")
		state.subscribe(ctx)
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case mqttConnectionLost:
		// let the supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case events.PathsChangedEvent:
		state.logger.Debug("mqtt@default PathsChangedEvent", zap.Int("changes", len(msg.Changes)))
		for _, change := range msg.Changes {
			state.publishChange(change)
		}
	case mqttConnectionLost:
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTActor) publishChange(change registry.Change) {
	payload, err := mqtt.ValuePayload(change.Value)
	if err != nil {
		state.logger.Error("mqtt@publish marshal", zap.String("path", change.Name), zap.Error(err))
		return
	}
	topic := state.client.PathTopic(change.Name)
	state.logger.Sugar().Debugf("mqtt@publish %s => %s", topic, payload)
	state.client.Publish(topic, payload, 1, true, func(err error) {
		if err != nil {
			state.logger.Error("mqtt@publish failed", zap.String("path", change.Name), zap.Error(err))
		}
	}, 5*time.Second)
}

func (state *MQTTActor) subscribe(ctx actor.Context) {
	self := ctx.Self()
	system := ctx.ActorSystem()
	state.eventStreamSub = state.eventStream.Subscribe(func(evt any) {
		if e, ok := evt.(events.PathsChangedEvent); ok {
			system.Root.Send(self, e)
		}
	})
}

func (state *MQTTActor) stop() {
	state.logger.Debug("mqtt: disconnect")
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
	if state.client != nil {
		state.client.Disconnect(500 * time.Millisecond)
	}
}
