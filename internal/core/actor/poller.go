package actor

import (
	"fmt"
	"time"

	"github.com/jabba80/dbus-aurora-pvinverter/internal/config"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/domain"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/service"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/registry"
	. "github.com/jabba80/dbus-aurora-pvinverter/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// PollerActor drives the acquisition-and-publish cycle: a fixed wall-clock
// tick requests a Reading from the device actor, derives the metric set and
// commits it to the registry as one batch. At most one cycle is in flight;
// ticks arriving while a cycle runs are dropped, not queued.
type PollerActor struct {
	behavior   actor.Behavior
	stash      *Stash
	scheduler  *scheduler.TimerScheduler
	cancelTick scheduler.CancelFunc

	config      *config.Config
	deviceActor *actor.PID
	registry    *registry.Registry

	logger *zap.Logger
}

type pollTick struct {
}

func NewPollerActor(cfg *config.Config, deviceActor *actor.PID, reg *registry.Registry, logger *zap.Logger) *PollerActor {
	act := &PollerActor{
		config:      cfg,
		deviceActor: deviceActor,
		registry:    reg,
		behavior:    actor.NewBehavior(),
		stash:       &Stash{},
		logger:      ActorLogger(domain.ACTOR_ID_POLLER, logger),
	}
	act.behavior.Become(act.IdleReceive)
	return act
}

func (state *PollerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *PollerActor) pollInterval() time.Duration {
	return time.Duration(state.config.Monitor.PollIntervalMillis) * time.Millisecond
}

func (state *PollerActor) IdleReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("poller@idle started", zap.Duration("interval", state.pollInterval()))
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.cancelTick = state.scheduler.SendRepeatedly(state.pollInterval(), state.pollInterval(), ctx.Self(), pollTick{})
	case *actor.Stopping:
		state.stopTicker()
	case *actor.Restarting:
		state.stopTicker()
	case domain.ActorHealthRequest:
		state.logger.Debug("poller@idle ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_POLLER,
			Healthy: true,
			State:   "idle",
		})
	case pollTick:
		state.logger.Debug("poller@idle tick")
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.deviceActor, domain.AcquireReadingRequest{}, 35*time.Second), func(err error) any {
			return domain.AcquireReadingResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.behavior.BecomeStacked(state.RunningReceive)
	default:
		state.logger.Debug("poller@idle recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *PollerActor) RunningReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.AcquireReadingResponse:
		// a failed cycle never stops future ticks
		state.publishCycle(msg)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case pollTick:
		state.logger.Debug("poller@running tick skipped, cycle in progress")
	case *actor.Stopping:
		state.stopTicker()
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_POLLER,
			Healthy: true,
			State:   "running",
		})
	default:
		state.logger.Debug("poller@running stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) publishCycle(msg domain.AcquireReadingResponse) {
	if msg.HasResponseError() {
		state.logger.Error("poller acquisition failed", zap.Error(msg.GetResponseError()))
	}

	metrics := service.Derive(msg.Reading, state.config.Device.MaxPower)

	tx := state.registry.Update()
	if err := metrics.Stage(tx); err != nil {
		// registry schema and derivation disagree; neither changes at runtime
		state.logger.Error("poller could not stage metrics", zap.Error(err))
		return
	}
	tx.Commit()

	if msg.Reading.Empty() {
		state.logger.Debug("poller cycle committed without new reading")
	} else {
		state.logger.Debug("poller cycle committed")
	}
}

func (state *PollerActor) stopTicker() {
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
}
