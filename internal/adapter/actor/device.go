package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/domain"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/util/actorutil"
	"github.com/jabba80/dbus-aurora-pvinverter/pkg/aurora"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/logger"
	"go.uber.org/zap"
)

// DeviceActor owns the serial client and serializes access to the bus: one
// acquisition cycle at a time, each a full connect/query/close session.
type DeviceActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	client   aurora.Client
	logger   *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewDeviceActor(client aurora.Client, log *zap.Logger) *DeviceActor {
	act := &DeviceActor{
		client:   client,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_DEVICE, log),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *DeviceActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *DeviceActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("device@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_DEVICE,
			Healthy: true,
			State:   "idle",
		})
	case domain.AcquireReadingRequest:
		state.logger.Debug("device@default AcquireReadingRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTaskNoError(ctx, state.acquire),
			mapTaskResult[domain.AcquireReadingResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.AcquireReadingResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(30 * time.Second).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingDevice)
	default:
		state.logger.Debug("device@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *DeviceActor) WaitingDevice(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("device@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		ctx.Send(msg.replyTo, msg.message)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("device@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// acquire runs one device session: connect, check the device clock, take the
// four grid measurements, close. Every failure is contained here; a lost
// measurement only leaves its Reading field unset.
func (a *DeviceActor) acquire() *domain.AcquireReadingResponse {
	var reading domain.Reading

	if err := a.client.Connect(); err != nil {
		a.logger.Error("could not open device transport", zap.Error(err))
		return &domain.AcquireReadingResponse{Reading: reading}
	}
	defer func() {
		a.logger.Debug("closing device transport")
		if err := a.client.Close(); err != nil {
			logger.Error(err)
		}
	}()

	deviceTime, err := a.client.TimeOfDevice()
	if err != nil {
		if errors.Is(err, aurora.ErrDeviceOffline) {
			a.logger.Debug("device offline, no data this cycle")
		} else {
			logger.Error(err)
		}
		return &domain.AcquireReadingResponse{Reading: reading}
	}
	a.logger.Debug("device online", zap.Time("deviceTime", deviceTime))

	if v, err := a.client.Measure(aurora.ChannelGridVoltage); err != nil {
		logger.Error(err)
	} else {
		reading.GridVoltage = &v
	}
	if i, err := a.client.Measure(aurora.ChannelGridCurrent); err != nil {
		logger.Error(err)
	} else {
		reading.GridCurrent = &i
	}
	if p, err := a.client.Measure(aurora.ChannelGridPower); err != nil {
		logger.Error(err)
	} else {
		reading.GridPower = &p
	}
	if e, err := a.client.CumulativeEnergy(aurora.PeriodTotal); err != nil {
		logger.Error(err)
	} else {
		reading.EnergyWh = &e
	}

	return &domain.AcquireReadingResponse{Reading: reading}
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
