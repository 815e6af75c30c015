package domain

const (
	ACTOR_ID_MASTER = "master"
	ACTOR_ID_DEVICE = "device"
	ACTOR_ID_POLLER = "poller"
	ACTOR_ID_DBUS   = "dbus"
	ACTOR_ID_MQTT   = "mqtt"
)

// Reading is the aggregate snapshot from one device session cycle. A nil
// field means the value could not be obtained this cycle; the registry keeps
// its previously published value for the affected paths.
type Reading struct {
	GridVoltage *float64 // V
	GridCurrent *float64 // A
	GridPower   *float64 // W
	EnergyWh    *float64 // lifetime forward energy, Wh
}

// Empty reports whether no field was obtained this cycle (connect failure or
// device offline).
func (r Reading) Empty() bool {
	return r.GridVoltage == nil && r.GridCurrent == nil && r.GridPower == nil && r.EnergyWh == nil
}

func Float(v float64) *float64 {
	return &v
}

type AcquireReadingRequest struct {
	ActorRequestMixIn
}

type AcquireReadingResponse struct {
	ActorResponseMixIn
	Reading Reading
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
