package service

import (
	"math"

	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/domain"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/registry"
)

// StatusCodeProducing is the Venus pvinverter status "device producing
// power". The bridge always reports it, together with the rated max power,
// regardless of whether the inverter answered this cycle; consumers expect
// both fields every update.
const StatusCodeProducing = 7

// DerivedMetrics is the per-cycle output of metric derivation. The aggregate
// readings are split over a balanced three-phase system, so every phase
// carries the same derived value; a nil field means the underlying reading
// was not obtained and the registry keeps its prior value.
type DerivedMetrics struct {
	AcPower      *float64 // W
	AcCurrent    *float64 // A
	PhaseVoltage *float64 // V, per phase
	PhaseCurrent *float64 // A, per phase
	PhasePower   *float64 // W, per phase

	EnergyForward      *float64 // kWh
	PhaseEnergyForward *float64 // kWh, per phase

	MaxPower   float64
	StatusCode int
}

// Round2 rounds once, at the publication boundary.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round2p(v float64) *float64 {
	r := Round2(v)
	return &r
}

// Derive computes the published metric set from one Reading. Pure; each
// output is present only when its source field is.
func Derive(reading domain.Reading, maxPower float64) DerivedMetrics {
	m := DerivedMetrics{
		MaxPower:   maxPower,
		StatusCode: StatusCodeProducing,
	}
	if v := reading.GridVoltage; v != nil {
		m.PhaseVoltage = round2p(*v)
	}
	if i := reading.GridCurrent; i != nil {
		m.AcCurrent = round2p(*i)
		m.PhaseCurrent = round2p(*i / 3.0)
	}
	if p := reading.GridPower; p != nil {
		m.AcPower = round2p(*p)
		m.PhasePower = round2p(*p / 3.0)
	}
	if e := reading.EnergyWh; e != nil {
		m.EnergyForward = round2p(*e / 1000.0)
		m.PhaseEnergyForward = round2p(*e / 3000.0)
	}
	return m
}

// Stage writes the derived values into an open registry transaction. Absent
// fields are skipped so the affected paths retain their last published
// values; the two invariant constants are staged unconditionally.
func (m DerivedMetrics) Stage(tx *registry.Tx) error {
	set := func(err *error, name string, value *float64) {
		if *err != nil || value == nil {
			return
		}
		*err = tx.Set(name, *value)
	}

	var err error
	set(&err, PathAcPower, m.AcPower)
	set(&err, PathAcCurrent, m.AcCurrent)
	for _, phase := range Phases {
		set(&err, phase.Voltage, m.PhaseVoltage)
		set(&err, phase.Current, m.PhaseCurrent)
		set(&err, phase.Power, m.PhasePower)
	}
	set(&err, PathAcEnergyForward, m.EnergyForward)
	for _, phase := range Phases {
		set(&err, phase.EnergyForward, m.PhaseEnergyForward)
	}
	if err != nil {
		return err
	}
	if err := tx.Set(PathAcMaxPower, m.MaxPower); err != nil {
		return err
	}
	return tx.Set(PathStatusCode, m.StatusCode)
}
