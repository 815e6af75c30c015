package service

import (
	"math"
	"strconv"

	"github.com/jabba80/dbus-aurora-pvinverter/internal/registry"

	"go.uber.org/zap"
)

// Path schema of a com.victronenergy.pvinverter service. Fixed for the
// process lifetime; registered once at startup, publication order follows
// declaration order below.

const (
	PathMgmtProcessName    = "/Mgmt/ProcessName"
	PathMgmtProcessVersion = "/Mgmt/ProcessVersion"
	PathMgmtConnection     = "/Mgmt/Connection"

	PathDeviceInstance  = "/DeviceInstance"
	PathProductId       = "/ProductId"
	PathProductName     = "/ProductName"
	PathFirmwareVersion = "/FirmwareVersion"
	PathHardwareVersion = "/HardwareVersion"
	PathConnected       = "/Connected"
	PathPosition        = "/Position"
	PathStatusCode      = "/StatusCode"
	PathRole            = "/Role"
	PathDbusInvalid     = "/DbusInvalid"

	PathAcPower         = "/Ac/Power"
	PathAcCurrent       = "/Ac/Current"
	PathAcMaxPower      = "/Ac/MaxPower"
	PathAcEnergyForward = "/Ac/Energy/Forward"
)

// PhasePaths groups the per-phase telemetry paths of one AC phase.
type PhasePaths struct {
	Voltage       string
	Current       string
	Power         string
	EnergyForward string
}

var Phases = []PhasePaths{
	{"/Ac/L1/Voltage", "/Ac/L1/Current", "/Ac/L1/Power", "/Ac/L1/Energy/Forward"},
	{"/Ac/L2/Voltage", "/Ac/L2/Current", "/Ac/L2/Power", "/Ac/L2/Energy/Forward"},
	{"/Ac/L3/Voltage", "/Ac/L3/Current", "/Ac/L3/Power", "/Ac/L3/Energy/Forward"},
}

// Identity holds the values of the identity/management paths, published once
// at startup and never updated.
type Identity struct {
	ProcessName    string
	ProcessVersion string
	Connection     string
	DeviceInstance int
	ProductId      int
	ProductName    string
	Position       int
}

func formatUnit(decimals int, unit string) registry.TextFunc {
	return func(_ string, value any) string {
		f, ok := value.(float64)
		if !ok {
			return ""
		}
		return strconv.FormatFloat(roundTo(f, decimals), 'f', -1, 64) + unit
	}
}

func coerceNumeric(value any) any {
	switch n := value.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return value
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

// RegisterSchema declares the full path set on an empty registry: the
// identity/management paths (read-only) and the 16 telemetry paths (writable,
// to allow test/debug injection from the bus; accepted writes are logged and
// overwritten by the next poll cycle).
func RegisterSchema(reg *registry.Registry, id Identity, logger *zap.Logger) error {
	volts := formatUnit(1, "V")
	amps := formatUnit(1, "A")
	watts := formatUnit(1, "W")
	kwh := formatUnit(2, "kWh")

	// External writers on the bus may hand over any numeric variant type;
	// coerce to float64 so the formatters and the next poll cycle agree on
	// the representation.
	acceptLogged := func(name string, value any) (any, bool) {
		coerced := coerceNumeric(value)
		logger.Debug("external write", zap.String("path", name), zap.Any("value", coerced))
		return coerced, true
	}

	type pathDef struct {
		name     string
		initial  any
		text     registry.TextFunc
		writable bool
	}

	defs := []pathDef{
		{PathMgmtProcessName, id.ProcessName, nil, false},
		{PathMgmtProcessVersion, id.ProcessVersion, nil, false},
		{PathMgmtConnection, id.Connection, nil, false},
		{PathDeviceInstance, id.DeviceInstance, nil, false},
		{PathProductId, id.ProductId, nil, false},
		{PathProductName, id.ProductName, nil, false},
		{PathFirmwareVersion, 0, nil, false},
		{PathHardwareVersion, 0, nil, false},
		{PathConnected, 1, nil, false},
		{PathPosition, id.Position, nil, false},
		{PathStatusCode, 0, nil, false},
		{PathRole, "pvinverter", nil, false},
		{PathDbusInvalid, nil, nil, false},

		{PathAcPower, 0.0, watts, true},
		{PathAcCurrent, 0.0, amps, true},
	}
	for _, phase := range Phases {
		defs = append(defs,
			pathDef{phase.Voltage, 0.0, volts, true},
			pathDef{phase.Current, 0.0, amps, true},
			pathDef{phase.Power, 0.0, watts, true},
		)
	}
	defs = append(defs, pathDef{PathAcEnergyForward, nil, kwh, true})
	for _, phase := range Phases {
		defs = append(defs, pathDef{phase.EnergyForward, nil, kwh, true})
	}
	defs = append(defs, pathDef{PathAcMaxPower, 0.0, watts, true})

	for _, def := range defs {
		var hook registry.WriteHook
		if def.writable {
			hook = acceptLogged
		}
		if err := reg.Register(def.name, def.initial, def.text, def.writable, hook); err != nil {
			return err
		}
	}
	return nil
}
