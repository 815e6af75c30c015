package util

import (
	"github.com/jabba80/dbus-aurora-pvinverter/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Serial: config.SerialConfig{
			Port:          "/dev/null",
			Address:       3,
			BaudRate:      19200,
			TimeoutMillis: 5000,
		},
		Device: config.DeviceConfig{
			Instance:    0,
			ProductId:   0xB00D,
			ProductName: "Aurora PV-Inverter",
			MaxPower:    10000,
		},
		DBus: config.DBusConfig{
			Bus:         "session",
			ServiceName: "com.victronenergy.pvinverter.ttyUSB0",
		},
		Monitor: config.MonitorConfig{
			PollIntervalMillis: 10000,
		},
		Port: 8080,
	}
}
