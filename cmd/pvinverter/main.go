package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"runtime"
	"syscall"
	"time"

	adactor "github.com/jabba80/dbus-aurora-pvinverter/internal/adapter/actor"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/config"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/actor"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/core/service"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/registry"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/server"
	"github.com/jabba80/dbus-aurora-pvinverter/internal/util/actorutil"
	"github.com/jabba80/dbus-aurora-pvinverter/pkg/aurora"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	done <- true
}

func main() {

	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// state tree: schema is fixed at startup, before anything can observe it
	reg := registry.New()
	if err := service.RegisterSchema(reg, identityFromConfig(cfg), logger); err != nil {
		logger.Fatal("could not register path schema", zap.Error(err))
	}

	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterActor(*cfg, reg, deviceActorProvider(cfg, logger),
			dbusActorProvider(cfg, logger), mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid, reg)
	done := make(chan bool, 1)

	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	setConfigDefaults()

	viper.SetEnvPrefix("aurora")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check bounds
	if cfg.Serial.Port == "" {
		return nil, errors.New("config param serial.port is required")
	}
	if cfg.Serial.Address > 63 {
		return nil, errors.New("config param serial.address must be a valid aurora bus address (0-63)")
	}
	if cfg.Monitor.PollIntervalMillis < 1000 {
		return nil, errors.New("config param monitor.poll_interval_millis should be >= 1000")
	}
	if cfg.Device.MaxPower <= 0 {
		return nil, errors.New("config param device.max_power should be > 0")
	}
	if cfg.DBus.Bus != "system" && cfg.DBus.Bus != "session" {
		return nil, errors.New("config param dbus.bus should be system or session")
	}
	if cfg.MQTT.Enabled() {
		baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
		if err != nil {
			return nil, errors.New("invalid mqtt base topic. can only contain letters, numbers and underscores")
		}
		cfg.MQTT.BaseTopic = baseTopic
	}

	if cfg.DBus.ServiceName == "" {
		cfg.DBus.ServiceName = fmt.Sprintf("com.victronenergy.pvinverter.%s", path.Base(cfg.Serial.Port))
	}

	return &cfg, nil
}

func identityFromConfig(cfg *config.Config) service.Identity {
	return service.Identity{
		ProcessName:    "dbus-aurora-pvinverter",
		ProcessVersion: fmt.Sprintf("%s, and running on %s", versioninfo.Short(), runtime.Version()),
		Connection:     path.Base(cfg.Serial.Port),
		DeviceInstance: int(cfg.Device.Instance),
		ProductId:      int(cfg.Device.ProductId),
		ProductName:    cfg.Device.ProductName,
		Position:       int(cfg.Device.Position),
	}
}

func deviceActorProvider(cfg *config.Config, logger *zap.Logger) actor.DeviceActorProvider {
	client := aurora.NewSerialClient(aurora.SerialConfig{
		Port:        cfg.Serial.Port,
		Address:     uint8(cfg.Serial.Address),
		BaudRate:    int(cfg.Serial.BaudRate),
		ReadTimeout: time.Duration(cfg.Serial.TimeoutMillis) * time.Millisecond,
	}, logger)

	return func() *adactor.DeviceActor {
		return adactor.NewDeviceActor(client, logger)
	}
}

func dbusActorProvider(cfg *config.Config, logger *zap.Logger) actor.DBusActorProvider {
	return func(reg *registry.Registry, stream *eventstream.EventStream) *adactor.DBusActor {
		return adactor.NewDBusActor(cfg, reg, stream, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(stream *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, stream, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("serial.port", "/dev/ttyUSB0")
	viper.SetDefault("serial.address", 3)
	viper.SetDefault("serial.baud_rate", 19200)
	viper.SetDefault("serial.timeout_millis", 5000)
	viper.SetDefault("device.instance", 0)
	viper.SetDefault("device.product_id", 0xB00D)
	viper.SetDefault("device.product_name", "Aurora PV-Inverter")
	viper.SetDefault("device.position", 0)
	viper.SetDefault("device.max_power", 10000)
	viper.SetDefault("dbus.bus", "system")
	viper.SetDefault("monitor.poll_interval_millis", 10000)
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.base_topic", "n")
	viper.SetDefault("mqtt.portal_id", "aurora")
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
