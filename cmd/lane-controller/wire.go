package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/lane/internal/config"
	"github.com/BrandonDHaskell/Portunus/lane/internal/db"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/archive"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/device"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/notify"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/queue"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/store"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/store/file"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/store/sqlite"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

func openQueue(ctx context.Context, cfg config.Config, log zerolog.Logger) (*queue.Queue, func(), error) {
	qcfg := queue.Config{Capacity: cfg.Queue.Capacity, MaxRetries: cfg.Queue.MaxRetries}

	var (
		st      store.QueueStore
		closeFn = func() {}
	)
	switch strings.ToLower(cfg.Queue.Backend) {
	case "sqlite":
		conn, err := db.Open(ctx, db.Config{Path: cfg.Queue.DBPath})
		if err != nil {
			return nil, nil, fmt.Errorf("open queue db: %w", err)
		}
		writer := db.NewWorker(conn)
		st = sqlite.NewQueueStore(conn, writer, cfg.Lane.ID)
		closeFn = func() {
			writer.Close()
			_ = conn.Close()
		}
		log.Info().Str("db", cfg.Queue.DBPath).Msg("offline queue on sqlite")
	default:
		st = file.NewQueueStore(cfg.Queue.File)
		log.Info().Str("file", cfg.Queue.File).Msg("offline queue on file")
	}

	return queue.Open(ctx, st, qcfg, log), closeFn, nil
}

type drivers struct {
	reader     device.CardReader
	recognizer device.PlateRecognizer
	actuator   device.Actuator
}

func (d drivers) close(log zerolog.Logger) {
	err := errors.Join(d.reader.Close(), d.recognizer.Close(), d.actuator.Close())
	if err != nil {
		log.Warn().Err(err).Msg("driver close")
	}
}

// openDrivers builds the capability drivers for the configured hardware
// mode. In real mode the card reader and gate actuator fall back to their
// simulated counterparts when their hardware cannot be opened. The plate
// recognizer never does: a simulated plate could match a session and open
// the exit gate, so a missing sidecar surfaces as a failed recognition.
func openDrivers(cfg config.Config, log zerolog.Logger) (drivers, error) {
	pos := cfg.Lane.Position()
	timing := device.DefaultTiming()

	validator, err := device.NewPlateValidator(cfg.Hardware.PlatePattern)
	if err != nil {
		return drivers{}, err
	}

	d := drivers{
		reader:     device.NewSimCardReader(cfg.Hardware.SimCard, cfg.Hardware.SimCardDelay, log),
		recognizer: device.NewSimRecognizer(cfg.Hardware.SimPlate, cfg.Images.Dir, log),
		actuator:   device.NewSimActuator(timing, log),
	}
	if !cfg.Hardware.Real() {
		log.Warn().Msg("running with simulated hardware")
		return d, nil
	}

	if r, err := device.OpenLineCardReader(cfg.Hardware.CardDevice, log); err != nil {
		log.Warn().Err(err).Msg("card reader unavailable, using simulation")
	} else {
		d.reader = r
	}

	d.recognizer = device.NewHTTPRecognizer(device.RecognizerConfig{
		Endpoint:      cfg.Hardware.RecognizerURL,
		LaneID:        cfg.Lane.ID,
		MinConfidence: cfg.Hardware.MinConfidence,
	}, validator, log)

	pins := device.EntryPins
	if pos == types.PositionExit {
		pins = device.ExitPins
	}
	if a, err := device.OpenGPIOActuator(cfg.Hardware.GPIORoot, pins, timing, log); err != nil {
		log.Warn().Err(err).Msg("gpio unavailable, using simulation")
	} else {
		d.actuator = a
	}

	return d, nil
}

func openArchive(cfg config.Config, log zerolog.Logger) archive.Archiver {
	if cfg.MinIO.Endpoint == "" {
		return archive.Local{}
	}
	m, err := archive.NewMinIO(archive.MinIOConfig{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		UseSSL:    cfg.MinIO.UseSSL,
		Bucket:    cfg.MinIO.Bucket,
		Prefix:    firstNonEmpty(cfg.MinIO.Prefix, cfg.Lane.ID),
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("image archive unavailable, keeping images local")
		return archive.Local{}
	}
	return m
}

// openNotifier connects to the broker if one is configured. A broker that
// is down at start-up is not fatal; the client keeps reconnecting.
func openNotifier(ctx context.Context, cfg config.Config, log zerolog.Logger) notify.Notifier {
	if cfg.MQTT.Broker == "" {
		return notify.Nop{}
	}
	m := notify.NewMQTT(notify.MQTTConfig{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		Topic:    cfg.MQTT.Topic,
		QoS:      byte(cfg.MQTT.QoS),
	}, cfg.Lane.Position(), log)
	if err := m.Connect(ctx); err != nil {
		log.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt not connected, events will be dropped until it is")
	}
	return m
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
