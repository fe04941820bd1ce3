//go:build linux

// Command node runs the Forest Guardian sensor node: a single
// cooperative loop (internal/scheduler) that listens for chainsaw-like
// acoustic anomalies, reconstructs a mel spectrogram, and transmits it
// over a LoRa link to the hub. It targets the Raspberry Pi-class
// hardware the SX1276 SPI/GPIO driver and PortAudio capture assume.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/foresthq/guardian/internal/anomaly"
	"github.com/foresthq/guardian/internal/audiocapture"
	"github.com/foresthq/guardian/internal/conf"
	"github.com/foresthq/guardian/internal/nodelog"
	"github.com/foresthq/guardian/internal/radio"
	"github.com/foresthq/guardian/internal/scheduler"
	"github.com/foresthq/guardian/internal/spectrogram"
)

// tickInterval is how often the main loop drives the scheduler; it must
// be comfortably shorter than the node's watchdog timeout.
const tickInterval = 100 * time.Millisecond

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional, embedded defaults otherwise)")
	flag.Parse()

	settings, err := conf.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "node: failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := nodelog.New(settings.Debug)
	log.Info("forest guardian node starting", "node_id", settings.Node.ID, "profile", settings.Anomaly.Profile)

	audio, err := audiocapture.NewSource()
	if err != nil {
		log.Fatal("failed to open audio capture", "err", err)
	}
	defer audio.Close()

	link, err := newRadioLink(settings)
	if err != nil {
		log.Fatal("failed to open radio link", "err", err)
	}
	defer link.Close()

	engine := spectrogram.NewEngine(spectrogram.DefaultParams())

	profile := anomaly.ProfileProduction
	if settings.Anomaly.Profile == string(anomaly.ProfileDemo) {
		profile = anomaly.ProfileDemo
	}
	gate := anomaly.New(profile)
	thresholds := anomaly.ThresholdsFor(profile)
	if settings.Anomaly.ConsecutiveHits > 0 {
		thresholds.ConsecutiveHits = settings.Anomaly.ConsecutiveHits
	}
	if settings.Anomaly.TxCooldownMs > 0 {
		thresholds.Cooldown = time.Duration(settings.Anomaly.TxCooldownMs) * time.Millisecond
	}
	gate.SetThresholds(thresholds)

	var lastState scheduler.State = scheduler.StateBoot
	sched := scheduler.New(scheduler.Config{
		NodeID:            settings.Node.ID,
		Audio:             audio,
		Engine:            engine,
		Gate:              gate,
		Link:              link,
		Battery:           newBatteryReader(),
		HeartbeatInterval: time.Duration(settings.Node.HeartbeatMs) * time.Millisecond,
		PCMWindowSamples:  settings.Node.PCMWindowSamples,
		WatchdogKick:      watchdogKick(log),
		OnStateChange: func(from, to scheduler.State) {
			log.Info("state transition", "from", from, "to", to)
			lastState = to
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down", "final_state", lastState)
			return
		case now := <-ticker.C:
			sched.Tick(now)
			if sched.State() == scheduler.StateError {
				log.Error("scheduler latched into error state", "err", sched.LastError())
			}
		}
	}
}

// newRadioLink opens the real SX1276 link using the node's configured
// physical-layer parameters, translated from conf.Settings.Radio.
func newRadioLink(settings *conf.Settings) (radio.Link, error) {
	params := radio.DefaultParams()
	if settings.Radio.FrequencyMHz > 0 {
		params.FrequencyHz = uint32(settings.Radio.FrequencyMHz * 1_000_000)
	}
	if settings.Radio.Bandwidth > 0 {
		params.Bandwidth = settings.Radio.Bandwidth
	}
	if settings.Radio.SpreadFactor > 0 {
		params.SpreadFactor = settings.Radio.SpreadFactor
	}
	if settings.Radio.CodingRate > 0 {
		params.CodingRate = settings.Radio.CodingRate
	}
	if settings.Radio.SyncWord != 0 {
		params.SyncWord = settings.Radio.SyncWord
	}
	if settings.Radio.TxPowerDBm != 0 {
		params.TxPowerDBm = settings.Radio.TxPowerDBm
	}

	return radio.NewSX1276(radio.SX1276Config{
		SPIDevicePath: "/dev/spidev0.0",
		SPISpeedHz:    4_000_000,
		GPIOChip:      "gpiochip0",
		ResetLine:     25,
		Params:        params,
	})
}

// watchdogKick feeds the hardware watchdog once per Tick. The reference
// node has no /dev/watchdog wired up yet; this just proves the contract
// out with a debug log until that hookup lands.
func watchdogKick(log *charmlog.Logger) func() {
	return func() {
		log.Debug("watchdog kick")
	}
}

// Battery voltage curve for a single-cell LiPo, millivolts. Below
// batteryUSBThresholdMV there is no cell at all: the node is running on
// USB power, reported as a full 100% per spec.md §8.
const (
	batteryUSBThresholdMV = 2500
	batteryEmptyMV        = 3300
	batteryFullMV         = 4200
)

// newBatteryReader reports a fixed full-charge reading until real
// fuel-gauge hardware is wired in; the scheduler's low-battery path is
// exercised via tests with a synthetic BatteryReader instead.
// batteryPercent still runs every reading through the real voltage
// curve so the USB-power and clamp rules are exercised end to end.
func newBatteryReader() scheduler.BatteryReader {
	return func() int { return batteryPercent(batteryFullMV) }
}

// batteryPercent converts a raw cell-voltage reading to spec.md §8's
// battery_percent: below the USB-detect threshold there is no cell
// installed, so report a full 100; otherwise scale linearly between
// empty and full and clamp to [0, 100].
func batteryPercent(millivolts int) int {
	if millivolts < batteryUSBThresholdMV {
		return 100
	}
	pct := (millivolts - batteryEmptyMV) * 100 / (batteryFullMV - batteryEmptyMV)
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}
