//go:build linux

package main

import (
	"context"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/foresthq/guardian/internal/classifier"
	"github.com/foresthq/guardian/internal/conf"
	"github.com/foresthq/guardian/internal/discovery"
	"github.com/foresthq/guardian/internal/eventbus"
	"github.com/foresthq/guardian/internal/gateway"
	"github.com/foresthq/guardian/internal/hubapi"
	"github.com/foresthq/guardian/internal/logging"
	"github.com/foresthq/guardian/internal/metrics"
	"github.com/foresthq/guardian/internal/notifier"
	"github.com/foresthq/guardian/internal/radio"
	"github.com/foresthq/guardian/internal/reassembler"
	"github.com/foresthq/guardian/internal/resourcemon"
	"github.com/foresthq/guardian/internal/store"
	"github.com/foresthq/guardian/internal/wire"

	"github.com/prometheus/client_golang/prometheus"
)

// sweepInterval is how often the reassembler evicts sessions that have
// gone quiet past their timeout.
const sweepInterval = 5 * time.Second

// syncInterval is how often the Dispatcher's offline sync queue is
// drained against the cloud tiers.
const syncInterval = time.Minute

func serveCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hub: radio receiver, reassembler, classifier pipeline, and operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(settings)
		},
	}
}

func runServe(settings *conf.Settings) error {
	logging.Init(settings.Log.Path)
	log := logging.ForService("hub")
	log.Info("forest guardian hub starting", "http_addr", settings.Hub.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := eventbus.New(256)
	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)

	st := newStore(settings, bus)
	if err := st.Open(); err != nil {
		return err
	}
	defer st.Close()

	local, err := classifier.NewLocal(classifier.LocalConfig{
		ModelPath:     settings.Classifier.Local.ModelPath,
		OnnxLibPath:   settings.Classifier.Local.OnnxLibPath,
		ConfidenceMin: settings.Classifier.Local.ConfidenceMin,
	})
	if err != nil {
		log.Error("local classifier unavailable, continuing without it", "err", err)
	}

	var fastCloud *classifier.FastCloud
	if settings.Classifier.FastCloud.Endpoint != "" {
		fastCloud = classifier.NewFastCloud(classifier.FastCloudConfig{
			Endpoint: settings.Classifier.FastCloud.Endpoint,
			APIKey:   settings.Classifier.FastCloud.APIKey,
			Timeout:  time.Duration(settings.Classifier.FastCloud.TimeoutS) * time.Second,
			CacheTTL: time.Duration(settings.Classifier.FastCloud.CacheTTLS) * time.Second,
		})
	}

	var deepCloud *classifier.DeepCloud
	if settings.Classifier.DeepCloud.Endpoint != "" {
		deepCloud = classifier.NewDeepCloud(classifier.DeepCloudConfig{
			Endpoint:      settings.Classifier.DeepCloud.Endpoint,
			APIKey:        settings.Classifier.DeepCloud.APIKey,
			Timeout:       time.Duration(settings.Classifier.DeepCloud.TimeoutS) * time.Second,
			RateLimit:     settings.Classifier.DeepCloud.RateLimit,
			RateWindow:    time.Duration(settings.Classifier.DeepCloud.RateWindowS) * time.Second,
			OnRateLimited: reg.DeepRateLimited.Inc,
		})
	}

	// classifier.Dispatcher needs its Sink at construction time, but the
	// Sink (the Gateway) needs the Dispatcher at its own construction
	// time. sinkFwd breaks the cycle: it is handed to the Dispatcher
	// first and pointed at the Gateway once that's built, both still
	// inside this single setup goroutine before any packet traffic flows.
	sinkFwd := &gatewaySinkForwarder{}
	syncPersistence := gateway.NewSyncPersistence(st, settings.Hub.SyncQueueDir)
	dispatcher := classifier.NewDispatcher(classifier.DispatcherConfig{
		Local:       asClassifier(local),
		FastCloud:   asClassifier(fastCloud),
		DeepCloud:   asClassifier(deepCloud),
		Mode:        classifier.Mode(settings.Classifier.Mode),
		Sink:        sinkFwd,
		Persistence: syncPersistence,
	})

	gw := gateway.New(ctx, gateway.Config{
		Store:          st,
		Bus:            bus,
		Dispatcher:     dispatcher,
		Metrics:        reg,
		SpectrogramDir: settings.Hub.SpectrogramDir,
		Workers:        gateway.DefaultWorkers,
	})
	defer gw.Shutdown()
	sinkFwd.gw = gw

	link, err := newHubRadioLink(settings)
	if err != nil {
		return err
	}
	defer link.Close()

	reassemblerMaxSessions := settings.Session.MaxConcurrent
	if reassemblerMaxSessions <= 0 {
		reassemblerMaxSessions = 32
	}
	reasm := reassembler.New(gw, reassemblerMaxSessions)
	if settings.Session.TimeoutS > 0 {
		reasm.SetSessionTimeout(time.Duration(settings.Session.TimeoutS) * time.Second)
	}

	go runRadioReceiver(ctx, link, reasm, log)
	go runSweeper(ctx, reasm)
	go runSyncWorker(ctx, dispatcher)

	mon := resourcemon.New(resourcemon.DefaultThresholds(), settings.Hub.SpectrogramDir)
	mon.LogCPUFeatures()
	go mon.Run(ctx)

	if settings.Discovery.Enabled {
		adv := discovery.New(settings.Discovery.ServiceName, httpPort(settings.Hub.HTTPAddr))
		stopAdv, err := adv.Start(ctx)
		if err != nil {
			log.Warn("mDNS advertisement failed to start", "err", err)
		} else {
			defer stopAdv()
		}
	}

	if settings.MQTT.Enabled {
		n := notifier.New(notifier.Config{
			Broker:   settings.MQTT.Broker,
			Username: settings.MQTT.Username,
			Password: settings.MQTT.Password,
			Topic:    settings.MQTT.Topic,
		})
		if err := n.Connect(ctx); err != nil {
			log.Warn("mqtt connect failed, continuing without alert mirroring", "err", err)
		} else {
			sub := n.Subscribe(bus)
			defer sub.Unsubscribe()
		}
	}

	api := hubapi.New(hubapi.Config{
		Addr:       settings.Hub.HTTPAddr,
		Store:      st,
		Bus:        bus,
		Dispatcher: dispatcher,
		FastCloud:  fastCloud,
		DeepCloud:  deepCloud,
	})
	return api.Start(ctx)
}

// runRadioReceiver pumps the radio link's Receive loop and feeds every
// parsed packet to the reassembler, the hub's single serial reassembly
// task per spec.md §5.
func runRadioReceiver(ctx context.Context, link radio.Link, reasm *reassembler.Reassembler, log interface {
	Warn(string, ...any)
}) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, err := link.Receive()
		if err != nil {
			if link.NeedsReset() {
				log.Warn("radio link latched, receiver stopping", "err", err)
				return
			}
			continue
		}
		parsed, err := wire.ParsePacket(pkt.Payload)
		if err != nil {
			log.Warn("dropping malformed packet", "err", err)
			continue
		}
		reasm.OnPacket(parsed, pkt.RSSI, time.Now())
	}
}

func runSweeper(ctx context.Context, reasm *reassembler.Reassembler) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			reasm.Sweep(now)
		}
	}
}

func runSyncWorker(ctx context.Context, dispatcher *classifier.Dispatcher) {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dispatcher.PendingSync() > 0 {
				dispatcher.Sync(ctx)
			}
		}
	}
}

func newHubRadioLink(settings *conf.Settings) (radio.Link, error) {
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
		SPIDevicePath: "/dev/spidev0.1",
		SPISpeedHz:    4_000_000,
		GPIOChip:      "gpiochip0",
		ResetLine:     17,
		Params:        params,
	})
}

func httpPort(addr string) int {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return 0
	}
	port, err := strconv.Atoi(addr[i+1:])
	if err != nil {
		return 0
	}
	return port
}

// newStore constructs the hub's SQLiteStore.
func newStore(settings *conf.Settings, bus *eventbus.Bus) *store.SQLiteStore {
	return store.New(store.Config{
		Path:  settings.Hub.DatabasePath,
		Debug: settings.Debug,
		Bus:   bus,
	})
}

// asClassifier converts a possibly-nil concrete classifier pointer to
// the classifier.Classifier interface, returning a true nil interface
// (rather than a non-nil interface wrapping a nil pointer) when v is
// nil, so the Dispatcher's own "== nil" tier checks behave correctly.
func asClassifier[T interface {
	classifier.Classifier
	comparable
}](v T) classifier.Classifier {
	var zero T
	if v == zero {
		return nil
	}
	return v
}

// gatewaySinkForwarder forwards classifier.Sink calls to a *gateway.Gateway
// assigned after both it and the Dispatcher that holds this forwarder
// have been constructed, breaking their construction-order cycle.
type gatewaySinkForwarder struct {
	gw *gateway.Gateway
}

func (f *gatewaySinkForwarder) OnClassified(identifier string, result classifier.Result) {
	f.gw.OnClassified(identifier, result)
}

func (f *gatewaySinkForwarder) OnSyncCompleted(completed classifier.SyncCompleted) {
	f.gw.OnSyncCompleted(completed)
}
