// Package notifier mirrors new_alert events onto an MQTT topic,
// grounded on the teacher's internal/mqtt client (connect-with-backoff,
// publish-with-timeout), repurposed from a bird-observation feed into
// an alert-mirroring client.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/foresthq/guardian/internal/eventbus"
	fgerrors "github.com/foresthq/guardian/internal/errors"
	"github.com/foresthq/guardian/internal/logging"
	"github.com/foresthq/guardian/internal/store"
)

// Config configures the MQTT notifier.
type Config struct {
	Broker   string
	ClientID string // defaults to "forest-guardian-hub"
	Username string
	Password string
	Topic    string // defaults to "forestguardian/alerts"
}

// alertMessage is the JSON body published for each alert.
type alertMessage struct {
	ID          uint      `json:"id"`
	NodeID      string    `json:"node_id"`
	ThreatLevel string    `json:"threat_level"`
	Label       string    `json:"label"`
	Confidence  int       `json:"confidence"`
	At          time.Time `json:"at"`
}

// Notifier subscribes to the event bus and republishes every new_alert
// event as an MQTT message.
type Notifier struct {
	cfg    Config
	client mqtt.Client
	mu     sync.Mutex
	log    *slog.Logger
}

// New constructs a Notifier. Call Connect before Subscribe.
func New(cfg Config) *Notifier {
	if cfg.ClientID == "" {
		cfg.ClientID = "forest-guardian-hub"
	}
	if cfg.Topic == "" {
		cfg.Topic = "forestguardian/alerts"
	}
	return &Notifier{cfg: cfg, log: logging.ForService("notifier")}
}

// Connect resolves the broker hostname and establishes the MQTT
// session, mirroring the teacher's resolveBrokerHostname pre-flight
// check so a DNS misconfiguration fails fast with a clear error
// instead of a 30-second connect timeout.
func (n *Notifier) Connect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := resolveBrokerHostname(n.cfg.Broker); err != nil {
		return fgerrors.New(err).Component("notifier").Category(fgerrors.CategoryMQTTConnect).Build()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(n.cfg.Broker)
	opts.SetClientID(n.cfg.ClientID)
	opts.SetUsername(n.cfg.Username)
	opts.SetPassword(n.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		n.log.Info("connected to mqtt broker", "broker", n.cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		n.log.Warn("mqtt connection lost", "broker", n.cfg.Broker, "err", err)
	})

	n.client = mqtt.NewClient(opts)
	token := n.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return fgerrors.Newf("mqtt connect timeout").
			Component("notifier").Category(fgerrors.CategoryMQTTConnect).Build()
	}
	if err := token.Error(); err != nil {
		return fgerrors.New(err).Component("notifier").Category(fgerrors.CategoryMQTTConnect).Build()
	}
	return nil
}

func resolveBrokerHostname(broker string) error {
	u, err := url.Parse(broker)
	if err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}
	if _, err := net.LookupHost(u.Hostname()); err != nil {
		return fmt.Errorf("failed to resolve hostname %s: %w", u.Hostname(), err)
	}
	return nil
}

// Subscribe registers the notifier as an event bus subscriber, so every
// new_alert event gets mirrored to MQTT.
func (n *Notifier) Subscribe(bus *eventbus.Bus) *eventbus.Subscription {
	return bus.Subscribe(func(ev eventbus.Event) {
		if ev.Type != eventbus.TypeNewAlert {
			return
		}
		alert, ok := ev.Payload.(store.Alert)
		if !ok {
			return
		}
		if err := n.publishAlert(alert); err != nil {
			n.log.Warn("failed to publish alert", "alert_id", alert.ID, "err", err)
		}
	})
}

func (n *Notifier) publishAlert(alert store.Alert) error {
	body, err := json.Marshal(alertMessage{
		ID:          alert.ID,
		NodeID:      alert.NodeID,
		ThreatLevel: alert.ThreatLevel,
		Label:       alert.Label,
		Confidence:  alert.Confidence,
		At:          alert.CreatedAt,
	})
	if err != nil {
		return err
	}
	return n.Publish(n.cfg.Topic, body)
}

// Publish sends a raw payload to topic, waiting up to 10s for the
// broker to acknowledge.
func (n *Notifier) Publish(topic string, payload []byte) error {
	n.mu.Lock()
	client := n.client
	n.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return fgerrors.Newf("not connected to mqtt broker").
			Component("notifier").Category(fgerrors.CategoryMQTTPublish).Build()
	}
	token := client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fgerrors.Newf("mqtt publish timeout").
			Component("notifier").Category(fgerrors.CategoryMQTTPublish).Build()
	}
	return token.Error()
}

// Disconnect closes the MQTT session.
func (n *Notifier) Disconnect() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil && n.client.IsConnected() {
		n.client.Disconnect(250)
	}
}
