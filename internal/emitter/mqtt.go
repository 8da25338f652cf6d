// Package emitter forwards pipeline events to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"ringside/internal/pipeline"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	bufferSize     = 256
)

// Config holds the broker settings
type Config struct {
	Broker   string // host:port or a URL such as tcp://host:1883
	Topic    string // Events go to <Topic>/<session id>
	ClientID string
	QoS      byte
	Username string
	Password string
}

// Publisher is the part of mqtt.Client the emitter uses
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTEmitter publishes pipeline events to MQTT
type MQTTEmitter struct {
	cfg    Config
	client mqtt.Client
	pub    Publisher

	mu        sync.RWMutex
	published map[string]uint64 // count per event kind
	errors    uint64
	connected bool
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// NewMQTTEmitter creates an emitter; call Connect before Run
func NewMQTTEmitter(cfg Config) *MQTTEmitter {
	if cfg.ClientID == "" {
		cfg.ClientID = "ringside-" + uuid.New().String()[:8]
	}
	if cfg.Topic == "" {
		cfg.Topic = "ringside/events"
	}
	cfg.Topic = strings.TrimSuffix(cfg.Topic, "/")
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// newWithPublisher creates an emitter around an already connected publisher
func newWithPublisher(cfg Config, pub Publisher) *MQTTEmitter {
	e := NewMQTTEmitter(cfg)
	e.pub = pub
	e.connected = true
	return e
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection. The client keeps retrying
// in the background after a lost connection.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	if e.cfg.Username != "" {
		opts.SetUsername(e.cfg.Username)
		opts.SetPassword(e.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		log.Printf("[MQTT] Connected to %s as %s", e.cfg.Broker, e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		log.Printf("[MQTT] Connection to %s lost, reconnecting: %v", e.cfg.Broker, err)
	}

	e.client = mqtt.NewClient(opts)
	e.pub = e.client

	log.Printf("[MQTT] Connecting to %s", e.cfg.Broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("mqtt connection to %s timed out", e.cfg.Broker)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Run publishes bus events until ctx is done. Events arriving while the
// buffer is full or the broker is away are dropped.
func (e *MQTTEmitter) Run(ctx context.Context, bus *pipeline.EventBus) {
	events, unsubscribe := bus.SubscribeChannel(bufferSize)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := e.Publish(event); err != nil {
				log.Printf("[MQTT] Dropped %s event for session %s: %v", event.Kind, event.SessionID, err)
			}
		}
	}
}

// Publish sends one event to <topic>/<session id>
func (e *MQTTEmitter) Publish(event *pipeline.Event) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := e.cfg.Topic + "/" + event.SessionID
	token := e.pub.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[string(event.Kind)]++
	e.mu.Unlock()
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		log.Printf("[MQTT] Disconnected")
	}
	e.setConnected(false)
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
