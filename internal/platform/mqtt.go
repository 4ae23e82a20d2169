// v0
// internal/platform/mqtt.go
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the MQTT bridge.
type MQTTConfig struct {
	Broker        string
	ClientID      string
	StateBase     string // statestream base topic, e.g. "homeassistant"
	CommandPrefix string // service calls go to <prefix>/<domain>/<service>
	QoS           byte
}

// mqttClient is the subset of mqtt.Client the bridge uses.
type mqttClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// MQTTBridge mirrors Home Assistant statestream topics into a Registry and
// publishes service calls as JSON commands.
type MQTTBridge struct {
	cfg    MQTTConfig
	reg    *Registry
	client mqttClient
	lg     *slog.Logger
}

// NewMQTTBridge builds a paho client that (re)subscribes to the state stream
// on every connect.
func NewMQTTBridge(cfg MQTTConfig, reg *Registry, lg *slog.Logger) *MQTTBridge {
	b := newBridge(cfg, reg, lg)
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		b.subscribe(c)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.lg.Warn("mqtt_connection_lost", "error", err)
	})
	b.client = mqtt.NewClient(opts)
	return b
}

func newBridge(cfg MQTTConfig, reg *Registry, lg *slog.Logger) *MQTTBridge {
	if reg == nil {
		reg = NewRegistry()
	}
	if lg == nil {
		lg = slog.Default()
	}
	cfg.StateBase = strings.Trim(cfg.StateBase, "/")
	cfg.CommandPrefix = strings.Trim(cfg.CommandPrefix, "/")
	return &MQTTBridge{cfg: cfg, reg: reg, lg: lg.With("component", "mqtt", "broker", cfg.Broker)}
}

// Registry returns the registry fed by the bridge.
func (b *MQTTBridge) Registry() *Registry { return b.reg }

// Connect blocks until the first connection succeeds or ctx ends.
func (b *MQTTBridge) Connect(ctx context.Context) error {
	if err := waitToken(ctx, b.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", b.cfg.Broker, err)
	}
	b.lg.Info("mqtt_connected")
	return nil
}

// Close disconnects, allowing 250ms for in-flight work.
func (b *MQTTBridge) Close() {
	b.client.Disconnect(250)
	b.lg.Info("mqtt_disconnected")
}

func (b *MQTTBridge) subscribe(c mqttClient) {
	filter := b.cfg.StateBase + "/#"
	tok := c.Subscribe(filter, b.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
		b.HandleMessage(m.Topic(), m.Payload())
	})
	if tok.WaitTimeout(10*time.Second) && tok.Error() != nil {
		b.lg.Error("mqtt_subscribe_failed", "filter", filter, "error", tok.Error())
		return
	}
	b.lg.Info("mqtt_subscribed", "filter", filter)
}

// ParseStateTopic splits <base>/<domain>/<object>/<leaf>. leaf is "state" for
// the entity state and the attribute name otherwise.
func ParseStateTopic(base, topic string) (entityID, leaf string, ok bool) {
	base = strings.Trim(base, "/")
	rest, found := strings.CutPrefix(topic, base+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0] + "." + parts[1], parts[2], true
}

// HandleMessage applies one statestream message to the registry. Attribute
// payloads are JSON; anything that does not decode is kept as a string.
func (b *MQTTBridge) HandleMessage(topic string, payload []byte) {
	entityID, leaf, ok := ParseStateTopic(b.cfg.StateBase, topic)
	if !ok {
		b.lg.Debug("mqtt_topic_ignored", "topic", topic)
		return
	}
	if leaf == "state" {
		b.reg.SetState(entityID, strings.Trim(string(payload), `"`))
		return
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		v = string(payload)
	}
	b.reg.SetAttribute(entityID, leaf, v)
}

type commandPayload struct {
	EntityID []string       `json:"entity_id,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// CallService publishes the call to <prefix>/<domain>/<service>.
func (b *MQTTBridge) CallService(ctx context.Context, call ServiceCall) error {
	if !b.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(commandPayload{EntityID: call.Target, Data: call.Data})
	if err != nil {
		return err
	}
	topic := b.cfg.CommandPrefix + "/" + call.Domain + "/" + call.Service
	if err := waitToken(ctx, b.client.Publish(topic, b.cfg.QoS, false, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	b.lg.Debug("mqtt_command_published", "topic", topic, "bytes", len(payload))
	return nil
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
