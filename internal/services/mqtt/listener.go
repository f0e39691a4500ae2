// Package mqtt lets external controllers drive the programmer layer over MQTT.
//
// Topics, below the configured prefix:
//
//	<prefix>/programmer/<fixture>/<attribute>   payload {"value": 0.5} or 0.5; empty releases
//	<prefix>/programmer/clear                    any payload
package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/bbernstein/lacylights-engine/internal/config"
	"github.com/bbernstein/lacylights-engine/internal/fixture"
	"github.com/bbernstein/lacylights-engine/internal/logger"
	"github.com/bbernstein/lacylights-engine/internal/services/layers"
)

const (
	connectTimeout    = 10 * time.Second
	keepAlive         = 30 * time.Second
	reconnectInterval = 5 * time.Second
	disconnectQuiesce = 500 // milliseconds
)

// ErrTopic is returned for topics outside the programmer namespace.
var ErrTopic = errors.New("mqtt: unrecognised topic")

// ErrPayload is returned for payloads that are neither a number nor {"value": n}.
var ErrPayload = errors.New("mqtt: invalid payload")

type levelPayload struct {
	Value *float64 `json:"value"`
}

// Listener subscribes to programmer topics and applies them.
type Listener struct {
	cfg        config.MQTTConfig
	programmer *layers.Programmer
	patch      fixture.Patch
	onChange   func()
	log        *logger.Log
	client     pahomqtt.Client
}

// NewListener creates a listener. onChange, if set, runs after every applied message.
func NewListener(cfg config.MQTTConfig, programmer *layers.Programmer, patch fixture.Patch, onChange func(), log *logger.Log) *Listener {
	return &Listener{
		cfg:        cfg,
		programmer: programmer,
		patch:      patch,
		onChange:   onChange,
		log:        log.Module("mqtt"),
	}
}

func (l *Listener) topicRoot() string {
	return strings.TrimSuffix(l.cfg.TopicPrefix, "/") + "/programmer"
}

// routeClientLogs sends the paho client's own diagnostics to the engine log when
// running at debug level. Paho only logs through package variables.
func (l *Listener) routeClientLogs() {
	if l.log.GetLevel() != "debug" {
		return
	}
	pahomqtt.ERROR = l.log.With(logger.Fields{"paho": "error"})
	pahomqtt.CRITICAL = l.log.With(logger.Fields{"paho": "critical"})
	pahomqtt.WARN = l.log.With(logger.Fields{"paho": "warn"})
}

// Start connects to the broker. Subscriptions are renewed on every reconnect.
func (l *Listener) Start() error {
	l.routeClientLogs()

	opts := pahomqtt.NewClientOptions().
		AddBroker(l.cfg.Broker).
		SetClientID(l.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(reconnectInterval).
		SetMaxReconnectInterval(reconnectInterval).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetOrderMatters(true).
		SetOnConnectHandler(l.connectHandler).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			l.log.WithError(err).Warn("MQTT connection lost")
		})
	if l.cfg.Username != "" {
		opts.SetUsername(l.cfg.Username)
		opts.SetPassword(l.cfg.Password)
	}

	l.client = pahomqtt.NewClient(opts)
	token := l.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		l.log.WithField("broker", l.cfg.Broker).Warn("MQTT broker not reachable yet, retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", l.cfg.Broker, err)
	}
	return nil
}

func (l *Listener) connectHandler(c pahomqtt.Client) {
	topic := l.topicRoot() + "/#"
	token := c.Subscribe(topic, byte(l.cfg.QoS), func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if err := l.Handle(msg.Topic(), msg.Payload()); err != nil {
			l.log.WithError(err).WithField("topic", msg.Topic()).Warn("Ignoring MQTT message")
		}
	})
	go func() {
		if token.WaitTimeout(connectTimeout) && token.Error() == nil {
			l.log.WithFields(map[string]interface{}{"broker": l.cfg.Broker, "topic": topic}).Info("📡 MQTT programmer input subscribed")
			return
		}
		l.log.WithError(token.Error()).WithField("topic", topic).Error("MQTT subscribe failed")
	}()
}

// Stop disconnects from the broker.
func (l *Listener) Stop() {
	if l.client != nil && l.client.IsConnected() {
		l.client.Disconnect(disconnectQuiesce)
	}
}

// Handle applies one message. It is safe to call without a broker.
func (l *Listener) Handle(topic string, payload []byte) error {
	rest, ok := strings.CutPrefix(topic, l.topicRoot()+"/")
	if !ok {
		return fmt.Errorf("%w: %s", ErrTopic, topic)
	}

	if rest == "clear" {
		l.programmer.Clear()
		l.changed()
		return nil
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return fmt.Errorf("%w: %s", ErrTopic, topic)
	}
	id := fixture.ID(parts[0])
	if _, ok := l.patch.Fixture(id); !ok {
		return fmt.Errorf("fixture %q is not patched", id)
	}
	attr, err := fixture.ParseAttribute(parts[1])
	if err != nil {
		return err
	}

	level, set, err := parseLevel(payload)
	if err != nil {
		return err
	}
	if set {
		l.programmer.Set(id, attr, fixture.NewAttributeValue(level))
	} else {
		l.programmer.Unset(id, attr)
	}
	l.changed()
	return nil
}

func (l *Listener) changed() {
	if l.onChange != nil {
		l.onChange()
	}
}

// parseLevel reports set=false for an empty or null payload.
func parseLevel(payload []byte) (level float64, set bool, err error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || string(payload) == "null" {
		return 0, false, nil
	}
	if payload[0] == '{' {
		var p levelPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return 0, false, fmt.Errorf("%w: %v", ErrPayload, err)
		}
		if p.Value == nil {
			return 0, false, nil
		}
		return *p.Value, true, nil
	}
	f, err := strconv.ParseFloat(string(payload), 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %q", ErrPayload, payload)
	}
	return f, true, nil
}
