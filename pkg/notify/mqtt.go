package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/levenlabs/go-lflag"
)

// publisher is the part of mqtt.Client used to publish.
type publisher interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes events as JSON to {prefix}/{kind}. Status events are
// retained so a new subscriber sees the current state.
type MQTT struct {
	client  publisher
	prefix  string
	timeout time.Duration
}

// Configured returns an MQTT notifier when a broker is set and Nop otherwise.
func Configured() Notifier {
	broker := lflag.String("mqtt-broker", "", "MQTT broker URL (e.g. tcp://homeassistant:1883), empty disables publishing")
	clientID := lflag.String("mqtt-client-id", "sungrow-scheduler", "MQTT client id")
	username := lflag.String("mqtt-username", os.Getenv("MQTT_USERNAME"), "MQTT username")
	password := lflag.String("mqtt-password", os.Getenv("MQTT_PASSWORD"), "MQTT password")
	prefix := lflag.String("mqtt-topic-prefix", "sungrow-scheduler", "Prefix of published topics")

	var n struct{ Notifier }
	n.Notifier = Nop{}

	lflag.Do(func() {
		if *broker == "" {
			return
		}
		opts := mqtt.NewClientOptions()
		opts.AddBroker(*broker)
		opts.SetClientID(*clientID)
		opts.SetUsername(*username)
		opts.SetPassword(*password)
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectRetryInterval(5 * time.Second)
		opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
			slog.Default().Warn("mqtt connection lost", slog.Any("error", err))
		})
		opts.SetOnConnectHandler(func(client mqtt.Client) {
			slog.Default().Info("connected to mqtt broker", slog.String("broker", *broker))
		})

		client := mqtt.NewClient(opts)
		// with connect retry the token only completes once connected
		client.Connect()
		n.Notifier = NewMQTT(client, *prefix)
	})

	return &n
}

// NewMQTT returns a notifier publishing through client.
func NewMQTT(client publisher, prefix string) *MQTT {
	return &MQTT{client: client, prefix: prefix, timeout: 5 * time.Second}
}

// Notify publishes e, dropping it if the broker is unreachable.
func (m *MQTT) Notify(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if !m.client.IsConnectionOpen() {
		log.Ctx(ctx).DebugContext(ctx, "mqtt not connected, dropping event", slog.String("kind", string(e.Kind)))
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to marshal event", slog.Any("error", err))
		return
	}
	topic := m.prefix + "/" + string(e.Kind)
	token := m.client.Publish(topic, 1, e.Kind == KindStatus, payload)
	if !token.WaitTimeout(m.timeout) {
		log.Ctx(ctx).WarnContext(ctx, "mqtt publish timed out", slog.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to publish event", slog.String("topic", topic), slog.Any("error", err))
	}
}
