package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/tank-controller/internal/fault"
)

const (
	connectAttempts = 5
	publishTimeout  = 5 * time.Second
)

type Config struct {
	Broker      string
	ClientID    string
	User        string
	Password    string
	TopicPrefix string
}

// publisher is the part of mqtt.Client the bridge needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Bridge mirrors telemetry records and fault edges to an MQTT broker.
type Bridge struct {
	client publisher
	prefix string
}

type FaultEvent struct {
	At       time.Time `json:"at"`
	Event    string    `json:"event"`
	Faults   []string  `json:"faults"`
	Previous []string  `json:"previous"`
}

// Connect dials the broker with exponential backoff. The connection is
// closed when ctx is done.
func Connect(ctx context.Context, cfg Config) (*Bridge, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		token := client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			log.Warn().Err(err).Str("broker", cfg.Broker).Msg("Failed to connect to MQTT broker")
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, connectAttempts-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", cfg.Broker, err)
	}
	log.Info().Str("broker", cfg.Broker).Str("prefix", cfg.TopicPrefix).Msg("Connected to MQTT broker")

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
		log.Info().Msg("MQTT connection closed")
	}()

	return New(client, cfg.TopicPrefix), nil
}

func New(client publisher, prefix string) *Bridge {
	return &Bridge{client: client, prefix: prefix}
}

func (b *Bridge) TelemetryTopic() string {
	return b.prefix + "/telemetry"
}

func (b *Bridge) FaultTopic() string {
	return b.prefix + "/faults"
}

// PublishRecord mirrors one telemetry record. It never blocks the caller.
func (b *Bridge) PublishRecord(record []byte) {
	b.publish(b.TelemetryTopic(), 0, false, record)
}

// ObserveCycle publishes a fault event on raise and clear edges.
func (b *Bridge) ObserveCycle(c fault.Cycle) {
	var event string
	switch {
	case c.Raised():
		event = "raised"
	case c.Cleared():
		event = "cleared"
	default:
		return
	}

	payload, err := json.Marshal(FaultEvent{
		At:       c.Now.UTC(),
		Event:    event,
		Faults:   nonNil(c.Faults.Names()),
		Previous: nonNil(c.Previous.Names()),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode fault event")
		return
	}
	b.publish(b.FaultTopic(), 1, false, payload)
}

func (b *Bridge) publish(topic string, qos byte, retained bool, payload []byte) {
	token := b.client.Publish(topic, qos, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			log.Warn().Str("topic", topic).Msg("MQTT publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
