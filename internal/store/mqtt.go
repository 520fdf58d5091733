package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"codeberg.org/mutker/peripheralpm/internal/config"
	"codeberg.org/mutker/peripheralpm/internal/errors"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttDisconnectQuiesce = 250

// MQTT publishes a retained JSON message per device attribute on
// <prefix>/<device>/<attribute>, so late subscribers see the latest state.
type MQTT struct {
	client mqtt.Client
	prefix string
	qos    byte
}

// NewMQTT connects to the configured broker.
func NewMQTT(cfg config.MQTTConfig, timeout time.Duration) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, errors.New().WithMessage(ErrStoreInit, "timed out connecting to MQTT broker")
	}
	if err := token.Error(); err != nil {
		return nil, errors.New().Wrap(ErrStoreInit, err)
	}

	return newMQTT(client, cfg), nil
}

func newMQTT(client mqtt.Client, cfg config.MQTTConfig) *MQTT {
	return &MQTT{
		client: client,
		prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:    cfg.QoS,
	}
}

func (*MQTT) Name() string {
	return string(config.BackendMQTT)
}

func (m *MQTT) Publish(ctx context.Context, records []Record) error {
	errFactory := errors.New()

	tokens := make([]mqtt.Token, 0, len(records))
	for _, rec := range records {
		payload, err := json.Marshal(rec.Fields())
		if err != nil {
			return errFactory.Wrap(ErrEncodeFailed, err)
		}
		tokens = append(tokens, m.client.Publish(m.topic(rec), m.qos, true, payload))
	}

	var errs []error
	for _, token := range tokens {
		select {
		case <-ctx.Done():
			return errFactory.Wrap(ErrWriteFailed, ctx.Err())
		case <-token.Done():
			if err := token.Error(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return errFactory.Wrap(ErrWriteFailed, errors.Join(errs...))
	}

	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(mqttDisconnectQuiesce)
	return nil
}

func (m *MQTT) topic(rec Record) string {
	return m.prefix + "/" + rec.Device + "/" + string(rec.Attribute)
}
