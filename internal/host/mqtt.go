package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-service-tracker/internal/config"
	"github.com/ukydev/fleet-service-tracker/internal/models"
)

var ErrPublishTimeout = errors.New("publish timed out")

// Publisher is the part of mqtt.Client the notifier uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// closeMessage is published on <topic>/close.
type closeMessage struct {
	Action string `json:"action"`
}

// createdMessage is the unsigned payload. Signed payloads carry the token
// instead of the record.
type createdMessage struct {
	Record *models.VehicleRecord `json:"record,omitempty"`
	Token  string                `json:"token,omitempty"`
}

// MQTTNotifier publishes created records to the host over MQTT.
type MQTTNotifier struct {
	client  Publisher
	topic   string
	signer  *Signer
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewMQTTNotifier wraps an already connected publisher. signer may be nil.
func NewMQTTNotifier(client Publisher, topic string, signer *Signer, timeout time.Duration, logger logrus.FieldLogger) *MQTTNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MQTTNotifier{
		client:  client,
		topic:   topic,
		signer:  signer,
		timeout: timeout,
		log:     logger.WithField("component", "host_notifier"),
	}
}

// DialMQTT connects to the configured broker and returns a notifier on it.
func DialMQTT(cfg config.HostConfig, logger logrus.FieldLogger) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}

	var signer *Signer
	if cfg.SigningSecret != "" {
		var err error
		if signer, err = NewSigner(cfg.SigningSecret, cfg.ClientID); err != nil {
			client.Disconnect(250)
			return nil, err
		}
	}
	return NewMQTTNotifier(client, cfg.Topic, signer, cfg.Timeout, logger), nil
}

// NotifyCreated publishes rec on the record topic.
func (n *MQTTNotifier) NotifyCreated(ctx context.Context, rec models.VehicleRecord) error {
	msg := createdMessage{}
	if n.signer != nil {
		token, err := n.signer.Sign(rec)
		if err != nil {
			return err
		}
		msg.Token = token
	} else {
		msg.Record = &rec
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := n.publish(ctx, n.topic, payload); err != nil {
		return err
	}
	n.log.WithFields(logrus.Fields{"record_id": rec.ID, "topic": n.topic}).Info("Forwarded record to host")
	return nil
}

// Close asks the host to close the view.
func (n *MQTTNotifier) Close() error {
	payload, err := json.Marshal(closeMessage{Action: "close"})
	if err != nil {
		return err
	}
	return n.publish(context.Background(), n.topic+"/close", payload)
}

// Shutdown disconnects from the broker.
func (n *MQTTNotifier) Shutdown() {
	n.client.Disconnect(250)
}

func (n *MQTTNotifier) publish(ctx context.Context, topic string, payload []byte) error {
	token := n.client.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(n.timeout):
		return fmt.Errorf("publish to %s: %w", topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
