// Package events pushes publish/reconcile outcomes to an MQTT topic so
// ops dashboards see verification failures as they happen instead of
// discovering them from billing disputes.
package events

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/doohlabs/playsync/internal/publish"
)

const outcomeTopic = "playsync/publish/outcomes"

var connectHandler mqtt.OnConnectHandler = func(client mqtt.Client) {
	log.Info().Msg("[events] connected to MQTT broker")
}

var connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
	log.Warn().Err(err).Msg("[events] MQTT connection lost")
}

// Notifier implements publish.Notifier over an MQTT broker.
type Notifier struct {
	client mqtt.Client
}

var _ publish.Notifier = (*Notifier)(nil)

// NewNotifier connects to the broker. A broker outage at startup is an
// error; a broker outage later only drops events (the paho client
// reconnects on its own).
func NewNotifier(brokerURL, clientID string) (*Notifier, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.OnConnect = connectHandler
	opts.OnConnectionLost = connectLostHandler

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return &Notifier{client: client}, nil
}

// PublishOutcome fires and forgets: the reconciliation result is
// already persisted, the event stream is purely informational.
func (n *Notifier) PublishOutcome(event publish.OutcomeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	token := n.client.Publish(outcomeTopic, 1, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Warn().Err(token.Error()).Str("run_id", event.RunID).Msg("[events] failed to publish outcome event")
		}
	}()
}

// Close disconnects from the broker.
func (n *Notifier) Close() {
	n.client.Disconnect(250)
}
