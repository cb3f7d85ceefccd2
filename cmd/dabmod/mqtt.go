package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cwsl/dabmod/transmit"
)

// StatusPublisher publishes transmit.Status snapshots to an MQTT
// broker: auto-reconnect client options, a generated client ID, and a
// connect/lost log pair around the Transmitter's
// once-per-status-interval snapshot.
type StatusPublisher struct {
	client      mqtt.Client
	topicPrefix string
}

func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "dabmod_" + hex.EncodeToString(b)
}

// NewStatusPublisher connects to broker and returns a StatusPublisher
// that publishes under topicPrefix.
func NewStatusPublisher(broker, topicPrefix string) (*StatusPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(generateClientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Println("mqtt: connected to broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("mqtt: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", broker, token.Error())
	}

	return &StatusPublisher{client: client, topicPrefix: topicPrefix}, nil
}

// Publish serialises status as JSON and publishes it at QoS 0 under
// <topicPrefix>/status.
func (p *StatusPublisher) Publish(status transmit.Status) {
	payload, err := json.Marshal(status)
	if err != nil {
		log.Printf("mqtt: marshal status: %v", err)
		return
	}
	token := p.client.Publish(p.topicPrefix+"/status", 0, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Printf("mqtt: publish status: %v", err)
	}
}

func (p *StatusPublisher) Close() {
	p.client.Disconnect(250)
}
