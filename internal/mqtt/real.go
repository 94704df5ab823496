package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// BufferSize is how many messages are kept while the broker is unreachable.
const BufferSize = 64

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client

	mu      sync.Mutex
	pending *ringBuffer
	// connectedOnce suppresses RECONNECTED on the first connection.
	connectedOnce bool
}

// NewRealPublisher creates a publisher for the given broker. The connection
// is retried in the background; messages published before it is up are
// buffered.
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	p := &RealPublisher{pending: newRingBuffer(BufferSize)}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(willPayload()), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	// With ConnectRetry the token only completes once connected; don't block
	// startup on an absent broker.
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("connect to broker: %w", token.Error())
	}
	return p, nil
}

// onConnect replays buffered messages after (re)connection.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	msgs, dropped := p.pending.drain()
	reconnect := p.connectedOnce
	p.connectedOnce = true
	p.mu.Unlock()

	if reconnect {
		reason := ""
		if dropped > 0 {
			reason = fmt.Sprintf("%d messages dropped", dropped)
		}
		payload, _ := FormatPayload(Event{Timestamp: time.Now(), Event: EventReconnected, Reason: reason})
		c.Publish(TopicSystem, 1, false, payload)
	}
	for _, m := range msgs {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}
	if len(msgs) > 0 {
		log.Printf("mqtt: replayed %d buffered messages", len(msgs))
	}
}

// Publish sends an event to the broker, or buffers it while disconnected.
func (p *RealPublisher) Publish(event Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	msg := pendingMsg{topic: event.Topic(), payload: payload, qos: 1, retained: event.Retained}

	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.pending.push(msg)
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", event.Event)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Event, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second to flush
	return nil
}
