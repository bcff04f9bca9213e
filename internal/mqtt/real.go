package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EVParts/EVP15KVAGeneratorControl/internal/logic"
)

// DefaultBufferSize is how many messages are kept while the broker is unreachable.
const DefaultBufferSize = 256

// publishTimeout bounds the wait for a QoS 1 acknowledgement.
const publishTimeout = 5 * time.Second

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	TopicPrefix string
	BufferSize  int
	// OnReconnect is called after a reconnect has replayed the buffer.
	OnReconnect func()
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while disconnected are buffered and replayed on reconnect.
type RealPublisher struct {
	client  paho.Client
	topics  Topics
	log     *zap.Logger
	timeout time.Duration

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool
	everUp    bool
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(opts Options, log *zap.Logger) (*RealPublisher, error) {
	if opts.BufferSize == 0 {
		opts.BufferSize = DefaultBufferSize
	}
	p := &RealPublisher{
		topics:  TopicsFor(opts.TopicPrefix),
		log:     log,
		timeout: publishTimeout,
		buf:     newRingBuffer(opts.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{Event: "OFFLINE", Reason: "MQTT_DISCONNECT"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID("generator-control-" + uuid.NewString()[:8]).
		SetBinaryWill(p.topics.System, will, 1, false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWriteTimeout(2 * time.Second).
		SetOnConnectHandler(func(c paho.Client) {
			if p.onConnect(c) && opts.OnReconnect != nil {
				opts.OnReconnect()
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.mu.Lock()
			p.connected = false
			p.mu.Unlock()
			log.Warn("mqtt connection lost", zap.Error(err))
		})

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// onConnect replays buffered messages. It reports whether this was a
// reconnect rather than the first connection.
func (p *RealPublisher) onConnect(c paho.Client) bool {
	p.mu.Lock()
	pending := p.buf.drainAll()
	p.connected = true
	reconnect := p.everUp
	p.everUp = true
	p.mu.Unlock()

	if len(pending) > 0 {
		p.log.Info("replaying buffered mqtt messages", zap.Int("count", len(pending)))
	}
	for _, m := range pending {
		token := c.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(p.timeout) {
			p.log.Warn("replay publish timeout", zap.String("topic", m.topic))
			continue
		}
		if err := token.Error(); err != nil {
			p.log.Warn("replay publish failed", zap.String("topic", m.topic), zap.Error(err))
		}
	}
	return reconnect
}

// IsConnected reports whether the broker connection is currently up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.connected {
		if p.buf.push(msg) {
			p.log.Warn("mqtt buffer full, dropping oldest", zap.Int("capacity", p.buf.capacity))
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if msg.qos == 0 {
		// Events are fire and forget; the control tick never waits on the broker.
		go p.watch(msg.topic, token)
		return nil
	}
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// watch logs the outcome of an unacknowledged publish.
func (p *RealPublisher) watch(topic string, token paho.Token) {
	if !token.WaitTimeout(p.timeout) {
		p.log.Warn("mqtt publish timeout", zap.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		p.log.Warn("mqtt publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// Publish sends a controller event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.send(bufferedMsg{topic: p.topics.Events, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 so shutdown and restart notices are delivered
	return p.send(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
