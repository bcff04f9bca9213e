package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Devices names the dbus-mqtt topic segment (<service type>/<instance>) that
// carries each service.
type Devices struct {
	System  string `mapstructure:"system"`
	Battery string `mapstructure:"battery"`
	VEBus   string `mapstructure:"vebus"`
}

// DefaultDevices matches DefaultServices on a typical GX device.
var DefaultDevices = Devices{
	System:  "system/0",
	Battery: "battery/512",
	VEBus:   "vebus/276",
}

// MQTTOptions configures the Venus dbus-mqtt bridge client.
type MQTTOptions struct {
	Broker   string
	PortalID string
	Devices  Devices
	// StaleAfter is how long a value is trusted without an update.
	StaleAfter time.Duration
	// Keepalive is the interval between R/<portal>/keepalive requests.
	Keepalive time.Duration
}

// topicFor returns the notification topic suffix for ch, e.g.
// "system/0/Dc/Battery/Soc".
func (d Devices) topicFor(ch Channel) (string, error) {
	// Reuse the D-Bus paths; only the service part differs.
	ep, err := Services{System: d.System, Battery: d.Battery, VEBus: d.VEBus}.Endpoint(ch)
	if err != nil {
		return "", err
	}
	return ep.Service + "/" + trimPath(ep.Path), nil
}

type cachedValue struct {
	value float64
	valid bool
	at    time.Time
}

// venusCache keeps the latest value for every subscribed topic. It is fed
// from the MQTT client goroutine and read from the control loop.
type venusCache struct {
	mu         sync.Mutex
	prefix     string
	staleAfter time.Duration
	values     map[string]cachedValue
}

func newVenusCache(portalID string, staleAfter time.Duration) *venusCache {
	return &venusCache{
		prefix:     "N/" + portalID + "/",
		staleAfter: staleAfter,
		values:     make(map[string]cachedValue),
	}
}

type venusPayload struct {
	Value interface{} `json:"value"`
}

// handle stores a notification. Payloads whose value is null mark the topic
// invalid.
func (c *venusCache) handle(topic string, payload []byte, now time.Time) error {
	key, ok := strings.CutPrefix(topic, c.prefix)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}
	cv := cachedValue{at: now}
	if len(payload) > 0 {
		var p venusPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", topic, err)
		}
		if f, ok := p.Value.(float64); ok {
			cv.value, cv.valid = f, true
		} else if b, ok := p.Value.(bool); ok {
			cv.valid = true
			if b {
				cv.value = 1
			}
		}
	}
	c.mu.Lock()
	c.values[key] = cv
	c.mu.Unlock()
	return nil
}

func (c *venusCache) get(key string, now time.Time) (float64, error) {
	c.mu.Lock()
	cv, ok := c.values[key]
	c.mu.Unlock()
	if !ok || !cv.valid {
		return 0, fmt.Errorf("%w: %s", ErrNoValue, key)
	}
	if c.staleAfter > 0 && now.Sub(cv.at) > c.staleAfter {
		return 0, fmt.Errorf("%w: %s stale since %s", ErrNoValue, key, cv.at.Format(time.RFC3339))
	}
	return cv.value, nil
}

// MQTTBus reads and writes Venus OS values through the dbus-mqtt bridge.
type MQTTBus struct {
	client paho.Client
	opts   MQTTOptions
	cache  *venusCache
	now    func() time.Time
	log    *zap.Logger

	mu            sync.Mutex
	lastKeepalive time.Time
}

// DialMQTT connects to the GX device's broker and subscribes to the topics
// of every channel.
func DialMQTT(opts MQTTOptions, log *zap.Logger) (*MQTTBus, error) {
	b := &MQTTBus{
		opts:  opts,
		cache: newVenusCache(opts.PortalID, opts.StaleAfter),
		now:   time.Now,
		log:   log,
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID("generator-control-bus-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c paho.Client) {
			if err := b.subscribe(c); err != nil {
				log.Error("venus subscribe failed", zap.Error(err))
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("venus broker connection lost", zap.Error(err))
		})

	b.client = paho.NewClient(clientOpts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return b, nil
}

func (b *MQTTBus) subscribe(c paho.Client) error {
	filters := make(map[string]byte, len(Channels))
	for _, ch := range Channels {
		t, err := b.opts.Devices.topicFor(ch)
		if err != nil {
			return err
		}
		filters["N/"+b.opts.PortalID+"/"+t] = 0
	}
	token := c.SubscribeMultiple(filters, func(_ paho.Client, m paho.Message) {
		if err := b.cache.handle(m.Topic(), m.Payload(), b.now()); err != nil {
			b.log.Debug("venus notification ignored", zap.Error(err))
		}
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return err
	}
	b.requestKeepalive()
	return nil
}

// requestKeepalive asks the bridge to keep publishing (and to republish all
// values).
func (b *MQTTBus) requestKeepalive() {
	b.mu.Lock()
	b.lastKeepalive = b.now()
	b.mu.Unlock()
	b.client.Publish("R/"+b.opts.PortalID+"/keepalive", 0, false, "")
}

// Read returns the cached value of ch, refreshing the keepalive as needed.
func (b *MQTTBus) Read(ch Channel) (float64, error) {
	b.mu.Lock()
	due := b.opts.Keepalive > 0 && b.now().Sub(b.lastKeepalive) >= b.opts.Keepalive
	b.mu.Unlock()
	if due {
		b.requestKeepalive()
	}
	t, err := b.opts.Devices.topicFor(ch)
	if err != nil {
		return 0, err
	}
	return b.cache.get(t, b.now())
}

// Write publishes to the W/ topic of ch.
func (b *MQTTBus) Write(ch Channel, v int) error {
	t, err := b.opts.Devices.topicFor(ch)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(venusPayload{Value: v})
	if err != nil {
		return fmt.Errorf("encode %s: %w", ch, err)
	}
	token := b.client.Publish("W/"+b.opts.PortalID+"/"+t, 1, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("set %s=%d: publish timeout", ch, v)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("set %s=%d: %w", ch, v, err)
	}
	return nil
}

// Close disconnects from the broker.
func (b *MQTTBus) Close() error {
	b.client.Disconnect(1000)
	return nil
}
