package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rowanvale/heliograph/internal/infrastructure/config"
)

// Client is Heliograph's handle on the MQTT broker. The poll
// coordinator publishes reading snapshots and retained availability
// through it; consumers (dashboards, automations) subscribe on the
// broker side. Reconnection is automatic, and any subscriptions made
// through this client are replayed after a reconnect.
//
// All methods are safe for concurrent use.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig

	// subs records what we are subscribed to so onBrokerUp can replay
	// the set after a reconnect.
	subs   map[string]subscription
	subsMu sync.RWMutex

	online  bool
	stateMu sync.RWMutex

	// Optional hooks, exposed so main can log broker churn.
	onUp    func()
	onDown  func(err error)
	hooksMu sync.RWMutex

	log   Logger
	logMu sync.RWMutex
}

// Logger is the slice of logging.Logger this package needs. Kept as an
// interface so tests can capture output.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives inbound messages. paho invokes handlers on
// its own goroutines, so they must not block for long; a returned
// error is logged and otherwise ignored (MQTT has no nack).
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and returns a ready client.
//
// The connection carries a Last Will on heliograph/system/status so a
// crash flips the retained service status to offline without any
// cooperation from this process. A successful connect publishes the
// matching online status. Auto-reconnect stays on for the life of the
// client with backoff between cfg.Reconnect.InitialDelay and MaxDelay.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := clientOptions(cfg)
	withLastWill(opts, cfg.ClientID)

	c := &Client{
		cfg:  cfg,
		subs: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.onBrokerUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onBrokerDown(err) })

	c.paho = pahomqtt.NewClient(opts)
	token := c.paho.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect callback fires asynchronously; mark the state here
	// so IsConnected is already true when Connect returns.
	c.stateMu.Lock()
	c.online = true
	c.stateMu.Unlock()

	return c, nil
}

// onBrokerUp runs on initial connect and every reconnect.
func (c *Client) onBrokerUp() {
	c.stateMu.Lock()
	c.online = true
	c.stateMu.Unlock()

	c.resubscribeAll()
	c.announceOnline()

	c.hooksMu.RLock()
	hook := c.onUp
	c.hooksMu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) onBrokerDown(err error) {
	c.stateMu.Lock()
	c.online = false
	c.stateMu.Unlock()

	c.hooksMu.RLock()
	hook := c.onDown
	c.hooksMu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// resubscribeAll replays tracked subscriptions after a reconnect.
// Failures here are swallowed; paho retries the connection cycle and
// we get another attempt.
func (c *Client) resubscribeAll() {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()

	for _, sub := range c.subs {
		c.paho.Subscribe(sub.topic, sub.qos, c.guardedHandler(sub.handler))
	}
}

// announceOnline refreshes the retained service status after (re)connect,
// replacing whatever the Last Will may have left behind.
func (c *Client) announceOnline() {
	payload := statusPayload{Status: "online", ClientID: c.cfg.ClientID}
	c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, payload.encode())
}

// Close publishes a graceful offline status (reason distinguishes it
// from the crash Will) and disconnects, allowing in-flight publishes a
// short quiesce window. Safe on a zero client.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		payload := statusPayload{
			Status:   "offline",
			ClientID: c.cfg.ClientID,
			Reason:   "graceful_shutdown",
		}
		token := c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, payload.encode())
		token.WaitTimeout(ackTimeout)
	}

	c.paho.Disconnect(disconnectQuiesceMS)

	c.stateMu.Lock()
	c.online = false
	c.stateMu.Unlock()

	return nil
}

// HealthCheck reports broker connectivity for the health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the broker link is currently up. The
// coordinator checks this before each publish so poll cycles skip MQTT
// cleanly during an outage instead of stacking timeouts.
func (c *Client) IsConnected() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.online && c.paho.IsConnected()
}

// SetOnConnect registers a hook for initial connect and each reconnect.
func (c *Client) SetOnConnect(hook func()) {
	c.hooksMu.Lock()
	c.onUp = hook
	c.hooksMu.Unlock()
}

// SetOnDisconnect registers a hook for lost connections.
func (c *Client) SetOnDisconnect(hook func(err error)) {
	c.hooksMu.Lock()
	c.onDown = hook
	c.hooksMu.Unlock()
}

// SetLogger wires handler error/panic reporting. Without it, handler
// failures are dropped silently.
func (c *Client) SetLogger(log Logger) {
	c.logMu.Lock()
	c.log = log
	c.logMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.logMu.RLock()
	defer c.logMu.RUnlock()
	return c.log
}

// guardedHandler adapts a MessageHandler for paho, containing panics
// so one bad payload cannot take down the whole receive loop.
func (c *Client) guardedHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if log := c.getLogger(); log != nil {
					log.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if log := c.getLogger(); log != nil {
				log.Warn("mqtt handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
