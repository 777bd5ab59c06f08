package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rowanvale/heliograph/internal/infrastructure/config"
)

const (
	// connectTimeout bounds the initial dial in Connect.
	connectTimeout = 10 * time.Second

	// ackTimeout bounds waits for publish/subscribe acknowledgements.
	ackTimeout = 5 * time.Second

	// disconnectQuiesceMS is the grace paho gives in-flight work on
	// Disconnect, in milliseconds (paho's unit, not ours).
	disconnectQuiesceMS = 1000

	// keepAliveInterval drives MQTT PINGs so half-open TCP connections
	// are noticed within a poll interval or two.
	keepAliveInterval = 60 * time.Second

	// maxQoS is the highest QoS the protocol defines.
	maxQoS = 2
)

// clientOptions translates the mqtt section of config.yaml into paho
// options: broker URL (ssl scheme when TLS is on), client identity,
// optional username auth, clean sessions, and persistent auto-reconnect
// with backoff. Heliograph treats the broker as available-most-of-the-
// time infrastructure; the client keeps retrying forever rather than
// giving up.
func clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))

	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Clean sessions: retained topics carry all durable state, so a
	// broker-side session has nothing to hold for us.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAliveInterval)

	return opts
}

// withLastWill arms the broker-side crash signal: if this process dies
// without a clean Close, the broker publishes a retained offline status
// on heliograph/system/status at QoS 1, and every dashboard watching
// the retained topic sees the service drop.
func withLastWill(opts *pahomqtt.ClientOptions, clientID string) {
	will := statusPayload{
		Status:   "offline",
		ClientID: clientID,
		Reason:   "unexpected_disconnect",
	}
	opts.SetWill(Topics{}.SystemStatus(), string(will.encode()), 1, true)
}

// statusPayload is the body published on the system status topic, by
// the Will on a crash and by the client itself on connect and clean
// shutdown.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (p statusPayload) encode() []byte {
	p.Timestamp = time.Now().UTC().Format(time.RFC3339)
	body, _ := json.Marshal(p) //nolint:errcheck // Fixed shape, cannot fail
	return body
}
