//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/rowanvale/heliograph/internal/infrastructure/config"
)

// Reconnection-adjacent tests, gated behind the integration tag because
// they need a real Mosquitto on 127.0.0.1:1883:
//
//	go test -tags=integration -count=1 ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Host:     "127.0.0.1",
		Port:     1883,
		ClientID: clientID,
		QoS:      1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// TestIntegration_SubscriptionSetSurvivesForReplay checks the tracked
// set that onBrokerUp replays. Forcing an actual broker restart needs
// external orchestration, so this verifies the bookkeeping the replay
// depends on: everything subscribed is tracked, everything unsubscribed
// is forgotten.
func TestIntegration_SubscriptionSetSurvivesForReplay(t *testing.T) {
	client, err := Connect(integrationConfig("heliograph-int-subset"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := []string{
		Topics{}.EntryReading("ent-int-0001"),
		Topics{}.EntryRealtime("ent-int-0001"),
		Topics{}.EntryState("ent-int-0001"),
	}
	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}

	if got := client.SubscriptionCount(); got != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", got, len(topics))
	}
	for _, topic := range topics {
		if !client.HasSubscription(topic) {
			t.Errorf("HasSubscription(%s) = false", topic)
		}
	}

	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topics[0]) {
		t.Errorf("%s still tracked after Unsubscribe", topics[0])
	}
	if got := client.SubscriptionCount(); got != len(topics)-1 {
		t.Errorf("SubscriptionCount() = %d, want %d", got, len(topics)-1)
	}
}

// TestIntegration_HooksAndLogger exercises the optional wiring main
// performs: connect/disconnect hooks and the handler-failure logger.
func TestIntegration_HooksAndLogger(t *testing.T) {
	client, err := Connect(integrationConfig("heliograph-int-hooks"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.SetOnConnect(func() {})
	client.SetOnDisconnect(func(error) {})
	client.SetOnConnect(nil)
	client.SetOnDisconnect(nil)

	log := &captureLogger{}
	client.SetLogger(log)
	if client.getLogger() == nil {
		t.Error("getLogger() = nil after SetLogger")
	}

	client.SetLogger(nil)
	if client.getLogger() != nil {
		t.Error("getLogger() should be nil after SetLogger(nil)")
	}
}

// TestIntegration_HandlerPanicContained proves one poisoned payload
// cannot kill the receive path: the panic is logged and later messages
// still arrive.
func TestIntegration_HandlerPanicContained(t *testing.T) {
	cfg := integrationConfig("heliograph-int-panic")

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	log := &captureLogger{}
	client.SetLogger(log)

	topic := Topics{}.EntryReading("ent-int-panic")
	delivered := make(chan string, 2)
	if err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		if string(payload) == "poison" {
			panic("bad payload")
		}
		delivered <- string(payload)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := client.PublishString(topic, "poison", 1, false); err != nil {
		t.Fatalf("publish poison: %v", err)
	}
	if err := client.PublishString(topic, "after", 1, false); err != nil {
		t.Fatalf("publish follow-up: %v", err)
	}

	select {
	case got := <-delivered:
		if got != "after" {
			t.Errorf("delivered = %q, want %q", got, "after")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("follow-up message never arrived after handler panic")
	}

	if log.errorCount() == 0 {
		t.Error("expected the panic to be logged")
	}
}

// captureLogger records calls for assertions.
type captureLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *captureLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *captureLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *captureLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}
