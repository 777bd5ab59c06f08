package mqtt

import (
	"fmt"
)

// Subscribe registers handler for messages matching topic, which may
// use MQTT wildcards ("heliograph/entry/+/reading" for every entry's
// snapshots, "heliograph/#" for the whole namespace).
//
// The subscription is tracked in the client and replayed automatically
// after a reconnect. Handlers run on paho's goroutines and must return
// quickly.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validateTopicQoS(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.track(subscription{topic: topic, qos: qos, handler: handler})

	if err := awaitAck(c.paho.Subscribe(topic, qos, c.guardedHandler(handler)), ErrSubscribeFailed); err != nil {
		// Broker refused; forget it so a reconnect does not replay a
		// subscription that never existed.
		c.untrack(topic)
		return err
	}
	return nil
}

// Unsubscribe drops the subscription for the exact topic pattern passed
// to Subscribe. Messages already in flight may still arrive.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.untrack(topic)
	return awaitAck(c.paho.Unsubscribe(topic), ErrUnsubscribeFailed)
}

// SubscriptionCount reports how many topic patterns are tracked.
func (c *Client) SubscriptionCount() int {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return len(c.subs)
}

// HasSubscription reports whether the exact pattern is tracked. No
// wildcard matching; "entry/+/reading" and "entry/ent-1/reading" are
// different keys.
func (c *Client) HasSubscription(topic string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	_, ok := c.subs[topic]
	return ok
}

func (c *Client) track(sub subscription) {
	c.subsMu.Lock()
	c.subs[sub.topic] = sub
	c.subsMu.Unlock()
}

func (c *Client) untrack(topic string) {
	c.subsMu.Lock()
	delete(c.subs, topic)
	c.subsMu.Unlock()
}
