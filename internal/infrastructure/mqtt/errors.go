package mqtt

import "errors"

// Sentinel errors for broker operations; match with errors.Is.
var (
	// ErrNotConnected: operation attempted while the broker link is
	// down. The coordinator treats this as "skip MQTT this cycle".
	ErrNotConnected = errors.New("mqtt: no broker connection")

	// ErrConnectionFailed: the initial dial in Connect did not succeed.
	ErrConnectionFailed = errors.New("mqtt: broker dial failed")

	// ErrPublishFailed wraps publish rejections and ack timeouts.
	ErrPublishFailed = errors.New("mqtt: publish did not complete")

	// ErrSubscribeFailed wraps subscribe rejections and ack timeouts.
	ErrSubscribeFailed = errors.New("mqtt: subscribe did not complete")

	// ErrUnsubscribeFailed wraps unsubscribe rejections and ack timeouts.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe did not complete")

	// ErrInvalidQoS: QoS outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: QoS must be 0, 1, or 2")

	// ErrInvalidTopic: empty topic string.
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
