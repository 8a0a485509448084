package notify

import (
	"context"
	"fmt"
	"sync"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"

	"github.com/sentineldesk/core/internal/errs"
	"github.com/sentineldesk/core/internal/eventbus"
	"github.com/sentineldesk/core/internal/logging"
)

// PushMessage is one queued FCM notification.
type PushMessage struct {
	Topic string
	Title string
	Body  string
	Data  map[string]string
}

// FCMSink delivers push notifications through Firebase Cloud Messaging,
// adapted from push_service.go: same buffered-channel worker shape,
// generalized from a single whale-alert payload to any eventbus.Event
// a caller-supplied Formatter accepts.
type FCMSink struct {
	client *messaging.Client
	app    *firebase.App
	format Formatter
	topic  string

	queue chan PushMessage

	closeOnce sync.Once
}

// NewFCMSink constructs a sink from an already-loaded Firebase app.
func NewFCMSink(ctx context.Context, app *firebase.App, topic string, format Formatter, queueDepth int) (*FCMSink, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "FCMClientUnavailable", err)
	}
	if queueDepth <= 0 {
		queueDepth = 500
	}
	logging.Good("fcm: push service initialized")
	return &FCMSink{client: client, app: app, format: format, topic: topic, queue: make(chan PushMessage, queueDepth)}, nil
}

// StartWorker drains the queue and sends each message synchronously,
// bounding FCM throughput to one in-flight send at a time, the same
// single-worker shape push_service.go uses.
func (f *FCMSink) StartWorker(ctx context.Context) {
	logging.Info("fcm: push worker started")
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-f.queue:
			if !ok {
				return
			}
			f.send(ctx, msg)
		}
	}
}

func (f *FCMSink) send(ctx context.Context, msg PushMessage) {
	message := &messaging.Message{
		Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
		Data:         msg.Data,
		Topic:        msg.Topic,
	}
	response, err := f.client.Send(ctx, message)
	if err != nil {
		logging.Warn("fcm: send failed: %v", err)
		return
	}
	logging.Info("fcm: push sent: %s (msg id %s)", msg.Body, response)
}

// Relay subscribes to bus and enqueues every event format accepts,
// dropping (never blocking) when the queue is saturated — a slow push
// provider must never back up order placement, matching the bus's own
// non-blocking-delivery guarantee.
func (f *FCMSink) Relay(ctx context.Context, bus *eventbus.Bus) {
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if f.format == nil {
				continue
			}
			text, send := f.format(ev)
			if !send {
				continue
			}
			f.enqueue(PushMessage{
				Topic: f.topic,
				Title: fmt.Sprintf("sentinel: %s", ev.Kind),
				Body:  text,
				Data:  map[string]string{"kind": string(ev.Kind)},
			})
		}
	}
}

func (f *FCMSink) enqueue(msg PushMessage) {
	select {
	case f.queue <- msg:
	default:
		logging.Warn("fcm: push queue full, dropping %s", msg.Title)
	}
}

// Close stops accepting further pushes; safe to call more than once.
func (f *FCMSink) Close() {
	f.closeOnce.Do(func() { close(f.queue) })
}
