// Reviewtrail - Audit Trail Pipeline for Code Review Events
// Copyright 2026 Reviewtrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reviewtrail/reviewtrail

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/reviewtrail/reviewtrail/internal/metrics"
	"github.com/reviewtrail/reviewtrail/internal/models"
)

// NATSQueue is the JetStream-backed queue. Publishes go through a
// circuit breaker so a broken broker fails fast instead of stalling
// ingest handlers; the event UUID doubles as Nats-Msg-Id so redelivered
// publishes deduplicate inside the stream's duplicate window.
type NATSQueue struct {
	config     Config
	conn       *natsgo.Conn
	publisher  message.Publisher
	subscriber message.Subscriber
	streams    *StreamManager
	embedded   *EmbeddedServer
	breaker    *gobreaker.CircuitBreaker[interface{}]
	serializer *Serializer
	logger     watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// NewNATSQueue connects to NATS (starting the embedded server first when
// configured), provisions the audit stream, and wires up the Watermill
// publisher and subscriber.
func NewNATSQueue(cfg Config, logger watermill.LoggerAdapter) (*NATSQueue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	q := &NATSQueue{
		config:     cfg,
		serializer: NewSerializer(),
		logger:     logger,
		breaker:    newBreaker(cfg.Breaker),
	}

	url := cfg.URL
	if cfg.Embedded {
		embedded, err := NewEmbeddedServer(cfg.StoreDir)
		if err != nil {
			return nil, fmt.Errorf("start embedded server: %w", err)
		}
		q.embedded = embedded
		url = embedded.ClientURL()
	}

	nc, err := natsgo.Connect(url,
		natsgo.Timeout(cfg.ConnectTimeout),
		natsgo.RetryOnFailedConnect(false),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	)
	if err != nil {
		q.shutdownEmbedded()
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	q.conn = nc

	streams, err := NewStreamManager(nc, cfg)
	if err != nil {
		q.closeConn()
		return nil, err
	}
	q.streams = streams

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if _, err := streams.EnsureStream(ctx); err != nil {
		q.closeConn()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	if err := q.initWatermill(url); err != nil {
		q.closeConn()
		return nil, err
	}

	return q, nil
}

func newBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker[interface{}] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	}
	return gobreaker.NewCircuitBreaker[interface{}](settings)
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

func (q *NATSQueue) initWatermill(url string) error {
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(q.config.MaxReconnects),
		natsgo.ReconnectWait(q.config.ReconnectWait),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // stream is pre-created by StreamManager
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, q.logger)
	if err != nil {
		return fmt.Errorf("create watermill publisher: %w", err)
	}
	q.publisher = pub

	subOpts := []natsgo.SubOpt{
		natsgo.MaxDeliver(q.config.MaxDeliver),
		natsgo.AckWait(q.config.AckWait),
		natsgo.BindStream(StreamName),
		natsgo.DeliverAll(),
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: q.config.QueueGroup,
		SubscribersCount: 1, // single consumer preserves insert ordering
		AckWaitTimeout:   q.config.AckWait,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    false,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    q.config.DurableName,
		},
	}, q.logger)
	if err != nil {
		return fmt.Errorf("create watermill subscriber: %w", err)
	}
	q.subscriber = sub

	return nil
}

// Enqueue publishes an envelope to the audit stream.
func (q *NATSQueue) Enqueue(ctx context.Context, env *models.EventEnvelope) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.mu.RUnlock()

	data, err := q.serializer.Marshal(env)
	if err != nil {
		return err
	}

	msg := message.NewMessage(env.EventID.String(), data)
	msg.Metadata.Set(natsgo.MsgIdHdr, env.EventID.String())
	msg.Metadata.Set(MetaEventType, env.EventType)
	msg.Metadata.Set(MetaEnqueuedAt, env.ProducerTimestamp.Format(time.RFC3339Nano))

	_, err = q.breaker.Execute(func() (interface{}, error) {
		return nil, q.publisher.Publish(Topic, msg)
	})
	metrics.RecordQueuePublish(BackendNATS, err)
	if err != nil {
		metrics.CircuitBreakerRequests.WithLabelValues(q.config.Breaker.Name, "failure").Inc()
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	metrics.CircuitBreakerRequests.WithLabelValues(q.config.Breaker.Name, "success").Inc()

	return nil
}

// Subscribe returns the stream of queued messages.
func (q *NATSQueue) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return q.subscriber.Subscribe(ctx, Topic)
}

// Depth reports the number of messages retained in the stream.
func (q *NATSQueue) Depth(ctx context.Context) (int64, error) {
	info, err := q.streams.Info(ctx)
	if err != nil {
		return 0, err
	}
	return int64(info.State.Msgs), nil
}

// Backend returns BackendNATS.
func (q *NATSQueue) Backend() string {
	return BackendNATS
}

// Degraded returns false: NATS is the primary backend.
func (q *NATSQueue) Degraded() bool {
	return false
}

// Close shuts down the publisher, subscriber, connection, and the
// embedded server when one was started.
func (q *NATSQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	var firstErr error
	if err := q.publisher.Close(); err != nil {
		firstErr = err
	}
	if err := q.subscriber.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	q.closeConn()
	return firstErr
}

func (q *NATSQueue) closeConn() {
	if q.conn != nil {
		q.conn.Close()
	}
	q.shutdownEmbedded()
}

func (q *NATSQueue) shutdownEmbedded() {
	if q.embedded != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = q.embedded.Shutdown(ctx)
	}
}
