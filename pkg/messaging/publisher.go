package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"callinsight-server/pkg/config"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/metrics"
)

const (
	dialTimeout           = 5 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultRoutingPrefix  = "callinsight"
	reconnectMaxAttempts  = 10
	reconnectMaxBackoff   = 30 * time.Second
)

// Publisher maintains one AMQP connection for outbound lifecycle
// events. It declares a durable events queue on connect and republishes
// the connection after broker-side closes. An unconfigured publisher is
// inert: Connect and Publish succeed as no-ops.
type Publisher struct {
	logger *logrus.Entry
	config config.MessagingConfig
	queue  string

	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewPublisher creates a publisher for the given messaging config.
func NewPublisher(logger *logrus.Logger, cfg config.MessagingConfig) *Publisher {
	if cfg.RoutingPrefix == "" {
		cfg.RoutingPrefix = defaultRoutingPrefix
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	return &Publisher{
		logger: logger.WithField("component", "event_publisher"),
		config: cfg,
		queue:  cfg.RoutingPrefix + ".events",
	}
}

// Enabled reports whether the publisher has a broker to talk to.
func (p *Publisher) Enabled() bool {
	return p.config.Enabled && p.config.AMQPUrl != ""
}

// Connect dials the broker, opens a channel, and declares the events
// queue (and exchange binding when one is configured). Returns nil
// without connecting when publishing is disabled.
func (p *Publisher) Connect() error {
	if !p.Enabled() {
		p.logger.Debug("Event publishing disabled, skipping AMQP connection")
		return nil
	}

	p.connMutex.Lock()
	defer p.connMutex.Unlock()
	if p.connected {
		return nil
	}

	conn, err := amqp.DialConfig(p.config.AMQPUrl, amqp.Config{
		Dial: amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return errors.Wrap(err, "failed to connect to AMQP broker")
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to open AMQP channel")
	}

	if err := p.declareTopology(channel); err != nil {
		channel.Close()
		conn.Close()
		return err
	}

	p.conn = conn
	p.channel = channel
	p.connected = true
	p.stopChan = make(chan struct{})
	metrics.SetAMQPConnectionStatus(true)

	p.logger.WithFields(logrus.Fields{
		"queue":    p.queue,
		"exchange": p.config.Exchange,
	}).Info("Connected to AMQP broker")

	go p.monitorConnection(conn, p.stopChan)
	return nil
}

// declareTopology sets up the durable events queue and, when an
// exchange is configured, binds the queue to the routing prefix.
func (p *Publisher) declareTopology(channel *amqp.Channel) error {
	if _, err := channel.QueueDeclare(
		p.queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return errors.Wrap(err, "failed to declare events queue",
			map[string]interface{}{"queue": p.queue})
	}

	if p.config.Exchange == "" {
		return nil
	}
	if err := channel.ExchangeDeclare(
		p.config.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return errors.Wrap(err, "failed to declare events exchange",
			map[string]interface{}{"exchange": p.config.Exchange})
	}
	if err := channel.QueueBind(p.queue, p.config.RoutingPrefix+".#", p.config.Exchange, false, nil); err != nil {
		return errors.Wrap(err, "failed to bind events queue",
			map[string]interface{}{"queue": p.queue, "exchange": p.config.Exchange})
	}
	return nil
}

// Close stops the reconnect monitor and closes the connection.
func (p *Publisher) Close() {
	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if !p.connected {
		return
	}
	close(p.stopChan)
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.connected = false
	metrics.SetAMQPConnectionStatus(false)
	p.logger.Info("Disconnected from AMQP broker")
}

// IsConnected reports the live connection status.
func (p *Publisher) IsConnected() bool {
	p.connMutex.RLock()
	defer p.connMutex.RUnlock()
	return p.connected
}

// Publish sends one event as a persistent JSON message, bounded by the
// configured publish timeout. Disabled publishers drop the event and
// return nil so callers need no wiring checks.
func (p *Publisher) Publish(ctx context.Context, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprintf("panic while publishing event: %v", r),
				map[string]interface{}{"event": event.Event})
		}
		if err != nil {
			metrics.RecordEventPublished(event.Event, "error")
		}
	}()

	if !p.Enabled() {
		return nil
	}
	if !p.IsConnected() {
		return errors.New("not connected to AMQP broker",
			map[string]interface{}{"event": event.Event})
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	body, merr := json.Marshal(event)
	if merr != nil {
		return errors.WrapPermanent(merr, "failed to marshal event",
			map[string]interface{}{"event": event.Event})
	}

	if perr := p.publishBody(ctx, p.config.Exchange, p.routingKey(event.Event), body, nil); perr != nil {
		return perr
	}

	metrics.RecordEventPublished(event.Event, "success")
	p.logger.WithFields(logrus.Fields{
		"event":   event.Event,
		"call_id": event.CallID,
	}).Debug("Lifecycle event published")
	return nil
}

// PublishDeadLetter parks an event that could not be delivered on the
// durable dead-letter queue next to the events queue.
func (p *Publisher) PublishDeadLetter(ctx context.Context, event Event, reason string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprintf("panic while dead-lettering event: %v", r))
		}
	}()

	if !p.Enabled() {
		return nil
	}
	if !p.IsConnected() {
		return errors.New("not connected to AMQP broker")
	}

	body, merr := json.Marshal(event)
	if merr != nil {
		return errors.WrapPermanent(merr, "failed to marshal dead letter event")
	}

	deadLetterQueue := p.queue + ".dead_letter"
	p.connMutex.RLock()
	channel := p.channel
	p.connMutex.RUnlock()
	if channel == nil {
		return errors.New("AMQP channel is not available")
	}
	if _, derr := channel.QueueDeclare(deadLetterQueue, true, false, false, false, nil); derr != nil {
		return errors.Wrap(derr, "failed to declare dead letter queue",
			map[string]interface{}{"queue": deadLetterQueue})
	}

	headers := amqp.Table{
		"x-dead-letter-reason": reason,
		"x-call-id":            event.CallID,
	}
	if perr := p.publishBody(ctx, "", deadLetterQueue, body, headers); perr != nil {
		return perr
	}

	metrics.RecordEventPublished(event.Event, "dead_letter")
	p.logger.WithFields(logrus.Fields{
		"event":  event.Event,
		"queue":  deadLetterQueue,
		"reason": reason,
	}).Info("Event parked in dead letter queue")
	return nil
}

// publishBody runs the blocking channel publish in a goroutine so the
// caller's deadline holds even when the broker applies backpressure.
func (p *Publisher) publishBody(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	publishCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		p.connMutex.RLock()
		defer p.connMutex.RUnlock()
		if !p.connected || p.channel == nil {
			select {
			case result <- errors.New("lost AMQP connection before publishing"):
			case <-publishCtx.Done():
			}
			return
		}

		err := p.channel.Publish(
			exchange,
			routingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
				Headers:      headers,
			},
		)
		select {
		case result <- err:
		case <-publishCtx.Done():
		}
	}()

	select {
	case err := <-result:
		if err != nil {
			return errors.Wrap(err, "failed to publish to AMQP",
				map[string]interface{}{"routing_key": routingKey})
		}
		return nil
	case <-publishCtx.Done():
		return errors.WrapTransient(publishCtx.Err(), "publishing to AMQP timed out")
	}
}

// routingKey addresses the event under the configured exchange, or the
// queue directly through the default exchange when none is configured.
func (p *Publisher) routingKey(eventName string) string {
	if p.config.Exchange == "" {
		return p.queue
	}
	return p.config.RoutingPrefix + "." + eventName
}

// monitorConnection watches for broker-side closes and reconnects with
// exponential backoff.
func (p *Publisher) monitorConnection(conn *amqp.Connection, stop chan struct{}) {
	closeChan := make(chan *amqp.Error, 1)
	conn.NotifyClose(closeChan)

	select {
	case <-stop:
		return
	case closeErr := <-closeChan:
		p.connMutex.Lock()
		p.connected = false
		p.connMutex.Unlock()
		metrics.SetAMQPConnectionStatus(false)
		p.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")
	}

	for attempt := 1; attempt <= reconnectMaxAttempts; attempt++ {
		select {
		case <-stop:
			return
		default:
		}

		err := p.Connect()
		if err == nil {
			p.logger.WithField("attempt", attempt).Info("Reconnected to AMQP broker")
			return
		}
		p.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP broker")

		backoff := time.Duration(1<<uint(attempt-1)) * time.Second
		if backoff > reconnectMaxBackoff {
			backoff = reconnectMaxBackoff
		}
		time.Sleep(backoff)
	}
	p.logger.Error("Gave up reconnecting to AMQP broker")
}
