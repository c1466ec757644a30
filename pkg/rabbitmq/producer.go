/**
 * @description
 * This package provides a simple producer for publishing billing events to
 * RabbitMQ. It encapsulates the logic for connecting to RabbitMQ and publishing
 * a message to a specific exchange and routing key.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 * - internal/domain: Event payload types.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/proflink/billing-service/internal/domain"
	"github.com/rabbitmq/amqp091-go"
)

// BillingExchange is the topic exchange all billing events are published to.
const BillingExchange = "proflink.events"

// Routing keys for published billing events.
const (
	RoutingKeyCommissionRecorded = "billing.commission.recorded"
	RoutingKeyInvoiceIssued      = "billing.invoice.issued"
	RoutingKeyPaymentCompleted   = "billing.payment.completed"
	RoutingKeyPaymentFailed      = "billing.payment.failed"
	RoutingKeyPayoutCreated      = "billing.payout.created"
)

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// Publisher is the interface implemented by types that can publish billing events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	PublishCommissionRecorded(ctx context.Context, event domain.CommissionRecordedEvent) error
	PublishInvoiceIssued(ctx context.Context, event domain.InvoiceIssuedEvent) error
	PublishPaymentOutcome(ctx context.Context, event domain.PaymentOutcomeEvent) error
	PublishPayoutCreated(ctx context.Context, event domain.PayoutCreatedEvent) error
	Close()
}

// EventProducerFallback is a minimal no-op publisher used when RabbitMQ is unavailable at startup.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (p *EventProducerFallback) PublishCommissionRecorded(ctx context.Context, event domain.CommissionRecordedEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"commission recorded event publish skipped\" job_id=%s", event.JobID)
	return nil
}

func (p *EventProducerFallback) PublishInvoiceIssued(ctx context.Context, event domain.InvoiceIssuedEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"invoice issued event publish skipped\" invoice_id=%s", event.InvoiceID)
	return nil
}

func (p *EventProducerFallback) PublishPaymentOutcome(ctx context.Context, event domain.PaymentOutcomeEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"payment outcome event publish skipped\" payment_id=%s", event.PaymentID)
	return nil
}

func (p *EventProducerFallback) PublishPayoutCreated(ctx context.Context, event domain.PayoutCreatedEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"payout created event publish skipped\" payout_id=%s", event.PayoutID)
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch}, nil
}

// Publish sends a message to a specific exchange with a routing key.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	// Ensure the exchange exists (durable topic)
	if err := p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"exchange declare failed; reopening channel\" exchange=%s err=%v", exchange, err)
		// Attempt simple channel reopen once
		if p.conn != nil {
			if ch, chErr := p.conn.Channel(); chErr == nil {
				p.channel = ch
				if err2 := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err2 != nil {
					return err2
				}
			} else {
				return chErr
			}
		} else {
			return err
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		return err
	}

	err = p.channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        jsonBody,
		},
	)
	if err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		// One-shot retry: reopen channel and try again
		if p.conn != nil {
			if ch, chErr := p.conn.Channel(); chErr == nil {
				p.channel = ch
				// re-declare exchange and retry
				if exErr := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); exErr == nil {
					err = p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp091.Publishing{
						ContentType: "application/json",
						Timestamp:   time.Now(),
						Body:        jsonBody,
					})
					if err == nil {
						return nil
					}
				}
			}
		}
		return err
	}
	return nil
}

// PublishCommissionRecorded publishes a commission recorded event.
func (p *EventProducer) PublishCommissionRecorded(ctx context.Context, event domain.CommissionRecordedEvent) error {
	return p.Publish(ctx, BillingExchange, RoutingKeyCommissionRecorded, event)
}

// PublishInvoiceIssued publishes an invoice issued event.
func (p *EventProducer) PublishInvoiceIssued(ctx context.Context, event domain.InvoiceIssuedEvent) error {
	return p.Publish(ctx, BillingExchange, RoutingKeyInvoiceIssued, event)
}

// PublishPaymentOutcome publishes a payment outcome event, routing on status.
func (p *EventProducer) PublishPaymentOutcome(ctx context.Context, event domain.PaymentOutcomeEvent) error {
	routingKey := RoutingKeyPaymentCompleted
	if event.Status == domain.PaymentStatusFailed {
		routingKey = RoutingKeyPaymentFailed
	}
	return p.Publish(ctx, BillingExchange, routingKey, event)
}

// PublishPayoutCreated publishes a payout created event.
func (p *EventProducer) PublishPayoutCreated(ctx context.Context, event domain.PayoutCreatedEvent) error {
	return p.Publish(ctx, BillingExchange, RoutingKeyPayoutCreated, event)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
