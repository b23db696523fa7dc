// Package amqp publishes and consumes budget domain events over RabbitMQ.
// Routing keys distinguish event types on a single direct exchange.
package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	RoutingKeyBudgetSynced  = "budget.synced"
	RoutingKeyPlanCompleted = "plan.completed"
)

type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	for _, key := range []string{RoutingKeyBudgetSynced, RoutingKeyPlanCompleted} {
		if err := c.channel.QueueBind(c.queueName, key, c.exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue for %s: %w", key, err)
		}
	}

	return nil
}

// PublishBudgetSynced publishes a budget synced event.
func (c *Client) PublishBudgetSynced(ctx context.Context, budgetID, userID string, month, year int) error {
	msg := NewBudgetSyncedMessage(budgetID, userID, month, year)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, RoutingKeyBudgetSynced, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published budget synced event",
		"budget_id", budgetID,
		"user_id", userID,
		"month", month,
		"year", year,
		"exchange", c.exchangeName)

	return nil
}

// PublishPlanCompleted publishes a payment plan completion event.
func (c *Client) PublishPlanCompleted(ctx context.Context, expenseID, userID string) error {
	msg := NewPlanCompletedMessage(expenseID, userID)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, RoutingKeyPlanCompleted, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published plan completed event",
		"expense_id", expenseID,
		"user_id", userID,
		"exchange", c.exchangeName)

	return nil
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.channel.PublishWithContext(
		ctx,
		c.exchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Handlers receives decoded events from the consume loop.
type Handlers struct {
	BudgetSynced  func(ctx context.Context, msg *BudgetSyncedMessage) error
	PlanCompleted func(ctx context.Context, msg *PlanCompletedMessage) error
}

// Consume processes budget events until ctx is canceled. Messages that fail
// to decode are rejected without requeue; handler failures requeue.
func (c *Client) Consume(ctx context.Context, handlers Handlers) error {
	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming budget events", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping event consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			if err := c.dispatch(ctx, handlers, delivery); err != nil {
				slog.ErrorContext(ctx, "Failed to handle event",
					"routing_key", delivery.RoutingKey, "error", err)
				delivery.Nack(false, true)
				continue
			}
			delivery.Ack(false)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, handlers Handlers, delivery amqp091.Delivery) error {
	switch delivery.RoutingKey {
	case RoutingKeyBudgetSynced:
		msg, err := BudgetSyncedMessageFromJSON(delivery.Body)
		if err != nil {
			delivery.Nack(false, false)
			return nil
		}
		if handlers.BudgetSynced == nil {
			return nil
		}
		return handlers.BudgetSynced(ctx, msg)
	case RoutingKeyPlanCompleted:
		msg, err := PlanCompletedMessageFromJSON(delivery.Body)
		if err != nil {
			delivery.Nack(false, false)
			return nil
		}
		if handlers.PlanCompleted == nil {
			return nil
		}
		return handlers.PlanCompleted(ctx, msg)
	default:
		slog.WarnContext(ctx, "Unknown routing key, dropping message",
			"routing_key", delivery.RoutingKey)
		delivery.Nack(false, false)
		return nil
	}
}

// ConsumeWithReconnect keeps the consume loop alive across broker restarts,
// redialing with exponential backoff on connection-level failures.
func ConsumeWithReconnect(ctx context.Context, url, exchangeName, queueName string, handlers Handlers) error {
	attempt := 0
	for {
		client, err := NewClient(url, exchangeName, queueName)
		if err != nil {
			if !isConnectionError(err) {
				return err
			}
			wait := exponentialBackoff(attempt)
			attempt++
			slog.WarnContext(ctx, "AMQP connect failed, retrying",
				"attempt", attempt, "wait", wait, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0

		err = client.Consume(ctx, handlers)
		client.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !isConnectionError(err) {
			return err
		}
		slog.WarnContext(ctx, "AMQP consume interrupted, reconnecting", "error", err)
	}
}

// exponentialBackoff returns the wait before retry attempt n, capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	d := time.Second << uint(attempt)
	if d <= 0 || d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}

// isConnectionError reports whether an error looks like a transient
// connection-level failure worth redialing for.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection closed",
		"unexpected EOF",
		"broken pipe",
		"use of closed network connection",
		"message channel closed",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
