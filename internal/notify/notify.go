// Package notify publishes run status updates to RabbitMQ so a UI or
// downstream consumer can follow long batches. Entirely optional; the
// evaluator works the same with no broker configured.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

const exchange = "trial_run_updates"

// Publisher sends updates for one run.
type Publisher struct {
	conn  *amqp.Connection
	runID string
}

// Dial connects to the broker.
func Dial(url, runID string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("error connecting to RabbitMQ: %w", err)
	}
	return &Publisher{conn: conn, runID: runID}, nil
}

// Publish sends one status update (e.g. "processing", "completed",
// "failed") with a human-readable message.
func (p *Publisher) Publish(status, message string) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	update := map[string]any{
		"run_id":    p.runID,
		"status":    status,
		"message":   message,
		"timestamp": time.Now(),
	}
	body, _ := json.Marshal(update)
	routingKey := fmt.Sprintf("run.%s", p.runID)

	return ch.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// Close shuts the broker connection.
func (p *Publisher) Close() error { return p.conn.Close() }
