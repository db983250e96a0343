package queue

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Message is one delivered intake job and the channel it must be settled on.
type Message struct {
	Job         *Job
	DeliveryTag uint64
	// Redelivered is set by the broker when the delivery was requeued before.
	Redelivered bool
	Channel     *amqp.Channel
}

var _ MessageInterface = (*Message)(nil)

var errNoChannel = errors.New("message has no delivery channel")

// Ack settles the delivery as done.
func (m *Message) Ack() error {
	if m.Channel == nil {
		return errNoChannel
	}
	if err := m.Channel.Ack(m.DeliveryTag, false); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", m.Job.ID, err)
	}
	return nil
}

// Nack rejects the delivery. Without requeue the broker dead-letters it.
func (m *Message) Nack(requeue bool) error {
	if m.Channel == nil {
		return errNoChannel
	}
	if err := m.Channel.Nack(m.DeliveryTag, false, requeue); err != nil {
		return fmt.Errorf("failed to nack job %s: %w", m.Job.ID, err)
	}
	return nil
}

// GetJob returns the decoded job.
func (m *Message) GetJob() *Job {
	return m.Job
}
