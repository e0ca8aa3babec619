// Package queue provides the task transport between the pipeline
// orchestrator and the stage workers. Deliveries are leased, not consumed:
// a message a worker neither acknowledges nor extends returns to the queue
// after the visibility timeout, and the receive count it carries is the
// stage attempt number.
package queue

import (
	"context"
	"time"

	"callinsight-server/pkg/call"
)

// Message is a single delivery of a task.
type Message struct {
	Task *call.Task

	// LeaseToken identifies this delivery for Acknowledge, ExtendLease
	// and DeadLetter. It is valid only until the lease expires.
	LeaseToken string

	// ReceiveCount is 1 on first delivery and grows with every
	// redelivery of the same task.
	ReceiveCount int
}

// TaskQueue is the contract both queue backends implement.
type TaskQueue interface {
	// Enqueue publishes a task for delivery.
	Enqueue(ctx context.Context, task *call.Task) error

	// Receive blocks until a task is delivered or ctx is done.
	Receive(ctx context.Context) (*Message, error)

	// Acknowledge removes a delivered message permanently.
	Acknowledge(ctx context.Context, msg *Message) error

	// ExtendLease postpones redelivery of an in-flight message by d.
	ExtendLease(ctx context.Context, msg *Message, d time.Duration) error

	// DeadLetter moves a message out of the delivery loop so it is never
	// redelivered, recording why.
	DeadLetter(ctx context.Context, msg *Message, reason string) error

	// Close stops background redelivery machinery.
	Close() error
}
