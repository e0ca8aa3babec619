package queue

import (
	"context"
	"sync"
	"time"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MemoryTaskQueueConfig holds settings for the in-memory queue backend.
type MemoryTaskQueueConfig struct {
	Name              string
	BufferSize        int
	VisibilityTimeout time.Duration

	// MaxReceives is the queue-side delivery budget. A task delivered more
	// than this many times is moved to the dead letter slice on receive.
	// Zero disables the budget.
	MaxReceives int
}

// DeadLetteredTask records a task that was removed from the delivery loop.
type DeadLetteredTask struct {
	Task         *call.Task `json:"task"`
	Reason       string     `json:"reason"`
	ReceiveCount int        `json:"receive_count"`
	MovedAt      time.Time  `json:"moved_at"`
}

type memoryLease struct {
	task     *call.Task
	deadline time.Time
}

// MemoryTaskQueue implements TaskQueue with a buffered channel and a lease
// table. Expired leases are redelivered by a background loop.
type MemoryTaskQueue struct {
	config MemoryTaskQueueConfig
	logger *logrus.Logger

	queue chan *call.Task

	mutex         sync.Mutex
	leases        map[string]*memoryLease
	receiveCounts map[string]int
	deadLetter    []*DeadLetteredTask
	closed        bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	now func() time.Time
}

// NewMemoryTaskQueue creates an in-memory task queue and starts its
// redelivery loop.
func NewMemoryTaskQueue(config MemoryTaskQueueConfig, logger *logrus.Logger) *MemoryTaskQueue {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 5 * time.Minute
	}

	q := &MemoryTaskQueue{
		config:        config,
		logger:        logger,
		queue:         make(chan *call.Task, config.BufferSize),
		leases:        make(map[string]*memoryLease),
		receiveCounts: make(map[string]int),
		stopCh:        make(chan struct{}),
		now:           time.Now,
	}

	q.wg.Add(1)
	go q.redeliveryLoop()

	return q
}

// Enqueue adds a task to the queue.
func (q *MemoryTaskQueue) Enqueue(ctx context.Context, task *call.Task) error {
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return errors.Wrap(errors.ErrQueueUnavailable, "enqueue on closed queue").
			WithField("queue", q.config.Name)
	}
	q.mutex.Unlock()

	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = q.now().UTC()
	}

	select {
	case q.queue <- task:
		q.logger.WithFields(logrus.Fields{
			"queue":   q.config.Name,
			"task_id": task.TaskID,
			"call_id": task.CallID,
			"stage":   task.Stage,
		}).Debug("Task enqueued")
		return nil
	default:
		return errors.NewQueueUnavailable(nil, "queue buffer full").
			WithField("queue", q.config.Name).
			WithField("task_id", task.TaskID)
	}
}

// Receive blocks until a task is delivered or ctx is done. Each delivery
// records a lease; tasks past the receive budget are parked instead of
// delivered.
func (q *MemoryTaskQueue) Receive(ctx context.Context) (*Message, error) {
	for {
		select {
		case task := <-q.queue:
			q.mutex.Lock()
			q.receiveCounts[task.TaskID]++
			count := q.receiveCounts[task.TaskID]

			if q.config.MaxReceives > 0 && count > q.config.MaxReceives {
				q.deadLetter = append(q.deadLetter, &DeadLetteredTask{
					Task:         task,
					Reason:       "receive count exceeded",
					ReceiveCount: count,
					MovedAt:      q.now().UTC(),
				})
				delete(q.receiveCounts, task.TaskID)
				q.mutex.Unlock()

				q.logger.WithFields(logrus.Fields{
					"queue":         q.config.Name,
					"task_id":       task.TaskID,
					"call_id":       task.CallID,
					"receive_count": count,
				}).Warn("Task exceeded receive budget, moved to dead letter")
				continue
			}

			token := uuid.NewString()
			q.leases[token] = &memoryLease{
				task:     task,
				deadline: q.now().Add(q.config.VisibilityTimeout),
			}
			q.mutex.Unlock()

			return &Message{Task: task, LeaseToken: token, ReceiveCount: count}, nil

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Acknowledge removes a delivered message permanently.
func (q *MemoryTaskQueue) Acknowledge(ctx context.Context, msg *Message) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if _, ok := q.leases[msg.LeaseToken]; !ok {
		return errors.Wrap(errors.ErrLeaseExpired, "acknowledge task").
			WithField("queue", q.config.Name).
			WithField("task_id", msg.Task.TaskID)
	}

	delete(q.leases, msg.LeaseToken)
	delete(q.receiveCounts, msg.Task.TaskID)
	return nil
}

// ExtendLease postpones redelivery of an in-flight message.
func (q *MemoryTaskQueue) ExtendLease(ctx context.Context, msg *Message, d time.Duration) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	lease, ok := q.leases[msg.LeaseToken]
	if !ok {
		return errors.Wrap(errors.ErrLeaseExpired, "extend lease").
			WithField("queue", q.config.Name).
			WithField("task_id", msg.Task.TaskID)
	}

	lease.deadline = q.now().Add(d)
	return nil
}

// DeadLetter parks a message so it is never redelivered.
func (q *MemoryTaskQueue) DeadLetter(ctx context.Context, msg *Message, reason string) error {
	q.mutex.Lock()
	delete(q.leases, msg.LeaseToken)
	delete(q.receiveCounts, msg.Task.TaskID)
	q.deadLetter = append(q.deadLetter, &DeadLetteredTask{
		Task:         msg.Task,
		Reason:       reason,
		ReceiveCount: msg.ReceiveCount,
		MovedAt:      q.now().UTC(),
	})
	q.mutex.Unlock()

	q.logger.WithFields(logrus.Fields{
		"queue":         q.config.Name,
		"task_id":       msg.Task.TaskID,
		"call_id":       msg.Task.CallID,
		"reason":        reason,
		"receive_count": msg.ReceiveCount,
	}).Warn("Task moved to dead letter")

	return nil
}

// DeadLettered returns a snapshot of the dead letter slice.
func (q *MemoryTaskQueue) DeadLettered() []*DeadLetteredTask {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	out := make([]*DeadLetteredTask, len(q.deadLetter))
	copy(out, q.deadLetter)
	return out
}

// Depth returns the number of tasks waiting for delivery.
func (q *MemoryTaskQueue) Depth() int {
	return len(q.queue)
}

// Close stops the redelivery loop. Tasks still buffered are discarded.
func (q *MemoryTaskQueue) Close() error {
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return nil
	}
	q.closed = true
	q.mutex.Unlock()

	close(q.stopCh)
	q.wg.Wait()
	return nil
}

// redeliveryLoop returns expired leases to the queue. The tick is a
// fraction of the visibility timeout so redelivery latency stays
// proportional to the lease length.
func (q *MemoryTaskQueue) redeliveryLoop() {
	defer q.wg.Done()

	interval := q.config.VisibilityTimeout / 10
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.redeliverExpired()
		case <-q.stopCh:
			return
		}
	}
}

func (q *MemoryTaskQueue) redeliverExpired() {
	now := q.now()

	q.mutex.Lock()
	var expired []*call.Task
	for token, lease := range q.leases {
		if now.After(lease.deadline) {
			expired = append(expired, lease.task)
			delete(q.leases, token)
		}
	}
	q.mutex.Unlock()

	for _, task := range expired {
		select {
		case q.queue <- task:
			q.logger.WithFields(logrus.Fields{
				"queue":   q.config.Name,
				"task_id": task.TaskID,
				"call_id": task.CallID,
			}).Debug("Task lease expired, redelivering")
		default:
			// Buffer full. Re-lease briefly and retry on a later tick.
			q.mutex.Lock()
			q.leases[uuid.NewString()] = &memoryLease{task: task, deadline: now}
			q.mutex.Unlock()
		}
	}
}

var _ TaskQueue = (*MemoryTaskQueue)(nil)
