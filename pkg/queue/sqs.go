package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/sirupsen/logrus"
)

// SQSTaskQueueConfig holds settings for the SQS queue backend.
type SQSTaskQueueConfig struct {
	Name     string
	Region   string
	Endpoint string

	QueueURL      string
	DeadLetterURL string

	VisibilityTimeout time.Duration
	ReceiveWaitTime   time.Duration
}

// SQSTaskQueue implements TaskQueue on Amazon SQS. The receipt handle is
// the lease token and ApproximateReceiveCount is the attempt number. A
// redrive policy on the queue is the backstop for tasks this process never
// manages to park itself.
type SQSTaskQueue struct {
	client *sqs.Client
	config SQSTaskQueueConfig
	logger *logrus.Logger
}

// NewSQSTaskQueue creates an SQS-backed task queue.
func NewSQSTaskQueue(ctx context.Context, config SQSTaskQueueConfig, logger *logrus.Logger) (*SQSTaskQueue, error) {
	if config.QueueURL == "" {
		return nil, errors.NewInvalidInput("SQS queue URL is required", map[string]interface{}{
			"queue": config.Name,
		})
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 5 * time.Minute
	}
	if config.ReceiveWaitTime <= 0 || config.ReceiveWaitTime > 20*time.Second {
		config.ReceiveWaitTime = 10 * time.Second
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(config.Region),
		awsconfig.WithRetryMaxAttempts(3),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS configuration")
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
	})

	logger.WithFields(logrus.Fields{
		"queue":  config.Name,
		"region": config.Region,
	}).Info("SQS task queue initialized")

	return &SQSTaskQueue{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// Enqueue publishes a task to the queue.
func (q *SQSTaskQueue) Enqueue(ctx context.Context, task *call.Task) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}

	body, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, "failed to marshal task").WithField("task_id", task.TaskID)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.config.QueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return errors.NewQueueUnavailable(err, "send message").
			WithField("queue", q.config.Name).
			WithField("task_id", task.TaskID)
	}

	q.logger.WithFields(logrus.Fields{
		"queue":   q.config.Name,
		"task_id": task.TaskID,
		"call_id": task.CallID,
		"stage":   task.Stage,
	}).Debug("Task enqueued")

	return nil
}

// Receive long-polls until a task is delivered or ctx is done.
func (q *SQSTaskQueue) Receive(ctx context.Context) (*Message, error) {
	for {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.config.QueueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     int32(q.config.ReceiveWaitTime / time.Second),
			VisibilityTimeout:   int32(q.config.VisibilityTimeout / time.Second),
			MessageSystemAttributeNames: []types.MessageSystemAttributeName{
				types.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.NewQueueUnavailable(err, "receive message").
				WithField("queue", q.config.Name)
		}

		if len(out.Messages) == 0 {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		m := out.Messages[0]

		var task call.Task
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &task); err != nil {
			// Undecodable payloads can never be processed; park the raw
			// body so the queue does not redeliver them forever.
			q.logger.WithError(err).WithField("queue", q.config.Name).
				Warn("Received undecodable task payload, moving to dead letter")
			q.parkRaw(ctx, aws.ToString(m.Body), m.ReceiptHandle, "undecodable payload")
			continue
		}

		receiveCount := 1
		if v, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				receiveCount = n
			}
		}

		return &Message{
			Task:         &task,
			LeaseToken:   aws.ToString(m.ReceiptHandle),
			ReceiveCount: receiveCount,
		}, nil
	}
}

// Acknowledge deletes a delivered message.
func (q *SQSTaskQueue) Acknowledge(ctx context.Context, msg *Message) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.config.QueueURL),
		ReceiptHandle: aws.String(msg.LeaseToken),
	})
	if err != nil {
		return errors.NewQueueUnavailable(err, "delete message").
			WithField("queue", q.config.Name).
			WithField("task_id", msg.Task.TaskID)
	}
	return nil
}

// ExtendLease changes the message visibility so the broker holds it longer.
func (q *SQSTaskQueue) ExtendLease(ctx context.Context, msg *Message, d time.Duration) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.config.QueueURL),
		ReceiptHandle:     aws.String(msg.LeaseToken),
		VisibilityTimeout: int32(d / time.Second),
	})
	if err != nil {
		return errors.NewQueueUnavailable(err, "change message visibility").
			WithField("queue", q.config.Name).
			WithField("task_id", msg.Task.TaskID)
	}
	return nil
}

// DeadLetter republishes the task to the dead letter queue and deletes the
// original message. Without a configured dead letter queue the task is
// logged and dropped.
func (q *SQSTaskQueue) DeadLetter(ctx context.Context, msg *Message, reason string) error {
	if q.config.DeadLetterURL == "" {
		q.logger.WithFields(logrus.Fields{
			"queue":   q.config.Name,
			"task_id": msg.Task.TaskID,
			"call_id": msg.Task.CallID,
			"reason":  reason,
		}).Warn("No dead letter queue configured, dropping task")
		return q.Acknowledge(ctx, msg)
	}

	body, err := json.Marshal(msg.Task)
	if err != nil {
		return errors.Wrap(err, "failed to marshal task for dead letter").
			WithField("task_id", msg.Task.TaskID)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.config.DeadLetterURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"dead_letter_reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
			"source_queue": {
				DataType:    aws.String("String"),
				StringValue: aws.String(q.config.Name),
			},
			"receive_count": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.Itoa(msg.ReceiveCount)),
			},
		},
	})
	if err != nil {
		return errors.NewQueueUnavailable(err, "publish to dead letter queue").
			WithField("queue", q.config.Name).
			WithField("task_id", msg.Task.TaskID)
	}

	q.logger.WithFields(logrus.Fields{
		"queue":         q.config.Name,
		"task_id":       msg.Task.TaskID,
		"call_id":       msg.Task.CallID,
		"reason":        reason,
		"receive_count": msg.ReceiveCount,
	}).Warn("Task moved to dead letter queue")

	return q.Acknowledge(ctx, msg)
}

// Close is a no-op; the SQS client holds no background state.
func (q *SQSTaskQueue) Close() error {
	return nil
}

func (q *SQSTaskQueue) parkRaw(ctx context.Context, body string, receiptHandle *string, reason string) {
	if q.config.DeadLetterURL != "" {
		_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(q.config.DeadLetterURL),
			MessageBody: aws.String(body),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"dead_letter_reason": {
					DataType:    aws.String("String"),
					StringValue: aws.String(reason),
				},
				"source_queue": {
					DataType:    aws.String("String"),
					StringValue: aws.String(q.config.Name),
				},
			},
		})
		if err != nil {
			q.logger.WithError(err).WithField("queue", q.config.Name).
				Error("Failed to park raw payload on dead letter queue")
			return
		}
	}

	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.config.QueueURL),
		ReceiptHandle: receiptHandle,
	}); err != nil {
		q.logger.WithError(err).WithField("queue", q.config.Name).
			Error("Failed to delete undecodable message")
	}
}

var _ TaskQueue = (*SQSTaskQueue)(nil)
