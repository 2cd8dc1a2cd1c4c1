package feedback

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/mailqueue/internal/pkg/logger"
)

// sqsAPI is the slice of the SQS client the consumer uses.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer long-polls an SQS queue of provider feedback notifications and
// feeds them through the ingestor. Messages that fail processing are left on
// the queue for redelivery; malformed messages are deleted immediately since
// they can never succeed.
type Consumer struct {
	client   sqsAPI
	queueURL string
	ingestor *Ingestor
	log      *logger.Logger
	done     chan struct{}
}

func NewConsumer(client *sqs.Client, queueURL string, ingestor *Ingestor) *Consumer {
	return newConsumer(client, queueURL, ingestor)
}

func newConsumer(client sqsAPI, queueURL string, ingestor *Ingestor) *Consumer {
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		ingestor: ingestor,
		log:      logger.With("sqs-consumer"),
		done:     make(chan struct{}),
	}
}

// Start launches the poll loop in its own goroutine.
func (c *Consumer) Start(ctx context.Context) {
	c.log.Info("starting", "queue_url", c.queueURL)
	go c.poll(ctx)
}

// Stop signals the poll loop to exit after the in-flight receive.
func (c *Consumer) Stop() {
	close(c.done)
}

func (c *Consumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, msg := range out.Messages {
			if msg.Body == nil {
				c.delete(ctx, msg.ReceiptHandle)
				continue
			}
			var n Notification
			if err := json.Unmarshal([]byte(*msg.Body), &n); err != nil {
				c.log.Warn("dropping malformed message", "error", err)
				c.delete(ctx, msg.ReceiptHandle)
				continue
			}
			if err := c.ingestor.Process(ctx, n); err != nil {
				c.log.Error("processing failed, leaving for redelivery",
					"type", n.Type, "error", err)
				continue
			}
			c.delete(ctx, msg.ReceiptHandle)
		}
	}
}

func (c *Consumer) delete(ctx context.Context, handle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		c.log.Warn("delete failed", "error", err)
	}
}
