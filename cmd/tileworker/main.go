// Command tileworker long-polls the tile jobs queue and runs the tile
// state machine for each message. Poison messages are acknowledged;
// processing failures leave the message for SQS redelivery and,
// eventually, the dead-letter queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/awsclients"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/imagery"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/pipeline"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/schema"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/secrets"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/storage"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/store"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/telemetry"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/vision"
)

// deadlineMarginSeconds is subtracted from the visibility timeout when
// budgeting a message, leaving room to write the failure record before
// the message becomes visible again.
const deadlineMarginSeconds = 10

const longPollSeconds = 20

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tileworker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := core.LoadWorkerConfig()
	if err != nil {
		return err
	}

	logger := core.NewPipelineLogger("tileworker")
	workerID := uuid.NewString()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.NewProvider("tileworker")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	db, err := awsclients.NewDynamoDB(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}
	s3Client, err := awsclients.NewS3(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}
	sqsClient, err := awsclients.NewSQS(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}
	smClient, err := awsclients.NewSecretsManager(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	secretCache := secrets.NewCache(smClient)
	st := store.New(db, cfg.RunsTable, cfg.TileJobsTable, logger)
	objects := storage.NewObjectStore(s3Client, logger)
	fetcher := imagery.NewFetcher(httpClient, secretCache, cfg.SecretsID, cfg.MaxRetries, cfg.RequestTimeout, logger)
	analyzer := vision.NewClient(httpClient, secretCache, cfg.SecretsID, "", cfg.MaxRetries, 120*time.Second, logger)

	processor := pipeline.New(pipeline.Config{
		Jobs:        st,
		Objects:     objects,
		Fetcher:     fetcher,
		Analyzer:    analyzer,
		S3Bucket:    cfg.S3Bucket,
		LockSeconds: cfg.JobStaleLockSeconds,
		Logger:      logger,
		Telemetry:   tel,
	})

	logger.Info("Worker started", map[string]interface{}{
		"operation": "worker_start",
		"worker_id": workerID,
		"queue_url": cfg.TileJobsQueueURL,
	})

	w := &worker{
		sqs:        sqsClient,
		queueURL:   cfg.TileJobsQueueURL,
		processor:  processor,
		logger:     logger,
		visibility: cfg.VisibilityTimeoutSeconds,
	}
	w.loop(ctx)

	logger.Info("Worker stopped", map[string]interface{}{
		"operation": "worker_stop",
		"worker_id": workerID,
	})
	return nil
}

type worker struct {
	sqs        *sqs.Client
	queueURL   string
	processor  *pipeline.Processor
	logger     core.Logger
	visibility int64
}

func (w *worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		out, err := w.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(w.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     longPollSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("Receive failed, backing off", map[string]interface{}{
				"operation": "sqs_receive",
				"error":     err.Error(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, msg := range out.Messages {
			w.handle(ctx, aws.ToString(msg.Body), aws.ToString(msg.ReceiptHandle), aws.ToString(msg.MessageId))
		}
	}
}

// handle processes one message. The message is deleted on success, on
// skip, and on poison; a processing failure leaves it for redelivery.
func (w *worker) handle(ctx context.Context, body, receiptHandle, messageID string) {
	message, err := schema.ParseTileJobMessage([]byte(body))
	if err != nil {
		// A malformed message will never succeed; ack it so it does not
		// cycle through the queue.
		w.logger.Error("Poison message, acknowledging", map[string]interface{}{
			"operation":  "handle_message",
			"message_id": messageID,
			"error":      err.Error(),
		})
		w.delete(ctx, receiptHandle, messageID)
		return
	}

	deadlineEpoch := float64(time.Now().Unix() + w.visibility - deadlineMarginSeconds)

	result, err := w.processor.ProcessTile(ctx, message, deadlineEpoch)
	if err != nil {
		if errors.Is(err, core.ErrJobLockedByOther) {
			w.logger.Info("Job locked elsewhere, leaving for redelivery", map[string]interface{}{
				"operation":  "handle_message",
				"message_id": messageID,
				"tile_id":    message.TileID(),
			})
		}
		// Failed or locked: visibility timeout drives the retry
		return
	}

	w.logger.Info("Message handled", map[string]interface{}{
		"operation":  "handle_message",
		"message_id": messageID,
		"tile_id":    result.TileID,
		"status":     result.Status,
	})
	w.delete(ctx, receiptHandle, messageID)
}

func (w *worker) delete(ctx context.Context, receiptHandle, messageID string) {
	_, err := w.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		w.logger.Error("Delete failed, message will redeliver", map[string]interface{}{
			"operation":  "sqs_delete",
			"message_id": messageID,
			"error":      err.Error(),
		})
	}
}
