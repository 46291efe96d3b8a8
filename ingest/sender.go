package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/schema"
)

// sqsBatchSize is the SQS SendMessageBatch limit.
const sqsBatchSize = 10

// SQSAPI is the subset of the SQS client used by the sender.
type SQSAPI interface {
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// Sender enqueues tile job messages in batches.
type Sender struct {
	api      SQSAPI
	queueURL string
	logger   core.Logger
}

// NewSender creates a Sender for the given queue.
func NewSender(api SQSAPI, queueURL string, logger core.Logger) *Sender {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Sender{api: api, queueURL: queueURL, logger: logger}
}

// SendAll enqueues every message, returning the number sent. A batch
// with rejected entries fails the whole send; ingestion is rerunnable
// because run creation and job claims are idempotent.
func (s *Sender) SendAll(ctx context.Context, messages []*schema.TileJobMessage) (int, error) {
	sent := 0
	for start := 0; start < len(messages); start += sqsBatchSize {
		end := start + sqsBatchSize
		if end > len(messages) {
			end = len(messages)
		}

		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for _, msg := range messages[start:end] {
			body, err := json.Marshal(msg)
			if err != nil {
				return sent, fmt.Errorf("marshal message %s: %w", msg.TileID(), err)
			}
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String(uuid.NewString()),
				MessageBody: aws.String(string(body)),
			})
		}

		out, err := s.api.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(s.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return sent, fmt.Errorf("send batch: %w", err)
		}
		if len(out.Failed) > 0 {
			first := out.Failed[0]
			return sent, fmt.Errorf("batch had %d rejected entries, first: %s %s",
				len(out.Failed), aws.ToString(first.Code), aws.ToString(first.Message))
		}

		sent += len(entries)
		s.logger.Debug("Batch enqueued", map[string]interface{}{
			"operation": "sqs_send_batch",
			"batch":     len(entries),
			"sent":      sent,
		})
	}
	return sent, nil
}
