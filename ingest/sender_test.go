package ingest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/schema"
)

type fakeSQS struct {
	batches [][]types.SendMessageBatchRequestEntry
	failed  []types.BatchResultErrorEntry
	err     error
}

func (f *fakeSQS) SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	f.batches = append(f.batches, params.Entries)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageBatchOutput{Failed: f.failed}, nil
}

func testMessages(n int) []*schema.TileJobMessage {
	msgs := make([]*schema.TileJobMessage, 0, n)
	for i := 0; i < n; i++ {
		x := i
		z, y := 14, 6160
		msgs = append(msgs, &schema.TileJobMessage{
			RunID:         "run_abc",
			ImagerySource: schema.SourceMapbox,
			Z:             &z,
			X:             &x,
			Y:             &y,
		})
	}
	return msgs
}

func TestSendAllBatchesOfTen(t *testing.T) {
	api := &fakeSQS{}
	sender := NewSender(api, "https://queue", nil)

	sent, err := sender.SendAll(context.Background(), testMessages(23))
	require.NoError(t, err)
	assert.Equal(t, 23, sent)

	require.Len(t, api.batches, 3)
	assert.Len(t, api.batches[0], 10)
	assert.Len(t, api.batches[1], 10)
	assert.Len(t, api.batches[2], 3)

	// Entry ids must be unique within a batch
	seen := map[string]bool{}
	for _, entry := range api.batches[0] {
		id := aws.ToString(entry.Id)
		assert.False(t, seen[id])
		seen[id] = true
	}

	var decoded schema.TileJobMessage
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(api.batches[0][0].MessageBody)), &decoded))
	assert.Equal(t, "run_abc", decoded.RunID)
	require.NoError(t, decoded.Validate())
}

func TestSendAllRejectedEntriesFail(t *testing.T) {
	api := &fakeSQS{
		failed: []types.BatchResultErrorEntry{
			{Code: aws.String("InternalError"), Message: aws.String("try again")},
		},
	}
	sender := NewSender(api, "https://queue", nil)

	_, err := sender.SendAll(context.Background(), testMessages(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InternalError")
}
