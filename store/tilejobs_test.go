package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/schema"
)

// fakeDynamoDB captures inputs and plays back scripted outputs.
type fakeDynamoDB struct {
	updateInputs []*dynamodb.UpdateItemInput
	updateOut    *dynamodb.UpdateItemOutput
	updateErr    error

	getInputs []*dynamodb.GetItemInput
	getOut    *dynamodb.GetItemOutput
	getErr    error

	putInputs []*dynamodb.PutItemInput
	putErr    error
}

func (f *fakeDynamoDB) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateInputs = append(f.updateInputs, params)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	out := f.updateOut
	if out == nil {
		out = &dynamodb.UpdateItemOutput{}
	}
	return out, nil
}

func (f *fakeDynamoDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getInputs = append(f.getInputs, params)
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := f.getOut
	if out == nil {
		out = &dynamodb.GetItemOutput{}
	}
	return out, nil
}

func (f *fakeDynamoDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putInputs = append(f.putInputs, params)
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func newTestStore(db *fakeDynamoDB) *Store {
	s := New(db, "Runs", "TileJobs", nil)
	s.now = func() int64 { return 1_700_000_000 }
	return s
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func mapboxMessage() *schema.TileJobMessage {
	return &schema.TileJobMessage{
		RunID:         "run_abc",
		ImagerySource: schema.SourceMapbox,
		Z:             intPtr(14),
		X:             intPtr(4823),
		Y:             intPtr(6160),
		Region:        "punjab",
	}
}

func googleMessage() *schema.TileJobMessage {
	return &schema.TileJobMessage{
		RunID:         "run_abc",
		ImagerySource: schema.SourceGoogle,
		Lat:           floatPtr(31.5204),
		Lon:           floatPtr(74.3587),
	}
}

func TestClaimJobClaimed(t *testing.T) {
	db := &fakeDynamoDB{
		updateOut: &dynamodb.UpdateItemOutput{
			Attributes: map[string]types.AttributeValue{
				"attempts": &types.AttributeValueMemberN{Value: "1"},
			},
		},
	}
	s := newTestStore(db)

	outcome, err := s.ClaimJob(context.Background(), mapboxMessage(), 900)
	require.NoError(t, err)

	assert.Equal(t, schema.Claimed, outcome.Result)
	assert.Equal(t, "14/4823/6160", outcome.TileID)
	assert.Equal(t, 1, outcome.Attempt)
	assert.Equal(t, int64(1_700_000_000), outcome.ClaimedAtEpoch)
	assert.Nil(t, outcome.Checkpoint)

	require.Len(t, db.updateInputs, 1)
	input := db.updateInputs[0]
	assert.Equal(t, "TileJobs", aws.ToString(input.TableName))
	assert.Equal(t, types.ReturnValueAllNew, input.ReturnValues)

	update := aws.ToString(input.UpdateExpression)
	assert.Contains(t, update, "attempts = if_not_exists(attempts, :zero) + :one")
	assert.Contains(t, update, "lock_until_epoch = :lock")
	assert.Contains(t, update, "z = if_not_exists(z, :z)")
	assert.Contains(t, update, "#region = if_not_exists(#region, :region)")

	cond := aws.ToString(input.ConditionExpression)
	assert.Contains(t, cond, "attribute_not_exists(#status)")
	assert.Contains(t, cond, "#status IN (:pending, :failed)")
	assert.Contains(t, cond, "lock_until_epoch < :now")

	lock := input.ExpressionAttributeValues[":lock"].(*types.AttributeValueMemberN)
	assert.Equal(t, "1700000900", lock.Value)
}

func TestClaimJobGoogleCoordinateFields(t *testing.T) {
	db := &fakeDynamoDB{
		updateOut: &dynamodb.UpdateItemOutput{
			Attributes: map[string]types.AttributeValue{
				"attempts": &types.AttributeValueMemberN{Value: "2"},
			},
		},
	}
	s := newTestStore(db)

	outcome, err := s.ClaimJob(context.Background(), googleMessage(), 900)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Attempt)

	update := aws.ToString(db.updateInputs[0].UpdateExpression)
	assert.Contains(t, update, "lat = if_not_exists(lat, :lat)")
	assert.Contains(t, update, "zoom = if_not_exists(zoom, :zoom)")
	assert.NotContains(t, update, "#region")
}

func TestClaimJobSurfacesCheckpoint(t *testing.T) {
	db := &fakeDynamoDB{
		updateOut: &dynamodb.UpdateItemOutput{
			Attributes: map[string]types.AttributeValue{
				"attempts":  &types.AttributeValueMemberN{Value: "3"},
				"s3_bucket": &types.AttributeValueMemberS{Value: "tiles-bucket"},
				"s3_key":    &types.AttributeValueMemberS{Value: "runs/run_abc/tiles/z=14/x=4823/y=6160.jpg"},
			},
		},
	}
	s := newTestStore(db)

	outcome, err := s.ClaimJob(context.Background(), mapboxMessage(), 900)
	require.NoError(t, err)
	require.NotNil(t, outcome.Checkpoint)
	assert.Equal(t, "tiles-bucket", outcome.Checkpoint.Bucket)
	assert.Equal(t, "runs/run_abc/tiles/z=14/x=4823/y=6160.jpg", outcome.Checkpoint.Key)
}

func TestClaimJobAlreadyCompleted(t *testing.T) {
	db := &fakeDynamoDB{
		updateErr: &types.ConditionalCheckFailedException{},
		getOut: &dynamodb.GetItemOutput{
			Item: map[string]types.AttributeValue{
				"status": &types.AttributeValueMemberS{Value: "COMPLETED"},
			},
		},
	}
	s := newTestStore(db)

	outcome, err := s.ClaimJob(context.Background(), mapboxMessage(), 900)
	require.NoError(t, err)
	assert.Equal(t, schema.AlreadyCompleted, outcome.Result)
}

func TestClaimJobLockedByOther(t *testing.T) {
	db := &fakeDynamoDB{
		updateErr: &types.ConditionalCheckFailedException{},
		getOut: &dynamodb.GetItemOutput{
			Item: map[string]types.AttributeValue{
				"status": &types.AttributeValueMemberS{Value: "PROCESSING"},
			},
		},
	}
	s := newTestStore(db)

	outcome, err := s.ClaimJob(context.Background(), mapboxMessage(), 900)
	require.NoError(t, err)
	assert.Equal(t, schema.LockedByOther, outcome.Result)
}

func TestClaimJobStatusReadFailureFallsBackToLocked(t *testing.T) {
	db := &fakeDynamoDB{
		updateErr: &types.ConditionalCheckFailedException{},
		getErr:    errors.New("throttled"),
	}
	s := newTestStore(db)

	outcome, err := s.ClaimJob(context.Background(), mapboxMessage(), 900)
	require.NoError(t, err)
	assert.Equal(t, schema.LockedByOther, outcome.Result)
}

func TestClaimJobOtherErrors(t *testing.T) {
	db := &fakeDynamoDB{updateErr: errors.New("internal failure")}
	s := newTestStore(db)

	_, err := s.ClaimJob(context.Background(), mapboxMessage(), 900)
	require.Error(t, err)

	var pipeErr *core.PipelineError
	assert.ErrorAs(t, err, &pipeErr)
}

func TestCheckpointS3(t *testing.T) {
	db := &fakeDynamoDB{}
	s := newTestStore(db)

	err := s.CheckpointS3(context.Background(), "run_abc", "14/1/2", "bucket", "key")
	require.NoError(t, err)

	input := db.updateInputs[0]
	assert.Equal(t, "SET s3_bucket = :bucket, s3_key = :key", aws.ToString(input.UpdateExpression))
	assert.Nil(t, input.ConditionExpression)
}

func TestCompleteJobFullRecord(t *testing.T) {
	db := &fakeDynamoDB{}
	s := newTestStore(db)

	err := s.CompleteJob(context.Background(), "run_abc", "14/1/2", CompleteParams{
		S3Bucket:  "bucket",
		S3Key:     "key",
		StatusAI:  "YES",
		Reasoning: "black soot visible",
		Usage: map[string]interface{}{
			"model":        "gpt-5-mini",
			"total_tokens": 321,
		},
		ClaimedAtEpoch: 1_700_000_000 - 42,
	})
	require.NoError(t, err)

	input := db.updateInputs[0]
	update := aws.ToString(input.UpdateExpression)
	assert.Contains(t, update, "status_ai = :status_ai")
	assert.Contains(t, update, "openai_usage = :openai_usage")
	assert.Contains(t, update, "duration_ms = :duration_ms")
	// Terminal writes are unconditional
	assert.Nil(t, input.ConditionExpression)

	duration := input.ExpressionAttributeValues[":duration_ms"].(*types.AttributeValueMemberN)
	assert.Equal(t, "42000", duration.Value)
}

func TestCompleteJobMinimalRecord(t *testing.T) {
	db := &fakeDynamoDB{}
	s := newTestStore(db)

	err := s.CompleteJob(context.Background(), "run_abc", "14/1/2", CompleteParams{
		S3Bucket: "bucket",
		S3Key:    "key",
	})
	require.NoError(t, err)

	update := aws.ToString(db.updateInputs[0].UpdateExpression)
	assert.NotContains(t, update, "status_ai")
	assert.NotContains(t, update, "duration_ms")
}

func TestFailJobTruncatesMessage(t *testing.T) {
	db := &fakeDynamoDB{}
	s := newTestStore(db)

	long := strings.Repeat("x", 900)
	err := s.FailJob(context.Background(), "run_abc", "14/1/2", core.CodeMapbox429, long)
	require.NoError(t, err)

	input := db.updateInputs[0]
	msg := input.ExpressionAttributeValues[":message"].(*types.AttributeValueMemberS)
	assert.Len(t, msg.Value, 500)

	code := input.ExpressionAttributeValues[":code"].(*types.AttributeValueMemberS)
	assert.Equal(t, "MAPBOX_429", code.Value)
	assert.Nil(t, input.ConditionExpression)
}

func TestGetTileJobDecodesItem(t *testing.T) {
	db := &fakeDynamoDB{
		getOut: &dynamodb.GetItemOutput{
			Item: map[string]types.AttributeValue{
				"run_id":   &types.AttributeValueMemberS{Value: "run_abc"},
				"tile_id":  &types.AttributeValueMemberS{Value: "14/4823/6160"},
				"status":   &types.AttributeValueMemberS{Value: "COMPLETED"},
				"attempts": &types.AttributeValueMemberN{Value: "2"},
				"z":        &types.AttributeValueMemberN{Value: "14"},
				"s3_key":   &types.AttributeValueMemberS{Value: "runs/run_abc/tiles/z=14/x=4823/y=6160.jpg"},
			},
		},
	}
	s := newTestStore(db)

	item, err := s.GetTileJob(context.Background(), "run_abc", "14/4823/6160")
	require.NoError(t, err)
	require.NotNil(t, item)

	assert.Equal(t, schema.JobCompleted, item.Status)
	assert.Equal(t, 2, item.Attempts)
	require.NotNil(t, item.Z)
	assert.Equal(t, 14, *item.Z)
	assert.Equal(t, "runs/run_abc/tiles/z=14/x=4823/y=6160.jpg", item.S3Key)
}

func TestGetTileJobMissingItem(t *testing.T) {
	s := newTestStore(&fakeDynamoDB{})

	item, err := s.GetTileJob(context.Background(), "run_abc", "14/1/2")
	require.NoError(t, err)
	assert.Nil(t, item)
}
