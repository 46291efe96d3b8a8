package store

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/schema"
)

func TestCreateRun(t *testing.T) {
	db := &fakeDynamoDB{}
	s := newTestStore(db)

	err := s.CreateRun(context.Background(), "run_abc", "bucket", "manifest.csv", 0, schema.RunRunning)
	require.NoError(t, err)

	input := db.putInputs[0]
	assert.Equal(t, "Runs", aws.ToString(input.TableName))
	assert.Equal(t, "attribute_not_exists(run_id)", aws.ToString(input.ConditionExpression))

	total := input.Item["total_tiles"].(*types.AttributeValueMemberN)
	assert.Equal(t, "0", total.Value)
	completed := input.Item["completed_tiles"].(*types.AttributeValueMemberN)
	assert.Equal(t, "0", completed.Value)
}

func TestCreateRunAlreadyExists(t *testing.T) {
	db := &fakeDynamoDB{putErr: &types.ConditionalCheckFailedException{}}
	s := newTestStore(db)

	err := s.CreateRun(context.Background(), "run_abc", "bucket", "manifest.csv", 0, schema.RunRunning)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRunAlreadyExists)
}

func TestSafeCreateRunIdempotent(t *testing.T) {
	db := &fakeDynamoDB{putErr: &types.ConditionalCheckFailedException{}}
	s := newTestStore(db)

	created, err := s.SafeCreateRun(context.Background(), "run_abc", "bucket", "manifest.csv", 0, schema.RunRunning)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestUpdateRunCountersZeroDeltaNoOp(t *testing.T) {
	db := &fakeDynamoDB{}
	s := newTestStore(db)

	counters, err := s.UpdateRunCounters(context.Background(), "run_abc", 0, 0)
	require.NoError(t, err)
	assert.Nil(t, counters)
	assert.Empty(t, db.updateInputs)
}

func TestUpdateRunCountersReturnsPostImage(t *testing.T) {
	db := &fakeDynamoDB{
		updateOut: &dynamodb.UpdateItemOutput{
			Attributes: map[string]types.AttributeValue{
				"completed_tiles": &types.AttributeValueMemberN{Value: "7"},
				"failed_tiles":    &types.AttributeValueMemberN{Value: "2"},
			},
		},
	}
	s := newTestStore(db)

	counters, err := s.UpdateRunCounters(context.Background(), "run_abc", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), counters.Completed)
	assert.Equal(t, int64(2), counters.Failed)

	input := db.updateInputs[0]
	assert.Equal(t, "ADD completed_tiles :c, failed_tiles :f", aws.ToString(input.UpdateExpression))
}

func TestSetRunStatusWithFinishTime(t *testing.T) {
	db := &fakeDynamoDB{}
	s := newTestStore(db)

	err := s.SetRunStatus(context.Background(), "run_abc", schema.RunCompleted, 1_700_000_100)
	require.NoError(t, err)

	input := db.updateInputs[0]
	update := aws.ToString(input.UpdateExpression)
	assert.Contains(t, update, "#status = :status")
	assert.Contains(t, update, "finished_at_epoch = :finished")
	assert.Equal(t, "status", input.ExpressionAttributeNames["#status"])
}

func TestSetTotalTiles(t *testing.T) {
	db := &fakeDynamoDB{}
	s := newTestStore(db)

	err := s.SetTotalTiles(context.Background(), "run_abc", 1500)
	require.NoError(t, err)

	input := db.updateInputs[0]
	total := input.ExpressionAttributeValues[":total"].(*types.AttributeValueMemberN)
	assert.Equal(t, "1500", total.Value)
}
