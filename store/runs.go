package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/schema"
)

func epochNow() int64 {
	return time.Now().Unix()
}

// RunCounters is the post-image of a counter update.
type RunCounters struct {
	Completed int64
	Failed    int64
}

// CreateRun creates the run row, conditional on the run not existing.
// Returns core.ErrRunAlreadyExists when the row is already present.
func (s *Store) CreateRun(ctx context.Context, runID, sourceBucket, sourceKey string, totalTiles int64, status schema.RunStatus) error {
	createdAt := s.now()
	item := map[string]types.AttributeValue{
		"run_id":           &types.AttributeValueMemberS{Value: runID},
		"status":           &types.AttributeValueMemberS{Value: string(status)},
		"total_tiles":      &types.AttributeValueMemberN{Value: strconv.FormatInt(totalTiles, 10)},
		"completed_tiles":  &types.AttributeValueMemberN{Value: "0"},
		"failed_tiles":     &types.AttributeValueMemberN{Value: "0"},
		"source_bucket":    &types.AttributeValueMemberS{Value: sourceBucket},
		"source_key":       &types.AttributeValueMemberS{Value: sourceKey},
		"created_at_epoch": &types.AttributeValueMemberN{Value: strconv.FormatInt(createdAt, 10)},
	}

	_, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.runsTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(run_id)"),
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return fmt.Errorf("%w: %s", core.ErrRunAlreadyExists, runID)
		}
		return core.NewPipelineError("store.CreateRun", "store", err)
	}
	return nil
}

// SafeCreateRun creates the run if absent. Returns false without error
// when the run already exists, making repeated ingest invocations
// idempotent.
func (s *Store) SafeCreateRun(ctx context.Context, runID, sourceBucket, sourceKey string, totalTiles int64, status schema.RunStatus) (bool, error) {
	err := s.CreateRun(ctx, runID, sourceBucket, sourceKey, totalTiles, status)
	if err != nil {
		if errors.Is(err, core.ErrRunAlreadyExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UpdateRunCounters applies atomic increments to the run's completion
// counters. Zero deltas are a no-op. Returns the post-image counters.
func (s *Store) UpdateRunCounters(ctx context.Context, runID string, completedDelta, failedDelta int64) (*RunCounters, error) {
	if completedDelta == 0 && failedDelta == 0 {
		return nil, nil
	}

	out, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.runsTable),
		Key:              map[string]types.AttributeValue{"run_id": &types.AttributeValueMemberS{Value: runID}},
		UpdateExpression: aws.String("ADD completed_tiles :c, failed_tiles :f"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberN{Value: strconv.FormatInt(completedDelta, 10)},
			":f": &types.AttributeValueMemberN{Value: strconv.FormatInt(failedDelta, 10)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return nil, core.NewPipelineError("store.UpdateRunCounters", "store", err)
	}

	counters := &RunCounters{}
	counters.Completed = numberAttr(out.Attributes, "completed_tiles")
	counters.Failed = numberAttr(out.Attributes, "failed_tiles")
	return counters, nil
}

// SetRunStatus updates the run status, optionally recording the finish
// time. "status" is a DynamoDB reserved word and is routed through an
// expression attribute name.
func (s *Store) SetRunStatus(ctx context.Context, runID string, status schema.RunStatus, finishedAtEpoch int64) error {
	updateExpr := "SET #status = :status"
	values := map[string]types.AttributeValue{
		":status": &types.AttributeValueMemberS{Value: string(status)},
	}
	if finishedAtEpoch > 0 {
		updateExpr += ", finished_at_epoch = :finished"
		values[":finished"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(finishedAtEpoch, 10)}
	}

	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.runsTable),
		Key:                       map[string]types.AttributeValue{"run_id": &types.AttributeValueMemberS{Value: runID}},
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return core.NewPipelineError("store.SetRunStatus", "store", err)
	}
	return nil
}

// SetTotalTiles finalizes the run's tile count once ingestion has sent
// the last batch.
func (s *Store) SetTotalTiles(ctx context.Context, runID string, totalTiles int64) error {
	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.runsTable),
		Key:              map[string]types.AttributeValue{"run_id": &types.AttributeValueMemberS{Value: runID}},
		UpdateExpression: aws.String("SET total_tiles = :total"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":total": &types.AttributeValueMemberN{Value: strconv.FormatInt(totalTiles, 10)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return core.NewPipelineError("store.SetTotalTiles", "store", err)
	}
	return nil
}

// numberAttr reads an N attribute as int64, returning 0 when absent or
// malformed.
func numberAttr(attrs map[string]types.AttributeValue, name string) int64 {
	if attrs == nil {
		return 0
	}
	n, ok := attrs[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
