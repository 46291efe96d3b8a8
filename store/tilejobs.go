package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/schema"
)

// maxErrorMessageBytes caps error_message stored on failed jobs.
const maxErrorMessageBytes = 500

func jobKey(runID, tileID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"run_id":  &types.AttributeValueMemberS{Value: runID},
		"tile_id": &types.AttributeValueMemberS{Value: tileID},
	}
}

// ClaimJob attempts to claim a job for processing with a conditional
// update. A single write proves the claim, advances attempts, installs a
// fresh lock lease, lazily persists the coordinate fields, and records
// timestamps.
//
// The claim succeeds when the item does not exist, when status is PENDING
// or FAILED, or when status is PROCESSING with a missing or expired lock.
//
// Callers act on the outcome:
//   - Claimed: proceed with processing
//   - AlreadyCompleted: ack the message, skip processing
//   - LockedByOther: let the queue redeliver later
func (s *Store) ClaimJob(ctx context.Context, message *schema.TileJobMessage, lockSeconds int64) (*schema.ClaimOutcome, error) {
	now := s.now()
	tileID := message.TileID()
	lockUntil := now + lockSeconds

	exprNames := map[string]string{"#status": "status"}
	exprValues := map[string]types.AttributeValue{
		":processing":   &types.AttributeValueMemberS{Value: string(schema.JobProcessing)},
		":pending":      &types.AttributeValueMemberS{Value: string(schema.JobPending)},
		":failed":       &types.AttributeValueMemberS{Value: string(schema.JobFailed)},
		":now":          &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
		":lock":         &types.AttributeValueMemberN{Value: strconv.FormatInt(lockUntil, 10)},
		":one":          &types.AttributeValueMemberN{Value: "1"},
		":zero":         &types.AttributeValueMemberN{Value: "0"},
		":source":       &types.AttributeValueMemberS{Value: string(message.ImagerySource)},
		":last_claimed": &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
	}

	updateExpr := "SET #status = :processing, " +
		"attempts = if_not_exists(attempts, :zero) + :one, " +
		"lock_until_epoch = :lock, " +
		"started_at_epoch = if_not_exists(started_at_epoch, :now), " +
		"last_claimed_at_epoch = :last_claimed, " +
		"imagery_source = if_not_exists(imagery_source, :source)"

	// Coordinate fields are written only on first claim so a later
	// redelivery cannot rewrite the normalization chosen originally.
	if message.ImagerySource == schema.SourceMapbox {
		exprValues[":z"] = &types.AttributeValueMemberN{Value: strconv.Itoa(*message.Z)}
		exprValues[":x"] = &types.AttributeValueMemberN{Value: strconv.Itoa(*message.X)}
		exprValues[":y"] = &types.AttributeValueMemberN{Value: strconv.Itoa(*message.Y)}
		updateExpr += ", z = if_not_exists(z, :z), x = if_not_exists(x, :x), y = if_not_exists(y, :y)"
		if message.Region != "" {
			// "region" is a DynamoDB reserved keyword; alias it.
			exprNames["#region"] = "region"
			exprValues[":region"] = &types.AttributeValueMemberS{Value: message.Region}
			updateExpr += ", #region = if_not_exists(#region, :region)"
		}
	} else {
		exprValues[":lat"] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(*message.Lat, 'f', -1, 64)}
		exprValues[":lon"] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(*message.Lon, 'f', -1, 64)}
		exprValues[":zoom"] = &types.AttributeValueMemberN{Value: strconv.Itoa(message.EffectiveZoom())}
		updateExpr += ", lat = if_not_exists(lat, :lat), " +
			"lon = if_not_exists(lon, :lon), " +
			"zoom = if_not_exists(zoom, :zoom)"
	}

	// Claimable when: item absent, status PENDING/FAILED, or PROCESSING
	// with a stale (expired or missing) lock.
	conditionExpr := "attribute_not_exists(#status) OR " +
		"#status IN (:pending, :failed) OR " +
		"(#status = :processing AND (" +
		"attribute_not_exists(lock_until_epoch) OR lock_until_epoch < :now))"

	out, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.jobsTable),
		Key:                       jobKey(message.RunID, tileID),
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprValues,
		ConditionExpression:       aws.String(conditionExpr),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			currentStatus := s.getJobStatus(ctx, message.RunID, tileID)
			result := schema.LockedByOther
			if currentStatus == schema.JobCompleted {
				result = schema.AlreadyCompleted
			}
			return &schema.ClaimOutcome{Result: result, TileID: tileID}, nil
		}
		return nil, core.NewPipelineError("store.ClaimJob", "store", err)
	}

	outcome := &schema.ClaimOutcome{
		Result:         schema.Claimed,
		TileID:         tileID,
		Attempt:        int(numberAttr(out.Attributes, "attempts")),
		ClaimedAtEpoch: now,
	}

	// Surface an existing checkpoint so the processor can skip the
	// upstream fetch on retries past the upload step.
	bucket := stringAttr(out.Attributes, "s3_bucket")
	key := stringAttr(out.Attributes, "s3_key")
	if bucket != "" && key != "" {
		outcome.Checkpoint = &schema.S3Checkpoint{Bucket: bucket, Key: key}
	}

	return outcome, nil
}

// getJobStatus fetches the current job status after a failed claim
// condition; returns empty on any error so the claim resolves to
// LockedByOther and the queue drives a retry.
func (s *Store) getJobStatus(ctx context.Context, runID, tileID string) schema.JobStatus {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(s.jobsTable),
		Key:                      jobKey(runID, tileID),
		ProjectionExpression:     aws.String("#status"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
	})
	if err != nil || out.Item == nil {
		return ""
	}
	return schema.JobStatus(stringAttr(out.Item, "status"))
}

// CheckpointS3 records the S3 location of uploaded imagery. Called after
// the upload and before the vision call so a retry can download instead
// of re-fetching from the upstream provider.
func (s *Store) CheckpointS3(ctx context.Context, runID, tileID, bucket, key string) error {
	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.jobsTable),
		Key:              jobKey(runID, tileID),
		UpdateExpression: aws.String("SET s3_bucket = :bucket, s3_key = :key"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":bucket": &types.AttributeValueMemberS{Value: bucket},
			":key":    &types.AttributeValueMemberS{Value: key},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return core.NewPipelineError("store.CheckpointS3", "store", err)
	}
	return nil
}

// CompleteParams carries the terminal fields written by CompleteJob.
type CompleteParams struct {
	S3Bucket  string
	S3Key     string
	StatusAI  string
	Reasoning string
	// Usage is the opaque vision-model usage payload; structure is
	// preserved but not schema-enforced.
	Usage          map[string]interface{}
	ClaimedAtEpoch int64
}

// CompleteJob writes the terminal COMPLETED state. The write is
// unconditional: a worker that reaches this point installs the terminal
// record even if its lease has lapsed.
func (s *Store) CompleteJob(ctx context.Context, runID, tileID string, p CompleteParams) error {
	finished := s.now()

	updateExpr := "SET #status = :status, finished_at_epoch = :finished, " +
		"s3_bucket = :bucket, s3_key = :key"
	values := map[string]types.AttributeValue{
		":status":   &types.AttributeValueMemberS{Value: string(schema.JobCompleted)},
		":finished": &types.AttributeValueMemberN{Value: strconv.FormatInt(finished, 10)},
		":bucket":   &types.AttributeValueMemberS{Value: p.S3Bucket},
		":key":      &types.AttributeValueMemberS{Value: p.S3Key},
	}

	if p.StatusAI != "" {
		values[":status_ai"] = &types.AttributeValueMemberS{Value: p.StatusAI}
		updateExpr += ", status_ai = :status_ai"
	}
	if p.Reasoning != "" {
		values[":reasoning"] = &types.AttributeValueMemberS{Value: p.Reasoning}
		updateExpr += ", reasoning = :reasoning"
	}
	if p.Usage != nil {
		usageAttr, err := attributevalue.Marshal(p.Usage)
		if err != nil {
			return core.NewPipelineError("store.CompleteJob", "store", err)
		}
		values[":openai_usage"] = usageAttr
		updateExpr += ", openai_usage = :openai_usage"
	}
	if p.ClaimedAtEpoch > 0 {
		durationMS := (finished - p.ClaimedAtEpoch) * 1000
		values[":duration_ms"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(durationMS, 10)}
		updateExpr += ", duration_ms = :duration_ms"
	}

	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.jobsTable),
		Key:                       jobKey(runID, tileID),
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return core.NewPipelineError("store.CompleteJob", "store", err)
	}
	return nil
}

// FailJob writes the terminal FAILED state with the closed-set error code.
// The error message is truncated to 500 bytes.
func (s *Store) FailJob(ctx context.Context, runID, tileID string, errorCode core.ErrorCode, errorMessage string) error {
	finished := s.now()
	if len(errorMessage) > maxErrorMessageBytes {
		errorMessage = errorMessage[:maxErrorMessageBytes]
	}

	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.jobsTable),
		Key:       jobKey(runID, tileID),
		UpdateExpression: aws.String("SET #status = :status, finished_at_epoch = :finished, " +
			"error_code = :code, error_message = :message"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":   &types.AttributeValueMemberS{Value: string(schema.JobFailed)},
			":finished": &types.AttributeValueMemberN{Value: strconv.FormatInt(finished, 10)},
			":code":     &types.AttributeValueMemberS{Value: string(errorCode)},
			":message":  &types.AttributeValueMemberS{Value: errorMessage},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return core.NewPipelineError("store.FailJob", "store", err)
	}
	return nil
}

// GetTileJob reads a tile job row, decoding native numeric types
// losslessly. Returns nil when the item does not exist.
func (s *Store) GetTileJob(ctx context.Context, runID, tileID string) (*schema.TileJobItem, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.jobsTable),
		Key:       jobKey(runID, tileID),
	})
	if err != nil {
		return nil, core.NewPipelineError("store.GetTileJob", "store", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var item schema.TileJobItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, core.NewPipelineError("store.GetTileJob", "store", err)
	}
	return &item, nil
}

func stringAttr(attrs map[string]types.AttributeValue, name string) string {
	if attrs == nil {
		return ""
	}
	sv, ok := attrs[name].(*types.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return sv.Value
}
