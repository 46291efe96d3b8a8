// Package store implements the typed state store adapter over the Runs
// and TileJobs DynamoDB tables. Every lifecycle transition is a single
// UpdateItem or PutItem; the claim path uses a conditional update so that
// at most one worker holds an unexpired lease per tile.
package store

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the adapter.
// Tests substitute a fake; production passes *dynamodb.Client.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Store provides typed operations over the two pipeline tables.
type Store struct {
	db        DynamoDBAPI
	runsTable string
	jobsTable string
	logger    core.Logger

	// now is injectable for deterministic tests
	now func() int64
}

// New creates a Store over the given client and table names.
func New(db DynamoDBAPI, runsTable, jobsTable string, logger core.Logger) *Store {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Store{
		db:        db,
		runsTable: runsTable,
		jobsTable: jobsTable,
		logger:    logger,
		now:       epochNow,
	}
}
