// Command startrun ingests a CSV manifest from S3 and starts a run:
// it creates the run row, enqueues one tile job per manifest row, and
// finalizes the run's tile count.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/awsclients"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/ingest"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/schema"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "startrun: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		bucket    = flag.String("bucket", "", "S3 bucket holding the manifest (defaults to S3_BUCKET)")
		key       = flag.String("key", "", "S3 key of the CSV manifest (required)")
		runID     = flag.String("run-id", "", "override the derived run id")
		sourceArg = flag.String("source", "", "imagery source hint for headerless manifests (mapbox|google)")
		dryRun    = flag.Bool("dry-run", false, "parse the manifest and print the summary without writing anything")
	)
	flag.Parse()

	if *key == "" {
		return fmt.Errorf("--key is required")
	}
	var hint schema.ImagerySource
	switch *sourceArg {
	case "":
	case string(schema.SourceMapbox):
		hint = schema.SourceMapbox
	case string(schema.SourceGoogle):
		hint = schema.SourceGoogle
	default:
		return fmt.Errorf("--source must be mapbox or google, got %q", *sourceArg)
	}

	cfg, err := core.LoadIngestionConfig()
	if err != nil {
		return err
	}
	if *bucket == "" {
		*bucket = cfg.S3Bucket
	}

	logger := core.NewPipelineLogger("startrun")
	ctx := context.Background()
	start := time.Now()

	s3Client, err := awsclients.NewS3(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}

	obj, err := s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(*bucket),
		Key:    aws.String(*key),
	})
	if err != nil {
		return fmt.Errorf("get manifest s3://%s/%s: %w", *bucket, *key, err)
	}
	body, err := io.ReadAll(obj.Body)
	_ = obj.Body.Close()
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	id := *runID
	if id == "" {
		etag := strings.Trim(aws.ToString(obj.ETag), `"`)
		id = ingest.ComputeRunID(*bucket, *key, etag)
	}

	manifest, err := ingest.ParseManifest(strings.NewReader(string(body)), id,
		schema.SourceRef{Bucket: *bucket, Key: *key}, hint)
	if err != nil {
		return err
	}
	total := int64(len(manifest.Messages))

	logger.Info("Manifest parsed", map[string]interface{}{
		"operation": "start_run",
		"run_id":    id,
		"source":    string(manifest.Source),
		"total":     total,
	})

	if *dryRun {
		fmt.Printf("run_id=%s source=%s total=%d elapsed=%.1fs (dry run)\n",
			id, manifest.Source, total, time.Since(start).Seconds())
		return nil
	}

	db, err := awsclients.NewDynamoDB(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}
	sqsClient, err := awsclients.NewSQS(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}

	st := store.New(db, cfg.RunsTable, cfg.TileJobsTable, logger)

	// total_tiles starts at zero and is finalized after the last batch;
	// readers must treat a zero total as "ingestion in progress".
	created, err := st.SafeCreateRun(ctx, id, *bucket, *key, 0, schema.RunRunning)
	if err != nil {
		return err
	}
	if !created {
		logger.Info("Run already exists, re-enqueueing", map[string]interface{}{
			"operation": "start_run",
			"run_id":    id,
		})
	}

	sender := ingest.NewSender(sqsClient, cfg.TileJobsQueueURL, logger)
	sent, err := sender.SendAll(ctx, manifest.Messages)
	if err != nil {
		return fmt.Errorf("enqueued %d of %d messages: %w", sent, total, err)
	}

	if err := st.SetTotalTiles(ctx, id, total); err != nil {
		return err
	}

	fmt.Printf("run_id=%s source=%s total=%d elapsed=%.1fs\n",
		id, manifest.Source, total, time.Since(start).Seconds())
	return nil
}
