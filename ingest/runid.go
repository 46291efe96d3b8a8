// Package ingest turns a CSV manifest into a run: a deterministic run
// id, a stream of tile job messages, and batched queue sends.
package ingest

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// ComputeRunID derives the deterministic run id for a manifest object.
// The same bucket, key, and etag always produce the same run, which is
// what makes re-running ingestion idempotent.
func ComputeRunID(bucket, key, etag string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s:%s:%s", bucket, key, etag)))
	return "run_" + hex.EncodeToString(sum[:])[:12]
}
