// Package secrets provides a TTL-cached view of the pipeline's Secrets
// Manager secret (upstream API keys).
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// DefaultTTL is how long a fetched secret stays cached in-process.
const DefaultTTL = 900 * time.Second

// SecretsManagerAPI is the subset of the Secrets Manager client we use.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type cacheEntry struct {
	expires time.Time
	values  map[string]string
}

// Cache caches JSON secrets by id with a TTL. Safe for concurrent use.
type Cache struct {
	api SecretsManagerAPI
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry

	now func() time.Time
}

// NewCache creates a secret cache with the default 900s TTL.
func NewCache(api SecretsManagerAPI) *Cache {
	return &Cache{
		api:     api,
		ttl:     DefaultTTL,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// GetSecretJSON fetches the secret as a flat string map, serving from
// cache while the TTL holds.
func (c *Cache) GetSecretJSON(ctx context.Context, secretID string) (map[string]string, error) {
	c.mu.Lock()
	if entry, ok := c.entries[secretID]; ok && entry.expires.After(c.now()) {
		values := entry.values
		c.mu.Unlock()
		return values, nil
	}
	c.mu.Unlock()

	out, err := c.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", secretID, err)
	}

	values, err := parseSecret(out)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[secretID] = cacheEntry{expires: c.now().Add(c.ttl), values: values}
	c.mu.Unlock()

	return values, nil
}

func parseSecret(out *secretsmanager.GetSecretValueOutput) (map[string]string, error) {
	var raw []byte
	switch {
	case out.SecretString != nil && *out.SecretString != "":
		raw = []byte(*out.SecretString)
	case len(out.SecretBinary) > 0:
		// The SDK has already base64-decoded SecretBinary
		raw = out.SecretBinary
	default:
		return nil, fmt.Errorf("secret has no SecretString or SecretBinary")
	}

	var values map[string]string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse secret JSON: %w", err)
	}
	return values, nil
}
