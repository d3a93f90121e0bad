package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"github.com/SEK-11/OCR/internal/extract"
)

// ExtractionCache stores extraction results keyed by a content fingerprint
// so a re-uploaded file skips OCR.
type ExtractionCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewExtractionCache(client *redisv9.Client, ttl time.Duration) *ExtractionCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ExtractionCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *ExtractionCache) Get(ctx context.Context, fingerprint string) (*extract.Result, bool, error) {
	raw, err := c.client.Get(ctx, c.resultKey(fingerprint)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get extraction failed: %w", err)
	}

	var res extract.Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached extraction failed: %w", err)
	}
	return &res, true, nil
}

func (c *ExtractionCache) Set(ctx context.Context, fingerprint string, res *extract.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal extraction cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.resultKey(fingerprint), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set extraction failed: %w", err)
	}
	return nil
}

func (c *ExtractionCache) Delete(ctx context.Context, fingerprint string) error {
	if err := c.client.Del(ctx, c.resultKey(fingerprint)).Err(); err != nil {
		return fmt.Errorf("redis delete extraction failed: %w", err)
	}
	return nil
}

func (c *ExtractionCache) resultKey(fingerprint string) string {
	return fmt.Sprintf("extract:result:%s", fingerprint)
}

// Fingerprint hashes the file at path with BLAKE2b-256. The file type is
// mixed in so the same bytes uploaded under another extension do not
// collide.
func Fingerprint(path, fileType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for fingerprint failed: %w", err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("init blake2b failed: %w", err)
	}
	if _, err := io.WriteString(h, fileType+":"); err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file failed: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
