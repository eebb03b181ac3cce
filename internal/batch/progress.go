package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// progressTTL keeps finished-job progress around long enough for the UI to
// pick up the final state before the key expires.
const progressTTL = 24 * time.Hour

// Progress is the chunk-level state of a running import.
type Progress struct {
	ProcessedRows int `json:"processedRows"`
	TotalRows     int `json:"totalRows"`
}

// RedisProgress stores per-job progress in redis for polling callers.
type RedisProgress struct {
	rdb *redis.Client
}

func NewRedisProgress(redisURL string) (*RedisProgress, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisProgress{rdb: redis.NewClient(opt)}, nil
}

// NewRedisProgressFromClient wraps an existing client. Used by tests.
func NewRedisProgressFromClient(rdb *redis.Client) *RedisProgress {
	return &RedisProgress{rdb: rdb}
}

func (p *RedisProgress) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}

func progressKey(jobID uuid.UUID) string {
	return "imports:progress:" + jobID.String()
}

// SetProgress records how far a job has come.
func (p *RedisProgress) SetProgress(ctx context.Context, jobID uuid.UUID, processedRows, totalRows int) error {
	key := progressKey(jobID)
	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, key, "processed", processedRows, "total", totalRows)
	pipe.Expire(ctx, key, progressTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetProgress returns the recorded progress of a job. A job with no
// recorded progress yet reads as zero over zero, not as an error.
func (p *RedisProgress) GetProgress(ctx context.Context, jobID uuid.UUID) (Progress, error) {
	values, err := p.rdb.HGetAll(ctx, progressKey(jobID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Progress{}, err
	}

	var progress Progress
	if raw, ok := values["processed"]; ok {
		if _, err := fmt.Sscanf(raw, "%d", &progress.ProcessedRows); err != nil {
			return Progress{}, err
		}
	}
	if raw, ok := values["total"]; ok {
		if _, err := fmt.Sscanf(raw, "%d", &progress.TotalRows); err != nil {
			return Progress{}, err
		}
	}
	return progress, nil
}
