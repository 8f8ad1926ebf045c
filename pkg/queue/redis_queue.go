package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"photoyarn/pkg/domain"
)

// popDueScript removes up to ARGV[2] members scored <= ARGV[1] in one step so
// two scheduler instances never receive the same task.
var popDueScript = redis.NewScript(`
local items = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "WITHSCORES", "LIMIT", 0, tonumber(ARGV[2]))
for i = 1, #items, 2 do
  redis.call("ZREM", KEYS[1], items[i])
end
return items
`)

// RedisCleanupQueue keeps cleanup tasks in a sorted set scored by due time in
// milliseconds. Pending tasks survive process restarts.
type RedisCleanupQueue struct {
	client    *redis.Client
	key       string
	batchSize int
}

type RedisQueueConfig struct {
	Addr      string
	Password  string
	Key       string
	BatchSize int
}

func NewRedisCleanupQueue(cfg RedisQueueConfig) (*RedisCleanupQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = "photoyarn:cleanup"
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &RedisCleanupQueue{
		client:    redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		key:       key,
		batchSize: batch,
	}, nil
}

func (q *RedisCleanupQueue) Push(ctx context.Context, task domain.CleanupTask) error {
	storyID := strings.TrimSpace(task.StoryID)
	if storyID == "" {
		return errStoryIDRequired
	}
	if err := q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(task.DueAt.UnixMilli()),
		Member: storyID,
	}).Err(); err != nil {
		return fmt.Errorf("push cleanup task: %w", err)
	}
	return nil
}

func (q *RedisCleanupQueue) PopDue(ctx context.Context, now time.Time) ([]domain.CleanupTask, error) {
	var due []domain.CleanupTask
	for {
		res, err := popDueScript.Run(ctx, q.client, []string{q.key}, now.UnixMilli(), q.batchSize).Result()
		if err != nil && err != redis.Nil {
			return due, fmt.Errorf("pop due cleanup tasks: %w", err)
		}
		items, _ := res.([]any)
		batch, err := decodeScored(items)
		if err != nil {
			return due, err
		}
		due = append(due, batch...)
		if len(batch) < q.batchSize {
			return due, nil
		}
	}
}

func (q *RedisCleanupQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close releases the underlying Redis connection pool.
func (q *RedisCleanupQueue) Close() error {
	return q.client.Close()
}

func decodeScored(items []any) ([]domain.CleanupTask, error) {
	tasks := make([]domain.CleanupTask, 0, len(items)/2)
	for i := 0; i+1 < len(items); i += 2 {
		member, _ := items[i].(string)
		rawScore, _ := items[i+1].(string)
		score, err := strconv.ParseFloat(rawScore, 64)
		if err != nil {
			return tasks, fmt.Errorf("decode cleanup score %q: %w", rawScore, err)
		}
		tasks = append(tasks, domain.CleanupTask{
			StoryID: member,
			DueAt:   time.UnixMilli(int64(math.Round(score))).UTC(),
			State:   domain.TaskDue,
		})
	}
	return tasks, nil
}
