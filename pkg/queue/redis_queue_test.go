package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"photoyarn/pkg/domain"
)

func exerciseQueue(t *testing.T, q CleanupQueue) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	for _, task := range []domain.CleanupTask{
		{StoryID: "late", DueAt: base.Add(3 * time.Hour)},
		{StoryID: "early", DueAt: base.Add(time.Hour)},
		{StoryID: "middle", DueAt: base.Add(2 * time.Hour)},
	} {
		if err := q.Push(ctx, task); err != nil {
			t.Fatalf("push %s: %v", task.StoryID, err)
		}
	}

	due, err := q.PopDue(ctx, base)
	if err != nil {
		t.Fatalf("pop due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected nothing due yet, got %+v", due)
	}

	due, err = q.PopDue(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("pop due: %v", err)
	}
	if len(due) != 2 || due[0].StoryID != "early" || due[1].StoryID != "middle" {
		t.Fatalf("unexpected due tasks: %+v", due)
	}
	for _, task := range due {
		if task.State != domain.TaskDue {
			t.Fatalf("task %s state = %s, want due", task.StoryID, task.State)
		}
	}
	if !due[0].DueAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("due_at = %v", due[0].DueAt)
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 1 {
		t.Fatalf("len = %d, want 1", n)
	}

	if err := q.Push(ctx, domain.CleanupTask{StoryID: " "}); err == nil {
		t.Fatalf("expected empty story id to be rejected")
	}
}

func TestMemoryQueue(t *testing.T) {
	exerciseQueue(t, NewMemoryQueue())
}

func TestMemoryQueueConcurrentPush(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Push(ctx, domain.CleanupTask{StoryID: string(rune('a' + i%26)), DueAt: now.Add(-time.Duration(i) * time.Second)})
		}(i)
	}
	wg.Wait()
	due, err := q.PopDue(ctx, now)
	if err != nil {
		t.Fatalf("pop due: %v", err)
	}
	if len(due) != 50 {
		t.Fatalf("due = %d, want 50", len(due))
	}
	for i := 1; i < len(due); i++ {
		if due[i].DueAt.Before(due[i-1].DueAt) {
			t.Fatalf("tasks out of order at %d", i)
		}
	}
}

func newTestRedisQueue(t *testing.T, batch int) *RedisCleanupQueue {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	q, err := NewRedisCleanupQueue(RedisQueueConfig{
		Addr:      redisSrv.Addr(),
		Key:       "test:cleanup",
		BatchSize: batch,
	})
	if err != nil {
		t.Fatalf("new redis queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestRedisCleanupQueue(t *testing.T) {
	exerciseQueue(t, newTestRedisQueue(t, 10))
}

func TestRedisCleanupQueueDrainsAcrossBatches(t *testing.T) {
	q := newTestRedisQueue(t, 2)
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if err := q.Push(ctx, domain.CleanupTask{StoryID: id, DueAt: now.Add(-time.Minute)}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	due, err := q.PopDue(ctx, now)
	if err != nil {
		t.Fatalf("pop due: %v", err)
	}
	if len(due) != 5 {
		t.Fatalf("due = %d, want 5", len(due))
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("queue should be empty, len = %d", n)
	}
}

func TestNewRedisCleanupQueueRequiresAddr(t *testing.T) {
	if _, err := NewRedisCleanupQueue(RedisQueueConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
