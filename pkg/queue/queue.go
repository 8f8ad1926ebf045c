package queue

import (
	"container/heap"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"photoyarn/pkg/domain"
)

// CleanupQueue orders cleanup tasks by due time. Push may be called from
// request goroutines while the scheduler drains with PopDue.
type CleanupQueue interface {
	Push(ctx context.Context, task domain.CleanupTask) error
	// PopDue removes and returns every task with DueAt <= now, earliest first.
	// Returned tasks are in the due state.
	PopDue(ctx context.Context, now time.Time) ([]domain.CleanupTask, error)
	Len(ctx context.Context) (int, error)
}

var errStoryIDRequired = errors.New("storyId required")

// MemoryQueue is a mutex-guarded min-heap keyed on DueAt.
type MemoryQueue struct {
	mu    sync.Mutex
	tasks taskHeap
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, task domain.CleanupTask) error {
	if strings.TrimSpace(task.StoryID) == "" {
		return errStoryIDRequired
	}
	task.State = domain.TaskScheduled
	q.mu.Lock()
	heap.Push(&q.tasks, task)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) PopDue(_ context.Context, now time.Time) ([]domain.CleanupTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []domain.CleanupTask
	for q.tasks.Len() > 0 && !q.tasks[0].DueAt.After(now) {
		task := heap.Pop(&q.tasks).(domain.CleanupTask)
		task.State = domain.TaskDue
		due = append(due, task)
	}
	return due, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len(), nil
}

type taskHeap []domain.CleanupTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].DueAt.Equal(h[j].DueAt) {
		return h[i].StoryID < h[j].StoryID
	}
	return h[i].DueAt.Before(h[j].DueAt)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(domain.CleanupTask)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
