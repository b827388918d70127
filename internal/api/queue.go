package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PendingUpload is a failed fire-and-forget upload held for replay.
type PendingUpload struct {
	Endpoint   string
	Body       []byte
	Headers    map[string]string
	EnqueuedAt time.Time
}

// Poster replays one upload. *Client satisfies it.
type Poster interface {
	Post(ctx context.Context, endpoint string, body []byte, headers map[string]string) error
}

// UploadQueue holds failed uploads until a drain trigger (app foreground,
// connectivity restored). Replay order is not guaranteed.
type UploadQueue struct {
	poster Poster
	log    *zap.Logger

	mu    sync.Mutex
	items []PendingUpload
}

func NewUploadQueue(p Poster, log *zap.Logger) *UploadQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &UploadQueue{poster: p, log: log}
}

func (q *UploadQueue) Enqueue(u PendingUpload) {
	if u.EnqueuedAt.IsZero() {
		u.EnqueuedAt = time.Now()
	}
	q.mu.Lock()
	q.items = append(q.items, u)
	q.mu.Unlock()
}

func (q *UploadQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *UploadQueue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Drain retries every queued upload once. Successes are removed; failures
// are re-enqueued at the tail so one bad entry cannot block the rest.
func (q *UploadQueue) Drain(ctx context.Context) (succeeded, failed int) {
	q.mu.Lock()
	batch := q.items
	q.items = nil
	q.mu.Unlock()

	for _, u := range batch {
		if err := ctx.Err(); err != nil {
			q.mu.Lock()
			q.items = append(q.items, batch[succeeded+failed:]...)
			q.mu.Unlock()
			return succeeded, failed
		}
		if err := q.poster.Post(ctx, u.Endpoint, u.Body, u.Headers); err != nil {
			q.log.Warn("upload replay failed", zap.String("endpoint", u.Endpoint), zap.Error(err))
			q.mu.Lock()
			q.items = append(q.items, u)
			q.mu.Unlock()
			failed++
			continue
		}
		succeeded++
	}
	return succeeded, failed
}

// LocationReporter posts periodic locations and parks failures in the queue.
type LocationReporter struct {
	client *Client
	queue  *UploadQueue
	log    *zap.Logger
}

func NewLocationReporter(c *Client, q *UploadQueue, log *zap.Logger) *LocationReporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &LocationReporter{client: c, queue: q, log: log}
}

// Report uploads a location; on failure the upload is queued for replay and
// the error returned for the caller's logging.
func (r *LocationReporter) Report(ctx context.Context, loc Location) error {
	err := r.client.PostLocation(ctx, loc)
	if err == nil {
		return nil
	}
	body, merr := json.Marshal(loc)
	if merr != nil {
		return err
	}
	r.queue.Enqueue(PendingUpload{Endpoint: LocationEndpoint, Body: body})
	r.log.Warn("location upload queued for replay", zap.Error(err))
	return err
}
