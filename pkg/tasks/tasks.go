package tasks

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"civichub/pkg/api"
)

// TaskRetentionSweep deletes conversations idle past the retention window.
// It carries no payload; the window is worker configuration.
const TaskRetentionSweep = "retention:sweep"

// queueName keeps communication jobs separate from whatever else shares the
// redis instance.
const queueName = "comms"

// fanoutChunkSize bounds one notification batch. Each chunk is
// all-or-nothing; there is no transaction across chunks.
const fanoutChunkSize = 100

// Enqueuer implements api.Enqueuer on top of the asynq client.
type Enqueuer struct {
	client *asynq.Client
}

var _ api.Enqueuer = (*Enqueuer)(nil)

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

func (e *Enqueuer) Enqueue(ctx context.Context, taskType string, payload []byte) error {
	_, err := e.client.EnqueueContext(ctx, asynq.NewTask(taskType, payload),
		asynq.Queue(queueName), asynq.MaxRetry(3))
	return err
}

// Worker handles the background half of the communication core: broadcast
// fan-out and the retention sweep.
type Worker struct {
	notifications api.NotificationService
	conversations api.ConversationService
	directory     api.AudienceResolver
	retention     time.Duration
}

// systemActor authorizes the background jobs through the same policy gate
// as interactive callers.
var systemActor = api.Actor{Id: "system", Name: "system", Role: api.RoleSystem}

func NewWorker(notifications api.NotificationService, conversations api.ConversationService, directory api.AudienceResolver, retention time.Duration) *Worker {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Worker{
		notifications: notifications,
		conversations: conversations,
		directory:     directory,
		retention:     retention,
	}
}

func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(api.TaskBroadcastFanout, w.HandleBroadcastFanout)
	mux.HandleFunc(TaskRetentionSweep, w.HandleRetentionSweep)
}

// HandleBroadcastFanout resolves the broadcast's audience and inserts one
// unread notification per recipient, in all-or-nothing chunks. A failed
// chunk is logged for manual retry and does not stop the remaining chunks;
// the broadcast record itself was already persisted by the sender.
func (w *Worker) HandleBroadcastFanout(ctx context.Context, t *asynq.Task) error {
	var broadcast api.Broadcast
	if err := json.Unmarshal(t.Payload(), &broadcast); err != nil {
		log.Printf("Could not decode fan-out payload: %v", err)
		return nil // malformed payloads are not retryable
	}

	recipients, err := w.directory.Recipients(ctx, broadcast.Audience)
	if err != nil {
		return err // directory hiccup; let asynq retry the whole task
	}

	failed := 0
	for start := 0; start < len(recipients); start += fanoutChunkSize {
		end := start + fanoutChunkSize
		if end > len(recipients) {
			end = len(recipients)
		}

		chunk := make([]api.Notification, 0, end-start)
		for _, userId := range recipients[start:end] {
			chunk = append(chunk, api.Notification{
				UserId:  userId,
				Title:   broadcast.Title,
				Message: broadcast.Message,
				Link:    "/broadcasts/" + broadcast.Id,
			})
		}

		if err := w.notifications.SendBatch(ctx, chunk); err != nil {
			failed++
			log.Printf("Fan-out chunk %d-%d for broadcast %s failed, retry manually: %v",
				start, end, broadcast.Id, err)
		}
	}

	log.Printf("Fanned out broadcast %s to %d recipients (%d failed chunks)",
		broadcast.Id, len(recipients), failed)
	return nil
}

func (w *Worker) HandleRetentionSweep(ctx context.Context, t *asynq.Task) error {
	deleted, err := w.conversations.PruneInactive(ctx, systemActor, w.retention)
	if err != nil {
		return err
	}
	if deleted > 0 {
		log.Printf("Retention sweep deleted %d conversations", deleted)
	}
	return nil
}

// Run starts the task server and blocks until ctx is canceled.
func Run(ctx context.Context, opt asynq.RedisConnOpt, w *Worker) error {
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 5,
		Queues:      map[string]int{queueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Printf("Task %s failed: %v", task.Type(), err)
		}),
	})
	mux := asynq.NewServeMux()
	w.Register(mux)

	if err := srv.Start(mux); err != nil {
		return err
	}
	<-ctx.Done()
	srv.Shutdown()
	return nil
}

// RunScheduler enqueues the daily retention sweep.
func RunScheduler(ctx context.Context, opt asynq.RedisConnOpt) error {
	scheduler := asynq.NewScheduler(opt, nil)
	if _, err := scheduler.Register("@every 24h", asynq.NewTask(TaskRetentionSweep, nil), asynq.Queue(queueName)); err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	scheduler.Shutdown()
	return nil
}
