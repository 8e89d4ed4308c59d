package augment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/sync/errgroup"

	"github.com/at-ishikawa/ankigen/internal/collection"
	"github.com/at-ishikawa/ankigen/internal/converter"
	"github.com/at-ishikawa/ankigen/internal/inference"
)

const (
	// DefaultWorkers bounds in-flight generation requests. The service
	// enforces a requests-per-minute ceiling; unbounded fan-out would
	// trip it with no backoff.
	DefaultWorkers = 15

	previewLength = 80
)

// errSeparatorInContent rejects generated content that would corrupt
// the delimited field string on write-back.
var errSeparatorInContent = errors.New("generated content contains the field separator")

// Task is one generation request for one note.
type Task struct {
	NoteID int64
	Prompt string
	// Source is the primary source text, kept for log context.
	Source string
}

// Orchestrator fans generation tasks out to the inference client under
// a fixed concurrency bound and collects converted results keyed by
// note id. Per-task failures are logged and skipped; the note stays
// pending for a future run.
type Orchestrator struct {
	client  inference.Client
	workers int
}

// NewOrchestrator creates an Orchestrator. A non-positive workers value
// falls back to DefaultWorkers.
func NewOrchestrator(client inference.Client, workers int) *Orchestrator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Orchestrator{client: client, workers: workers}
}

// Run executes all tasks and returns the generated HTML per note id.
// Completion order is irrelevant; results are keyed, not ordered.
// There are no retries: a failed task is simply absent from the result.
func (o *Orchestrator) Run(ctx context.Context, tasks []Task) map[int64]string {
	if len(tasks) == 0 {
		return map[int64]string{}
	}

	slog.Info("starting generation", "tasks", len(tasks), "workers", o.workers)
	bar := pb.Full.Start(len(tasks))
	bar.Set(pb.CleanOnFinish, true)
	defer bar.Finish()

	results := make(map[int64]string, len(tasks))
	var mu sync.Mutex

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(o.workers)
	for _, task := range tasks {
		task := task
		group.Go(func() error {
			defer bar.Increment()

			value, err := o.generate(ctx, task)
			if err != nil {
				slog.Warn("skipping note",
					"noteID", task.NoteID,
					"source", truncate(task.Source, previewLength),
					"error", err,
				)
				return nil
			}
			mu.Lock()
			results[task.NoteID] = value
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; failures only skip their note.
	_ = group.Wait()

	slog.Info("generation finished", "generated", len(results), "failed", len(tasks)-len(results))
	return results
}

func (o *Orchestrator) generate(ctx context.Context, task Task) (string, error) {
	text, err := o.client.GenerateText(ctx, task.Prompt)
	if err != nil {
		return "", err
	}

	html, err := converter.MarkdownToHTML(text)
	if err != nil {
		return "", err
	}
	// The separator must never reach the database inside field content.
	if strings.Contains(html, collection.FieldSeparator) {
		return "", errSeparatorInContent
	}
	return html, nil
}

func truncate(text string, limit int) string {
	text = strings.ReplaceAll(text, "\n", " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
