package augment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	mock_inference "github.com/at-ishikawa/ankigen/internal/mocks/inference"
)

// trackingClient records the maximum number of concurrent
// GenerateText calls it observed.
type trackingClient struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	respond     func(prompt string) (string, error)
}

func (c *trackingClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	c.mu.Unlock()

	// Keep the call in flight long enough for the pool to saturate.
	time.Sleep(2 * time.Millisecond)

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()

	if c.respond != nil {
		return c.respond(prompt)
	}
	return "generated", nil
}

func makeTasks(count int) []Task {
	tasks := make([]Task, 0, count)
	for i := 0; i < count; i++ {
		tasks = append(tasks, Task{
			NoteID: int64(i + 1),
			Prompt: fmt.Sprintf("prompt %d", i+1),
			Source: fmt.Sprintf("source %d", i+1),
		})
	}
	return tasks
}

func TestOrchestrator_Run_BoundsConcurrency(t *testing.T) {
	client := &trackingClient{}
	orchestrator := NewOrchestrator(client, 15)

	results := orchestrator.Run(context.Background(), makeTasks(100))

	assert.Len(t, results, 100)
	assert.LessOrEqual(t, client.maxInFlight, 15)
	// With 100 tasks the pool should actually fan out, not serialize.
	assert.Greater(t, client.maxInFlight, 1)
}

func TestOrchestrator_Run_FailureSkipsOnlyThatNote(t *testing.T) {
	client := &trackingClient{
		respond: func(prompt string) (string, error) {
			if prompt == "prompt 3" {
				return "", fmt.Errorf("generation service unavailable")
			}
			return "generated", nil
		},
	}
	orchestrator := NewOrchestrator(client, 4)

	results := orchestrator.Run(context.Background(), makeTasks(10))

	require.Len(t, results, 9)
	_, ok := results[3]
	assert.False(t, ok)
	for id := int64(1); id <= 10; id++ {
		if id == 3 {
			continue
		}
		assert.Contains(t, results, id)
	}
}

func TestOrchestrator_Run_ConvertsMarkdown(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_inference.NewMockClient(ctrl)
	client.EXPECT().
		GenerateText(gomock.Any(), "prompt 1").
		Return("**Bonjour** means *hello*.", nil)

	results := NewOrchestrator(client, 1).Run(context.Background(), makeTasks(1))

	require.Len(t, results, 1)
	assert.Contains(t, results[1], "<strong>Bonjour</strong>")
	assert.Contains(t, results[1], "<em>hello</em>")
	assert.False(t, strings.HasSuffix(results[1], "\n"))
}

func TestOrchestrator_Run_RejectsSeparatorInContent(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_inference.NewMockClient(ctrl)
	client.EXPECT().
		GenerateText(gomock.Any(), gomock.Any()).
		Return("broken\x1fcontent", nil)

	results := NewOrchestrator(client, 1).Run(context.Background(), makeTasks(1))

	assert.Empty(t, results)
}

func TestOrchestrator_Run_NoTasks(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock_inference.NewMockClient(ctrl)

	results := NewOrchestrator(client, 1).Run(context.Background(), nil)

	assert.Empty(t, results)
}

func TestNewOrchestrator_DefaultWorkers(t *testing.T) {
	orchestrator := NewOrchestrator(nil, 0)
	assert.Equal(t, DefaultWorkers, orchestrator.workers)

	orchestrator = NewOrchestrator(nil, -3)
	assert.Equal(t, DefaultWorkers, orchestrator.workers)

	orchestrator = NewOrchestrator(nil, 4)
	assert.Equal(t, 4, orchestrator.workers)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{
			name:  "short text unchanged",
			text:  "short",
			limit: 10,
			want:  "short",
		},
		{
			name:  "long text truncated with ellipsis",
			text:  strings.Repeat("a", 12),
			limit: 10,
			want:  strings.Repeat("a", 10) + "...",
		},
		{
			name:  "newlines flattened",
			text:  "line one\nline two",
			limit: 80,
			want:  "line one line two",
		},
		{
			name:  "multibyte runes are not split",
			text:  strings.Repeat("あ", 12),
			limit: 10,
			want:  strings.Repeat("あ", 10) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.text, tt.limit))
		})
	}
}
