// Package inference defines the generation-service capability used to
// fill note fields. The production implementation calls the Gemini API;
// tests substitute a deterministic stub.
package inference

import (
	"context"
)

//go:generate mockgen -source=interface.go -destination=../mocks/inference/mock_client.go -package=mock_inference

// Client interface defines the methods for AI generation operations.
type Client interface {
	// GenerateText returns the service's text reply for one prompt. An
	// empty reply is reported as an error so callers never persist it.
	GenerateText(ctx context.Context, prompt string) (string, error)
}

const (
	// DefaultModel matches the model the augmentation prompts were tuned on.
	DefaultModel = "gemini-3-flash-preview"
)
