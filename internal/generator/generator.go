package generator

import (
	"context"
	"fmt"

	"github.com/EdwardJXLi/TinyGen/internal/fetcher"
)

// Generator turns a repository tree and a prompt into a unified diff.
// Implementations may call progress zero or more times with human-readable
// status lines before returning.
type Generator interface {
	Generate(ctx context.Context, tree *fetcher.FileTree, prompt string, progress func(string)) (string, error)
}

// GenerationError wraps any failure of the generation collaborator. Runners
// record it on the task instead of propagating it.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %s", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
