// Package embedding declares the abstract embedding-model collaborator
// contract. No concrete model runtime is imported here.
package embedding

import "context"

// Client generates dense vector embeddings for text.
type Client interface {
	// Encode embeds a single text.
	Encode(ctx context.Context, text string) ([]float32, error)

	// EncodeBatch embeds multiple texts in one call, more efficiently
	// than repeated single calls.
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector length this client produces.
	Dimension(ctx context.Context) (int, error)
}
