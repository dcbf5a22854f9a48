package task

import "context"

//go:generate mockgen -source=store.go -destination=mock_store.go -package=task

// Store reads and mutates task records held by the remote task service.
// Implementations keep no cache; callers re-run List after every successful
// mutation.
type Store interface {
	// List returns the full current collection.
	List(ctx context.Context) ([]Task, error)

	// Create submits one or more definitions with optional attachments keyed
	// by definition index, and returns the server-assigned tasks.
	Create(ctx context.Context, defs []Definition, files map[int]Attachment) (*CreateResult, error)

	// Update replaces the mutable fields of the task identified by id.
	Update(ctx context.Context, id ID, def Definition) (*Task, error)

	// Delete removes a task. Deleting an unknown or already deleted id
	// returns ErrNotFound.
	Delete(ctx context.Context, id ID) (*Deletion, error)
}
