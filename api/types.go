package api

import (
	"context"

	"prism-board/domain"
)

// Storage abstracts board persistence for handlers.
type Storage interface {
	LoadBoard(ctx context.Context, userID string) (domain.Snapshot, bool, error)
	SaveBoard(ctx context.Context, userID string, snap domain.Snapshot) error
	PublishEvents(ctx context.Context, userID string, events []domain.Event) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate commands.
type Deduper interface {
	// AddMany records the keys and reports, per key, whether it was newly added.
	AddMany(ctx context.Context, userID string, keys []string) ([]bool, error)
	// RemoveMany forgets keys whose commands were not applied so the caller may retry them.
	RemoveMany(ctx context.Context, userID string, keys []string) error
}

// Subscriber delivers published board events for one session owner.
type Subscriber interface {
	Subscribe(userID string) (<-chan []byte, func())
}
