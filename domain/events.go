package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

const (
	TaskCreated   = "task-created"
	TaskUpdated   = "task-updated"
	TaskMoved     = "task-moved"
	TaskDeleted   = "task-deleted"
	TaskCommented = "task-commented"
	ColumnCreated = "column-created"
)

// Event describes a change applied to a board session.
type Event struct {
	ID         string          `json:"id"`
	EntityID   string          `json:"entityId"`
	EntityType string          `json:"entityType"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	Time       int64           `json:"time"`
	UserID     string          `json:"userId,omitempty"`
}

type TaskMovedEventData struct {
	TaskID         string `json:"taskId"`
	SourceColumnID string `json:"sourceColumnId"`
	TargetColumnID string `json:"targetColumnId"`
	NewPosition    int    `json:"newPosition"`
}

type TaskDeletedEventData struct {
	TaskID   string `json:"taskId"`
	ColumnID string `json:"columnId"`
}

func newEvent(entityType, typ, entityID string, ts int64, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		EntityType: entityType,
		Type:       typ,
		Data:       raw,
		Time:       ts,
	}, nil
}
