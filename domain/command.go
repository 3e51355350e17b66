package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

const (
	CommandBeginDrag  = "begin-drag"
	CommandDragOver   = "drag-over"
	CommandEndDrag    = "end-drag"
	CommandAddTask    = "add-task"
	CommandUpdateTask = "update-task"
	CommandDeleteTask = "delete-task"
	CommandAddColumn  = "add-column"
	CommandAddComment = "add-comment"
)

// Command represents a write request against a board session.
type Command struct {
	// ID carries the idempotency key once the command has been accepted.
	ID             string                 `json:"id,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	Type           string                 `json:"type"`
	Data           sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
}

type BeginDragData struct {
	TaskID string `json:"taskId"`
}

type DragData struct {
	ActiveID string `json:"activeId"`
	OverID   string `json:"overId"`
}

type AddTaskData struct {
	ColumnID string `json:"columnId"`
	TaskDraft
}

type UpdateTaskData struct {
	TaskID string    `json:"taskId"`
	Patch  TaskPatch `json:"patch"`
}

type DeleteTaskData struct {
	TaskID string `json:"taskId"`
}

type AddColumnData struct {
	Name string `json:"name"`
}

type AddCommentData struct {
	TaskID   string `json:"taskId"`
	AuthorID string `json:"authorId"`
	Content  string `json:"content"`
}

// NewCommand encodes data as the payload of a command of the given type.
func NewCommand(typ string, data any) (Command, error) {
	raw, err := sonic.Marshal(data)
	if err != nil {
		return Command{}, err
	}
	return Command{Type: typ, Data: raw}, nil
}

// Outcome is the result of applying a command. Changed is set whenever the
// snapshot must be saved.
type Outcome struct {
	Changed bool     `json:"changed"`
	Task    *Task    `json:"task,omitempty"`
	Column  *Column  `json:"column,omitempty"`
	Comment *Comment `json:"comment,omitempty"`
	Events  []Event  `json:"-"`
}

func decodeData(cmd Command, v any) error {
	if len(cmd.Data) == 0 {
		return &ValidationError{Field: "data", Message: "missing payload for " + cmd.Type}
	}
	if err := sonic.Unmarshal(cmd.Data, v); err != nil {
		return &ValidationError{Field: "data", Message: err.Error()}
	}
	return nil
}

// Apply routes a command to the matching session operation and reports the
// resulting events. Drag commands never fail on unknown ids.
func (s *Session) Apply(cmd Command) (Outcome, error) {
	switch cmd.Type {
	case CommandBeginDrag:
		var d BeginDragData
		if err := decodeData(cmd, &d); err != nil {
			return Outcome{}, err
		}
		prev := s.active
		s.BeginDrag(d.TaskID)
		return Outcome{Changed: prev != s.active}, nil
	case CommandDragOver:
		var d DragData
		if err := decodeData(cmd, &d); err != nil {
			return Outcome{}, err
		}
		return s.applyMove(cmd, d, s.DragOver)
	case CommandEndDrag:
		var d DragData
		if err := decodeData(cmd, &d); err != nil {
			return Outcome{}, err
		}
		hadActive := s.active != ""
		out, err := s.applyMove(cmd, d, s.EndDrag)
		out.Changed = out.Changed || hadActive
		return out, err
	case CommandAddTask:
		var d AddTaskData
		if err := decodeData(cmd, &d); err != nil {
			return Outcome{}, err
		}
		t, err := s.AddTask(d.ColumnID, d.TaskDraft)
		if err != nil {
			return Outcome{}, err
		}
		ev, err := newEvent("task", TaskCreated, t.ID, cmd.Timestamp, t)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Changed: true, Task: &t, Events: []Event{ev}}, nil
	case CommandUpdateTask:
		var d UpdateTaskData
		if err := decodeData(cmd, &d); err != nil {
			return Outcome{}, err
		}
		before, _ := s.Task(d.TaskID)
		t, err := s.UpdateTask(d.TaskID, d.Patch)
		if err != nil {
			return Outcome{}, err
		}
		events := make([]Event, 0, 2)
		ev, err := newEvent("task", TaskUpdated, t.ID, cmd.Timestamp, t)
		if err != nil {
			return Outcome{}, err
		}
		events = append(events, ev)
		if before.ColumnID != t.ColumnID {
			mv, err := newEvent("task", TaskMoved, t.ID, cmd.Timestamp, TaskMovedEventData{
				TaskID: t.ID, SourceColumnID: before.ColumnID, TargetColumnID: t.ColumnID, NewPosition: t.Position,
			})
			if err != nil {
				return Outcome{}, err
			}
			events = append(events, mv)
		}
		return Outcome{Changed: true, Task: &t, Events: events}, nil
	case CommandDeleteTask:
		var d DeleteTaskData
		if err := decodeData(cmd, &d); err != nil {
			return Outcome{}, err
		}
		t, err := s.DeleteTask(d.TaskID)
		if err != nil {
			return Outcome{}, err
		}
		ev, err := newEvent("task", TaskDeleted, t.ID, cmd.Timestamp, TaskDeletedEventData{TaskID: t.ID, ColumnID: t.ColumnID})
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Changed: true, Task: &t, Events: []Event{ev}}, nil
	case CommandAddColumn:
		var d AddColumnData
		if err := decodeData(cmd, &d); err != nil {
			return Outcome{}, err
		}
		c, err := s.AddColumn(d.Name)
		if err != nil {
			return Outcome{}, err
		}
		ev, err := newEvent("column", ColumnCreated, c.ID, cmd.Timestamp, c)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Changed: true, Column: &c, Events: []Event{ev}}, nil
	case CommandAddComment:
		var d AddCommentData
		if err := decodeData(cmd, &d); err != nil {
			return Outcome{}, err
		}
		c, err := s.AddComment(d.TaskID, d.AuthorID, d.Content)
		if err != nil {
			return Outcome{}, err
		}
		ev, err := newEvent("task", TaskCommented, d.TaskID, cmd.Timestamp, c)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Changed: true, Comment: &c, Events: []Event{ev}}, nil
	default:
		return Outcome{}, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown command %q", cmd.Type)}
	}
}

func (s *Session) applyMove(cmd Command, d DragData, op func(activeID, overID string) bool) (Outcome, error) {
	before, _ := s.Task(d.ActiveID)
	if !op(d.ActiveID, d.OverID) {
		return Outcome{}, nil
	}
	t, _ := s.Task(d.ActiveID)
	ev, err := newEvent("task", TaskMoved, t.ID, cmd.Timestamp, TaskMovedEventData{
		TaskID: t.ID, SourceColumnID: before.ColumnID, TargetColumnID: t.ColumnID, NewPosition: t.Position,
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Changed: true, Task: &t, Events: []Event{ev}}, nil
}
