package domain

import (
	"strings"
	"time"
)

// Priority is the urgency of a task. Values compare by rank, never by string.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// Priorities lists every priority in ascending rank.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// ParsePriority accepts any casing of a known priority. An empty string
// yields the default MEDIUM.
func ParsePriority(s string) (Priority, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PriorityMedium, nil
	}
	p := Priority(strings.ToUpper(s))
	if !p.Valid() {
		return "", &ValidationError{Field: "priority", Message: "unknown priority " + s}
	}
	return p, nil
}

func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Rank returns the ordering index of p, or -1 for unknown values.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return -1
}

// DoneStatus is the status label that marks a task as completed.
const DoneStatus = "Done"

// InProgressStatus is the status label counted as work in flight.
const InProgressStatus = "In Progress"

type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type Comment struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	AuthorID  string    `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Task is a single card on the board. Position is its rank among the tasks
// sharing the same ColumnID.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority"`
	Status      string     `json:"status"`
	ColumnID    string     `json:"columnId"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	CreatorID   string     `json:"creatorId,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Tags        []Tag      `json:"tags"`
	Comments    []Comment  `json:"comments"`
	Position    int        `json:"position"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Done reports whether the task carries the completed status.
func (t Task) Done() bool { return t.Status == DoneStatus }

// Overdue reports whether the task is open and past its due date at now.
func (t Task) Overdue(now time.Time) bool {
	return t.DueDate != nil && !t.Done() && t.DueDate.Before(now)
}

func (t Task) clone() Task {
	c := t
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	c.Tags = append([]Tag{}, t.Tags...)
	c.Comments = append([]Comment{}, t.Comments...)
	return c
}

type Column struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	BoardID  string `json:"boardId"`
	Tasks    []Task `json:"tasks,omitempty"`
}

type Board struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Columns     []Column `json:"columns,omitempty"`
}

// TaskDraft carries the fields accepted when creating a task.
type TaskDraft struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	CreatorID   string     `json:"creatorId,omitempty"`
	Tags        []Tag      `json:"tags,omitempty"`
}

// TaskPatch carries a partial task edit. Nil fields are left untouched.
type TaskPatch struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Priority     *string    `json:"priority,omitempty"`
	Status       *string    `json:"status,omitempty"`
	ColumnID     *string    `json:"columnId,omitempty"`
	AssigneeID   *string    `json:"assigneeId,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	ClearDueDate bool       `json:"clearDueDate,omitempty"`
	Tags         *[]Tag     `json:"tags,omitempty"`
}

func (p TaskPatch) empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil && p.Status == nil &&
		p.ColumnID == nil && p.AssigneeID == nil && p.DueDate == nil && !p.ClearDueDate && p.Tags == nil
}
