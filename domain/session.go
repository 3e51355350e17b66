package domain

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Snapshot is the persisted state of one board session. Each field maps to one
// key-value slot in storage.
type Snapshot struct {
	Board        Board    `json:"board"`
	Columns      []Column `json:"columns"`
	Tasks        []Task   `json:"tasks"`
	ActiveTaskID string   `json:"activeTaskId,omitempty"`
}

// DefaultSnapshot is the board a session starts with before anything has been
// saved for it.
func DefaultSnapshot() Snapshot {
	const boardID = "board-1"
	names := []string{"To Do", InProgressStatus, "Review", DoneStatus}
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{ID: "column-" + strconv.Itoa(i+1), Name: n, Position: i, BoardID: boardID}
	}
	return Snapshot{
		Board: Board{
			ID:          boardID,
			Name:        "Product Development",
			Description: "Main product development board for tracking features and bugs",
		},
		Columns: cols,
		Tasks:   []Task{},
	}
}

// Session owns the columns and tasks of a single board and applies the
// drag, reorder and edit operations to them. It is not safe for concurrent use.
type Session struct {
	board   Board
	columns []Column
	tasks   []Task
	active  string

	now   func() time.Time
	newID func(prefix string) string
}

type Option func(*Session)

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func WithIDGenerator(gen func(prefix string) string) Option {
	return func(s *Session) { s.newID = gen }
}

func NewSession(snap Snapshot, opts ...Option) *Session {
	s := &Session{
		board:   Board{ID: snap.Board.ID, Name: snap.Board.Name, Description: snap.Board.Description},
		columns: make([]Column, 0, len(snap.Columns)),
		tasks:   make([]Task, 0, len(snap.Tasks)),
		now:     time.Now,
		newID:   func(prefix string) string { return prefix + "-" + uuid.NewString() },
	}
	for _, c := range snap.Columns {
		c.Tasks = nil
		s.columns = append(s.columns, c)
	}
	for _, t := range snap.Tasks {
		s.tasks = append(s.tasks, t.clone())
	}
	for _, o := range opts {
		o(s)
	}
	if s.findTask(snap.ActiveTaskID) >= 0 {
		s.active = snap.ActiveTaskID
	}
	return s
}

// Snapshot returns a deep copy of the session state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Board:        s.board,
		Columns:      append([]Column{}, s.columns...),
		Tasks:        s.Tasks(),
		ActiveTaskID: s.active,
	}
	return snap
}

func (s *Session) Tasks() []Task {
	out := make([]Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.clone()
	}
	return out
}

func (s *Session) Task(id string) (Task, bool) {
	i := s.findTask(id)
	if i < 0 {
		return Task{}, false
	}
	return s.tasks[i].clone(), true
}

// ActiveTask returns the current drag subject, if a drag is in progress.
func (s *Session) ActiveTask() (Task, bool) {
	if s.active == "" {
		return Task{}, false
	}
	return s.Task(s.active)
}

// Columns returns the columns ordered by position, each carrying its tasks
// ordered by position.
func (s *Session) Columns() []Column {
	cols := append([]Column{}, s.columns...)
	slices.SortStableFunc(cols, func(a, b Column) int { return a.Position - b.Position })
	for i := range cols {
		idx := s.columnIndexes(cols[i].ID)
		cols[i].Tasks = make([]Task, len(idx))
		for j, ti := range idx {
			cols[i].Tasks[j] = s.tasks[ti].clone()
		}
	}
	return cols
}

// View returns the board header with nested, ordered columns and tasks.
func (s *Session) View() Board {
	b := s.board
	b.Columns = s.Columns()
	return b
}

func (s *Session) findTask(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) findColumn(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.columns {
		if s.columns[i].ID == id {
			return i
		}
	}
	return -1
}

// resolveTarget maps a drop target id to the column it designates. overTask
// is the index of the hovered task, or -1 when the target is a column.
func (s *Session) resolveTarget(overID string) (columnID string, overTask int) {
	if ci := s.findColumn(overID); ci >= 0 {
		return s.columns[ci].ID, -1
	}
	if ti := s.findTask(overID); ti >= 0 {
		return s.tasks[ti].ColumnID, ti
	}
	return "", -1
}

// BeginDrag records taskID as the drag subject. An unknown id clears it.
func (s *Session) BeginDrag(taskID string) bool {
	if s.findTask(taskID) < 0 {
		s.active = ""
		return false
	}
	s.active = taskID
	return true
}

// DragOver moves the active task into the column designated by overID when
// that column differs from its current one. The task takes the rank of the
// hovered task, or the end of the column when hovering the column itself. Both
// the source and the destination column are renumbered.
func (s *Session) DragOver(activeID, overID string) bool {
	ai := s.findTask(activeID)
	if ai < 0 || overID == "" {
		return false
	}
	target, overTask := s.resolveTarget(overID)
	if target == "" || s.tasks[ai].ColumnID == target {
		return false
	}
	dest := s.columnIndexes(target)
	insertAt := len(dest)
	if overTask >= 0 {
		if i := slices.Index(dest, overTask); i >= 0 {
			insertAt = i
		}
	}
	s.moveToColumn(ai, target, insertAt)
	return true
}

// EndDrag finishes the gesture. The drag subject is always cleared. When the
// drop target is another task in the same column, the active task is moved to
// the target's rank and the column is renumbered.
func (s *Session) EndDrag(activeID, overID string) bool {
	s.active = ""
	if overID == "" || activeID == overID {
		return false
	}
	ai := s.findTask(activeID)
	oi := s.findTask(overID)
	if ai < 0 || oi < 0 || s.tasks[ai].ColumnID != s.tasks[oi].ColumnID {
		return false
	}
	order := s.columnIndexes(s.tasks[ai].ColumnID)
	from, to := slices.Index(order, ai), slices.Index(order, oi)
	if from == to {
		return false
	}
	s.renumber(moveElement(order, from, to))
	s.tasks[ai].UpdatedAt = s.now()
	return true
}

// moveToColumn reassigns task i to target at rank insertAt and renumbers the
// source and destination columns. Status follows the destination column name.
func (s *Session) moveToColumn(i int, target string, insertAt int) {
	source := s.tasks[i].ColumnID
	dest := s.columnIndexes(target)
	if insertAt > len(dest) {
		insertAt = len(dest)
	}
	now := s.now()
	s.tasks[i].ColumnID = target
	s.tasks[i].UpdatedAt = now
	if ci := s.findColumn(target); ci >= 0 {
		s.setStatus(i, s.columns[ci].Name, now)
	}
	s.renumber(slices.Insert(dest, insertAt, i))
	s.compact(source)
}

func (s *Session) setStatus(i int, status string, now time.Time) {
	wasDone := s.tasks[i].Done()
	s.tasks[i].Status = status
	switch {
	case s.tasks[i].Done() && !wasDone:
		at := now
		s.tasks[i].CompletedAt = &at
	case !s.tasks[i].Done():
		s.tasks[i].CompletedAt = nil
	}
}

// AddTask appends a new task to the end of columnID.
func (s *Session) AddTask(columnID string, d TaskDraft) (Task, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return Task{}, &ValidationError{Field: "title", Message: "required"}
	}
	ci := s.findColumn(columnID)
	if ci < 0 {
		return Task{}, columnNotFound(columnID)
	}
	prio, err := ParsePriority(d.Priority)
	if err != nil {
		return Task{}, err
	}
	now := s.now()
	t := Task{
		ID:          s.newID("task"),
		Title:       title,
		Description: strings.TrimSpace(d.Description),
		Priority:    prio,
		ColumnID:    columnID,
		AssigneeID:  d.AssigneeID,
		CreatorID:   d.CreatorID,
		Tags:        append([]Tag{}, d.Tags...),
		Comments:    []Comment{},
		Position:    len(s.columnIndexes(columnID)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if d.DueDate != nil {
		due := *d.DueDate
		t.DueDate = &due
	}
	s.tasks = append(s.tasks, t)
	s.setStatus(len(s.tasks)-1, s.columns[ci].Name, now)
	return s.tasks[len(s.tasks)-1].clone(), nil
}

// UpdateTask applies a partial edit. Fields are validated before anything is
// changed. A column change appends the task to the destination column.
func (s *Session) UpdateTask(taskID string, p TaskPatch) (Task, error) {
	if p.empty() {
		return Task{}, ErrEmptyPatch
	}
	ti := s.findTask(taskID)
	if ti < 0 {
		return Task{}, taskNotFound(taskID)
	}
	var title string
	if p.Title != nil {
		title = strings.TrimSpace(*p.Title)
		if title == "" {
			return Task{}, &ValidationError{Field: "title", Message: "required"}
		}
	}
	var prio Priority
	if p.Priority != nil {
		var err error
		if prio, err = ParsePriority(*p.Priority); err != nil {
			return Task{}, err
		}
	}
	var status string
	if p.Status != nil {
		status = strings.TrimSpace(*p.Status)
		if status == "" {
			return Task{}, &ValidationError{Field: "status", Message: "required"}
		}
	}
	if p.ColumnID != nil && s.findColumn(*p.ColumnID) < 0 {
		return Task{}, columnNotFound(*p.ColumnID)
	}

	now := s.now()
	if p.ColumnID != nil && *p.ColumnID != s.tasks[ti].ColumnID {
		s.moveToColumn(ti, *p.ColumnID, len(s.tasks))
	}
	t := &s.tasks[ti]
	if p.Title != nil {
		t.Title = title
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.Priority != nil {
		t.Priority = prio
	}
	if p.AssigneeID != nil {
		t.AssigneeID = *p.AssigneeID
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		due := *p.DueDate
		t.DueDate = &due
	}
	if p.Tags != nil {
		t.Tags = append([]Tag{}, (*p.Tags)...)
	}
	if p.Status != nil {
		s.setStatus(ti, status, now)
	}
	t.UpdatedAt = now
	return t.clone(), nil
}

// DeleteTask removes a task and compacts the positions of its former column.
func (s *Session) DeleteTask(taskID string) (Task, error) {
	ti := s.findTask(taskID)
	if ti < 0 {
		return Task{}, taskNotFound(taskID)
	}
	removed := s.tasks[ti]
	s.tasks = slices.Delete(slices.Clone(s.tasks), ti, ti+1)
	s.compact(removed.ColumnID)
	if s.active == taskID {
		s.active = ""
	}
	return removed, nil
}

// AddColumn appends a column after the existing ones.
func (s *Session) AddColumn(name string) (Column, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Column{}, &ValidationError{Field: "name", Message: "required"}
	}
	pos := 0
	for _, c := range s.columns {
		if c.Position >= pos {
			pos = c.Position + 1
		}
	}
	c := Column{ID: s.newID("column"), Name: name, Position: pos, BoardID: s.board.ID}
	s.columns = append(s.columns, c)
	return c, nil
}

func (s *Session) AddComment(taskID, authorID, content string) (Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Comment{}, &ValidationError{Field: "content", Message: "required"}
	}
	ti := s.findTask(taskID)
	if ti < 0 {
		return Comment{}, taskNotFound(taskID)
	}
	now := s.now()
	c := Comment{ID: s.newID("comment"), Content: content, AuthorID: authorID, CreatedAt: now, UpdatedAt: now}
	s.tasks[ti].Comments = append(s.tasks[ti].Comments, c)
	s.tasks[ti].UpdatedAt = now
	return c, nil
}

// StatusNames returns the column names in board order. Tasks take their
// status from these names.
func (s *Session) StatusNames() []string {
	cols := s.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
