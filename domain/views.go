package domain

import (
	"slices"
	"time"
)

// Stats summarises a task collection for the dashboard.
type Stats struct {
	Total          int     `json:"total"`
	InProgress     int     `json:"inProgress"`
	Completed      int     `json:"completed"`
	Overdue        int     `json:"overdue"`
	CompletionRate float64 `json:"completionRate"`
}

func ComputeStats(tasks []Task, now time.Time) Stats {
	var st Stats
	for _, t := range tasks {
		st.Total++
		switch {
		case t.Done():
			st.Completed++
		case t.Status == InProgressStatus:
			st.InProgress++
		}
		if t.Overdue(now) {
			st.Overdue++
		}
	}
	st.CompletionRate = percent(st.Completed, st.Total)
	return st
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// UpcomingTasks returns open tasks ordered by due date, undated tasks last.
// A non-positive limit returns all of them.
func UpcomingTasks(tasks []Task, limit int) []Task {
	open := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if !t.Done() {
			open = append(open, t)
		}
	}
	slices.SortStableFunc(open, compareDue)
	if limit > 0 && len(open) > limit {
		open = open[:limit]
	}
	return open
}

func compareDue(a, b Task) int {
	switch {
	case a.DueDate == nil && b.DueDate == nil:
		return 0
	case a.DueDate == nil:
		return 1
	case b.DueDate == nil:
		return -1
	}
	return a.DueDate.Compare(*b.DueDate)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// TasksDueOn returns the tasks due on the calendar day of day, compared in
// day's location.
func TasksDueOn(tasks []Task, day time.Time) []Task {
	out := []Task{}
	for _, t := range tasks {
		if t.DueDate != nil && sameDay(t.DueDate.In(day.Location()), day) {
			out = append(out, t)
		}
	}
	return out
}

// DueWithin returns open tasks due in [now, now+d], soonest first.
func DueWithin(tasks []Task, now time.Time, d time.Duration) []Task {
	end := now.Add(d)
	out := []Task{}
	for _, t := range tasks {
		if t.DueDate == nil || t.Done() {
			continue
		}
		if !t.DueDate.Before(now) && !t.DueDate.After(end) {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, compareDue)
	return out
}

// DatesWithTasks lists the days of the given month, in loc, on which at least
// one task is due. Days are returned ascending as YYYY-MM-DD.
func DatesWithTasks(tasks []Task, year int, month time.Month, loc *time.Location) []string {
	seen := map[string]struct{}{}
	for _, t := range tasks {
		if t.DueDate == nil {
			continue
		}
		d := t.DueDate.In(loc)
		if d.Year() == year && d.Month() == month {
			seen[d.Format(time.DateOnly)] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

const (
	FilterAll          = "all"
	FilterDueToday     = "due-today"
	FilterOverdue      = "overdue"
	FilterHighPriority = "high-priority"
)

// FilterMyTasks narrows tasks to those assigned to assigneeID and then applies
// one of the named filters. An empty assigneeID keeps every task.
func FilterMyTasks(tasks []Task, assigneeID, filter string, now time.Time) ([]Task, error) {
	keep := func(Task) bool { return true }
	switch filter {
	case "", FilterAll:
	case FilterDueToday:
		keep = func(t Task) bool { return t.DueDate != nil && sameDay(t.DueDate.In(now.Location()), now) }
	case FilterOverdue:
		keep = func(t Task) bool { return t.Overdue(now) }
	case FilterHighPriority:
		keep = func(t Task) bool { return t.Priority.Rank() >= PriorityHigh.Rank() }
	default:
		return nil, &ValidationError{Field: "filter", Message: "unknown filter " + filter}
	}
	out := []Task{}
	for _, t := range tasks {
		if assigneeID != "" && t.AssigneeID != assigneeID {
			continue
		}
		if keep(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// SortByPriority orders tasks by descending priority rank, then by position.
func SortByPriority(tasks []Task) {
	slices.SortStableFunc(tasks, func(a, b Task) int {
		if d := b.Priority.Rank() - a.Priority.Rank(); d != 0 {
			return d
		}
		return a.Position - b.Position
	})
}

// GroupByStatus buckets tasks by their status label.
func GroupByStatus(tasks []Task) map[string][]Task {
	out := map[string][]Task{}
	for _, t := range tasks {
		out[t.Status] = append(out[t.Status], t)
	}
	return out
}
