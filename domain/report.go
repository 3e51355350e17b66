package domain

import (
	"strings"
	"time"
)

// ParseRange converts a report range such as "7d", "30d" or "90d" to days.
func ParseRange(s string) (int, error) {
	switch strings.TrimSpace(s) {
	case "7d":
		return 7, nil
	case "", "30d":
		return 30, nil
	case "90d":
		return 90, nil
	}
	return 0, &ValidationError{Field: "range", Message: "expected 7d, 30d or 90d"}
}

type ReportMetrics struct {
	TotalTasks     int     `json:"totalTasks"`
	CompletedTasks int     `json:"completedTasks"`
	CompletionRate float64 `json:"completionRate"`
	InProgress     int     `json:"inProgress"`
	Overdue        int     `json:"overdue"`
}

type DayCount struct {
	Date      string `json:"date"`
	Created   int    `json:"created"`
	Completed int    `json:"completed"`
}

type Bucket struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type Productivity struct {
	ThisWeek int     `json:"thisWeek"`
	LastWeek int     `json:"lastWeek"`
	Change   float64 `json:"change"`
}

type Report struct {
	RangeDays    int           `json:"rangeDays"`
	Metrics      ReportMetrics `json:"metrics"`
	Timeline     []DayCount    `json:"timeline"`
	Statuses     []Bucket      `json:"statuses"`
	Priorities   []Bucket      `json:"priorities"`
	Productivity Productivity  `json:"productivity"`
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// BuildReport computes the analytics view over tasks as of now. Metrics cover
// tasks created within the last rangeDays days; distributions cover every task.
func BuildReport(tasks []Task, now time.Time, rangeDays int, statuses []string) Report {
	start := startOfDay(now).AddDate(0, 0, -(rangeDays - 1))
	r := Report{RangeDays: rangeDays}

	var inRange []Task
	for _, t := range tasks {
		if !t.CreatedAt.Before(start) {
			inRange = append(inRange, t)
		}
	}
	st := ComputeStats(inRange, now)
	r.Metrics = ReportMetrics{
		TotalTasks:     st.Total,
		CompletedTasks: st.Completed,
		CompletionRate: st.CompletionRate,
		InProgress:     st.InProgress,
		Overdue:        st.Overdue,
	}

	r.Timeline = make([]DayCount, rangeDays)
	for i := range r.Timeline {
		r.Timeline[i].Date = start.AddDate(0, 0, i).Format(time.DateOnly)
	}
	for _, t := range tasks {
		if i := dayIndex(start, t.CreatedAt.In(now.Location()), rangeDays); i >= 0 {
			r.Timeline[i].Created++
		}
		if t.Done() && t.CompletedAt != nil {
			if i := dayIndex(start, t.CompletedAt.In(now.Location()), rangeDays); i >= 0 {
				r.Timeline[i].Completed++
			}
		}
	}

	counts := map[string]int{}
	prio := map[Priority]int{}
	for _, t := range tasks {
		counts[t.Status]++
		prio[t.Priority]++
	}
	for _, s := range statuses {
		r.Statuses = append(r.Statuses, Bucket{Name: s, Value: counts[s]})
	}
	for i := len(Priorities) - 1; i >= 0; i-- {
		p := Priorities[i]
		r.Priorities = append(r.Priorities, Bucket{Name: string(p), Value: prio[p]})
	}

	r.Productivity = weeklyProductivity(tasks, now)
	return r
}

func dayIndex(start, at time.Time, days int) int {
	d := startOfDay(at)
	if d.Before(start) {
		return -1
	}
	i := int(d.Sub(start).Hours()+12) / 24
	if i >= days {
		return -1
	}
	return i
}

func weeklyProductivity(tasks []Task, now time.Time) Productivity {
	weekAgo := now.AddDate(0, 0, -7)
	twoWeeksAgo := now.AddDate(0, 0, -14)
	var p Productivity
	for _, t := range tasks {
		if !t.Done() || t.CompletedAt == nil {
			continue
		}
		switch at := *t.CompletedAt; {
		case !at.Before(weekAgo):
			p.ThisWeek++
		case !at.Before(twoWeeksAgo):
			p.LastWeek++
		}
	}
	switch {
	case p.LastWeek > 0:
		p.Change = float64(p.ThisWeek-p.LastWeek) / float64(p.LastWeek) * 100
	case p.ThisWeek > 0:
		p.Change = 100
	}
	return p
}
