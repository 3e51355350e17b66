package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"prism-board/domain"
)

const (
	defaultUpcomingLimit = 5
	calendarLookahead    = 7 * 24 * time.Hour
)

type dashboardResponse struct {
	Stats    domain.Stats  `json:"stats"`
	Upcoming []domain.Task `json:"upcoming"`
	DueToday []domain.Task `json:"dueToday"`
}

type calendarResponse struct {
	Date     string        `json:"date"`
	Tasks    []domain.Task `json:"tasks"`
	Dates    []string      `json:"dates"`
	Upcoming []domain.Task `json:"upcoming"`
}

type myTasksResponse struct {
	Filter   string         `json:"filter"`
	Tasks    []domain.Task  `json:"tasks"`
	ByStatus map[string]int `json:"byStatus"`
}

func getDashboard(d *deps) echo.HandlerFunc {
	return d.handle("/api/dashboard", func(c echo.Context, userID string, m *requestMetrics) error {
		loc, err := location(c)
		if err != nil {
			return writeError(c, m, err)
		}
		limit := defaultUpcomingLimit
		if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
			n, convErr := strconv.Atoi(raw)
			if convErr != nil || n <= 0 {
				return writeError(c, m, &domain.ValidationError{Field: "limit", Message: "must be a positive integer"})
			}
			limit = n
		}
		sess, err := d.svc.session(c.Request().Context(), userID, m)
		if err != nil {
			return writeError(c, m, err)
		}
		now := d.now().In(loc)
		tasks := sess.Tasks()
		resp := dashboardResponse{
			Stats:    domain.ComputeStats(tasks, now),
			Upcoming: domain.UpcomingTasks(tasks, limit),
			DueToday: domain.TasksDueOn(tasks, now),
		}
		m.SetTasksReturned(len(resp.Upcoming) + len(resp.DueToday))
		return writeJSON(c, m, http.StatusOK, resp)
	})
}

func getCalendar(d *deps) echo.HandlerFunc {
	return d.handle("/api/calendar", func(c echo.Context, userID string, m *requestMetrics) error {
		loc, err := location(c)
		if err != nil {
			return writeError(c, m, err)
		}
		now := d.now().In(loc)
		day := now
		if raw := strings.TrimSpace(c.QueryParam("date")); raw != "" {
			day, err = time.ParseInLocation(time.DateOnly, raw, loc)
			if err != nil {
				return writeError(c, m, &domain.ValidationError{Field: "date", Message: "expected YYYY-MM-DD"})
			}
		}
		sess, err := d.svc.session(c.Request().Context(), userID, m)
		if err != nil {
			return writeError(c, m, err)
		}
		tasks := sess.Tasks()
		resp := calendarResponse{
			Date:     day.Format(time.DateOnly),
			Tasks:    domain.TasksDueOn(tasks, day),
			Dates:    domain.DatesWithTasks(tasks, day.Year(), day.Month(), loc),
			Upcoming: domain.DueWithin(tasks, now, calendarLookahead),
		}
		m.SetTasksReturned(len(resp.Tasks))
		return writeJSON(c, m, http.StatusOK, resp)
	})
}

// getMyTasks lists the caller's tasks. assignee=any drops the assignee
// restriction; sort=priority orders by descending priority.
func getMyTasks(d *deps) echo.HandlerFunc {
	return d.handle("/api/my-tasks", func(c echo.Context, userID string, m *requestMetrics) error {
		loc, err := location(c)
		if err != nil {
			return writeError(c, m, err)
		}
		filter := strings.TrimSpace(c.QueryParam("filter"))
		if filter == "" {
			filter = domain.FilterAll
		}
		assignee := userID
		if c.QueryParam("assignee") == "any" {
			assignee = ""
		}
		sess, err := d.svc.session(c.Request().Context(), userID, m)
		if err != nil {
			return writeError(c, m, err)
		}
		tasks, err := domain.FilterMyTasks(sess.Tasks(), assignee, filter, d.now().In(loc))
		if err != nil {
			return writeError(c, m, err)
		}
		switch c.QueryParam("sort") {
		case "", "position":
		case "priority":
			domain.SortByPriority(tasks)
		default:
			return writeError(c, m, &domain.ValidationError{Field: "sort", Message: "expected position or priority"})
		}
		byStatus := map[string]int{}
		for status, group := range domain.GroupByStatus(tasks) {
			byStatus[status] = len(group)
		}
		m.SetTasksReturned(len(tasks))
		return writeJSON(c, m, http.StatusOK, myTasksResponse{Filter: filter, Tasks: tasks, ByStatus: byStatus})
	})
}

func getReports(d *deps) echo.HandlerFunc {
	return d.handle("/api/reports", func(c echo.Context, userID string, m *requestMetrics) error {
		loc, err := location(c)
		if err != nil {
			return writeError(c, m, err)
		}
		days, err := domain.ParseRange(c.QueryParam("range"))
		if err != nil {
			return writeError(c, m, err)
		}
		sess, err := d.svc.session(c.Request().Context(), userID, m)
		if err != nil {
			return writeError(c, m, err)
		}
		report := domain.BuildReport(sess.Tasks(), d.now().In(loc), days, sess.StatusNames())
		m.SetTasksReturned(report.Metrics.TotalTasks)
		return writeJSON(c, m, http.StatusOK, report)
	})
}
