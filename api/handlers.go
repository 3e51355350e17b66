package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const maxBatchSize = 100

type deps struct {
	svc     *boardService
	auth    Authenticator
	deduper Deduper
	events  Subscriber
	logger  *log.Logger
	now     func() time.Time
}

// Register wires up all API routes on the provided Echo instance. deduper may
// be nil, in which case batch commands are never treated as duplicates. events
// may be nil, which disables /api/stream.
func Register(e *echo.Echo, store Storage, auth Authenticator, deduper Deduper, events Subscriber, logger *log.Logger) {
	d := &deps{
		svc:     newBoardService(store, logger),
		auth:    auth,
		deduper: deduper,
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
	register(e, d)
}

func register(e *echo.Echo, d *deps) {
	e.JSONSerializer = sonicSerializer{}

	e.GET("/api/board", getBoard(d))
	e.POST("/api/columns", postColumn(d))
	e.POST("/api/columns/:columnId/tasks", postTask(d))
	e.PATCH("/api/tasks/:taskId", patchTask(d))
	e.DELETE("/api/tasks/:taskId", deleteTask(d))
	e.POST("/api/tasks/:taskId/comments", postComment(d))
	e.POST("/api/drag/start", postDragStart(d))
	e.POST("/api/drag/over", postDrag(d, "/api/drag/over", domain.CommandDragOver))
	e.POST("/api/drag/end", postDrag(d, "/api/drag/end", domain.CommandEndDrag))
	e.POST("/api/commands", postCommands(d))

	e.GET("/api/dashboard", getDashboard(d))
	e.GET("/api/calendar", getCalendar(d))
	e.GET("/api/my-tasks", getMyTasks(d))
	e.GET("/api/reports", getReports(d))
	e.GET("/api/stream", streamBoard(d))

	e.GET("/healthz", healthz())
}

type errorResponse struct {
	Error string `json:"error"`
}

type boardResponse struct {
	Board domain.Board `json:"board"`
}

type commandResponse struct {
	domain.Outcome
	Board domain.Board `json:"board"`
}

type commandResult struct {
	IdempotencyKey string          `json:"idempotencyKey"`
	Status         int             `json:"status"`
	Duplicate      bool            `json:"duplicate,omitempty"`
	Error          string          `json:"error,omitempty"`
	Outcome        *domain.Outcome `json:"outcome,omitempty"`
}

type batchResponse struct {
	Results []commandResult `json:"results"`
	Board   domain.Board    `json:"board"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// handle wraps fn with request metrics and bearer authentication.
func (d *deps) handle(route string, fn func(c echo.Context, userID string, m *requestMetrics) error) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx := newRequestMetrics(c.Request().Context(), d.logger, route)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			m.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := d.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		m.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			m.Fail("auth", authErr)
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: authErr.Error()})
		}
		return fn(c, userID, m)
	}
}

func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, m *requestMetrics, err error) error {
	status := statusForError(err)
	switch status {
	case http.StatusBadRequest:
		m.Fail("validation", err)
	case http.StatusNotFound:
		m.Fail("not_found", err)
	default:
		m.Fail("storage", err)
		c.Logger().Error(err)
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func writeJSON(c echo.Context, m *requestMetrics, status int, body any) error {
	start := time.Now()
	err := c.JSON(status, body)
	m.ObserveEncode(time.Since(start))
	if err != nil {
		m.SetErrorStage("encode_response")
	}
	return err
}

// command builds a single command from the request, applies it to the
// caller's board and responds with the outcome and the updated board.
func (d *deps) command(route string, status int, build func(c echo.Context, userID string) (domain.Command, error)) echo.HandlerFunc {
	return d.handle(route, func(c echo.Context, userID string, m *requestMetrics) error {
		cmd, err := build(c, userID)
		if err != nil {
			return writeError(c, m, err)
		}
		cmds := []domain.Command{cmd}
		finalizeCommands(cmds)
		m.SetCommands(1, 0)

		res, err := d.svc.apply(c.Request().Context(), userID, cmds, m)
		if err != nil {
			return writeError(c, m, err)
		}
		if err := res.Errs[0]; err != nil {
			return writeError(c, m, err)
		}
		return writeJSON(c, m, status, commandResponse{Outcome: res.Outcomes[0], Board: res.Board})
	})
}

func postColumn(d *deps) echo.HandlerFunc {
	return d.command("/api/columns", http.StatusCreated, func(c echo.Context, _ string) (domain.Command, error) {
		var body domain.AddColumnData
		if err := decodeBody(c, &body, false); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.CommandAddColumn, body)
	})
}

func postTask(d *deps) echo.HandlerFunc {
	return d.command("/api/columns/:columnId/tasks", http.StatusCreated, func(c echo.Context, userID string) (domain.Command, error) {
		var draft domain.TaskDraft
		if err := decodeBody(c, &draft, false); err != nil {
			return domain.Command{}, err
		}
		if draft.CreatorID == "" {
			draft.CreatorID = userID
		}
		return domain.NewCommand(domain.CommandAddTask, domain.AddTaskData{ColumnID: c.Param("columnId"), TaskDraft: draft})
	})
}

func patchTask(d *deps) echo.HandlerFunc {
	return d.command("/api/tasks/:taskId", http.StatusOK, func(c echo.Context, _ string) (domain.Command, error) {
		var patch domain.TaskPatch
		if err := decodeBody(c, &patch, true); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.CommandUpdateTask, domain.UpdateTaskData{TaskID: c.Param("taskId"), Patch: patch})
	})
}

func deleteTask(d *deps) echo.HandlerFunc {
	return d.command("/api/tasks/:taskId", http.StatusOK, func(c echo.Context, _ string) (domain.Command, error) {
		return domain.NewCommand(domain.CommandDeleteTask, domain.DeleteTaskData{TaskID: c.Param("taskId")})
	})
}

func postComment(d *deps) echo.HandlerFunc {
	return d.command("/api/tasks/:taskId/comments", http.StatusCreated, func(c echo.Context, userID string) (domain.Command, error) {
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(c, &body, false); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.CommandAddComment, domain.AddCommentData{
			TaskID:   c.Param("taskId"),
			AuthorID: userID,
			Content:  body.Content,
		})
	})
}

func postDragStart(d *deps) echo.HandlerFunc {
	return d.command("/api/drag/start", http.StatusOK, func(c echo.Context, _ string) (domain.Command, error) {
		var body domain.BeginDragData
		if err := decodeBody(c, &body, false); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(domain.CommandBeginDrag, body)
	})
}

func postDrag(d *deps, route, typ string) echo.HandlerFunc {
	return d.command(route, http.StatusOK, func(c echo.Context, _ string) (domain.Command, error) {
		var body domain.DragData
		if err := decodeBody(c, &body, false); err != nil {
			return domain.Command{}, err
		}
		return domain.NewCommand(typ, body)
	})
}

// postCommands applies a batch of commands in order. Commands whose
// idempotency key was already accepted are skipped and reported as duplicates.
func postCommands(d *deps) echo.HandlerFunc {
	return d.handle("/api/commands", func(c echo.Context, userID string, m *requestMetrics) error {
		ctx := c.Request().Context()
		var cmds []domain.Command
		if err := decodeBody(c, &cmds, true); err != nil {
			return writeError(c, m, err)
		}
		if len(cmds) == 0 || len(cmds) > maxBatchSize {
			return writeError(c, m, &domain.ValidationError{Field: "commands", Message: "expected between 1 and 100 commands"})
		}
		keys := finalizeCommands(cmds)

		fresh, err := d.claim(ctx, userID, keys)
		if err != nil {
			m.Fail("dedupe", err)
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to record idempotency keys"})
		}

		results := make([]commandResult, len(cmds))
		pending := make([]domain.Command, 0, len(cmds))
		var pendingIdx []int
		for i, cmd := range cmds {
			results[i].IdempotencyKey = cmd.IdempotencyKey
			if !fresh[i] {
				results[i].Status = http.StatusOK
				results[i].Duplicate = true
				continue
			}
			pending = append(pending, cmd)
			pendingIdx = append(pendingIdx, i)
		}
		m.SetCommands(len(cmds), len(cmds)-len(pending))

		res, err := d.svc.apply(ctx, userID, pending, m)
		if err != nil {
			d.release(ctx, userID, keysOf(pending))
			return writeError(c, m, err)
		}

		var rejected []string
		for j, i := range pendingIdx {
			if err := res.Errs[j]; err != nil {
				results[i].Status = statusForError(err)
				results[i].Error = err.Error()
				rejected = append(rejected, cmds[i].IdempotencyKey)
				continue
			}
			out := res.Outcomes[j]
			results[i].Status = http.StatusOK
			results[i].Outcome = &out
		}
		d.release(ctx, userID, rejected)

		return writeJSON(c, m, http.StatusOK, batchResponse{Results: results, Board: res.Board})
	})
}

// claim records keys with the deduper and reports which are new. Keys added
// before a failure are released again.
func (d *deps) claim(ctx context.Context, userID string, keys []string) ([]bool, error) {
	fresh := make([]bool, len(keys))
	if d.deduper == nil {
		for i := range fresh {
			fresh[i] = true
		}
		return fresh, nil
	}
	added, err := d.deduper.AddMany(ctx, userID, keys)
	if err != nil {
		var claimed []string
		for i, ok := range added {
			if ok {
				claimed = append(claimed, keys[i])
			}
		}
		d.release(ctx, userID, claimed)
		return nil, err
	}
	copy(fresh, added)
	return fresh, nil
}

func (d *deps) release(ctx context.Context, userID string, keys []string) {
	if d.deduper == nil || len(keys) == 0 {
		return
	}
	if err := d.deduper.RemoveMany(ctx, userID, keys); err != nil {
		d.logger.WithError(err).WithField("user", userID).Warn("failed to release idempotency keys")
	}
}

func keysOf(cmds []domain.Command) []string {
	keys := make([]string, len(cmds))
	for i, c := range cmds {
		keys[i] = c.IdempotencyKey
	}
	return keys
}

func getBoard(d *deps) echo.HandlerFunc {
	return d.handle("/api/board", func(c echo.Context, userID string, m *requestMetrics) error {
		sess, err := d.svc.session(c.Request().Context(), userID, m)
		if err != nil {
			return writeError(c, m, err)
		}
		m.SetTasksReturned(len(sess.Tasks()))
		return writeJSON(c, m, http.StatusOK, boardResponse{Board: sess.View()})
	})
}

// location resolves the tz query parameter, defaulting to UTC.
func location(c echo.Context) (*time.Location, error) {
	name := strings.TrimSpace(c.QueryParam("tz"))
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, &domain.ValidationError{Field: "tz", Message: "unknown time zone " + name}
	}
	return loc, nil
}
