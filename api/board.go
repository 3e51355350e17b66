package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// sessionLocks serialises work per board session. Entries are dropped once no
// request holds or waits for them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

func (l *sessionLocks) lock(userID string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*sessionLock{}
	}
	sl, ok := l.locks[userID]
	if !ok {
		sl = &sessionLock{}
		l.locks[userID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.Lock()
	return func() {
		sl.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

// boardService loads a session, applies commands to it and persists the
// result.
type boardService struct {
	store  Storage
	logger *log.Logger
	locks  sessionLocks
	opts   []domain.Option
}

func newBoardService(store Storage, logger *log.Logger, opts ...domain.Option) *boardService {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &boardService{store: store, logger: logger, opts: opts}
}

// applyResult holds the per-command outcome of a batch, in request order.
type applyResult struct {
	Outcomes []domain.Outcome
	Errs     []error
	Changed  bool
	Board    domain.Board
}

// session loads the current state of the user's board for read-only views.
func (b *boardService) session(ctx context.Context, userID string, m *requestMetrics) (*domain.Session, error) {
	start := time.Now()
	snap, _, err := b.store.LoadBoard(ctx, userID)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}
	return domain.NewSession(snap, b.opts...), nil
}

// apply runs cmds in order under the session lock. A command that fails is
// reported in Errs and does not stop the batch. The snapshot is saved once
// when any command changed it; a storage failure aborts the whole batch.
func (b *boardService) apply(ctx context.Context, userID string, cmds []domain.Command, m *requestMetrics) (applyResult, error) {
	unlock := b.locks.lock(userID)
	defer unlock()

	sess, err := b.session(ctx, userID, m)
	if err != nil {
		return applyResult{}, err
	}

	res := applyResult{
		Outcomes: make([]domain.Outcome, len(cmds)),
		Errs:     make([]error, len(cmds)),
	}
	var events []domain.Event
	for i, cmd := range cmds {
		out, err := sess.Apply(cmd)
		res.Outcomes[i], res.Errs[i] = out, err
		if err != nil {
			b.logger.WithFields(log.Fields{"user": userID, "command": cmd.Type, "key": cmd.IdempotencyKey}).
				WithError(err).Debug("command rejected")
			continue
		}
		res.Changed = res.Changed || out.Changed
		events = append(events, out.Events...)
	}
	if err := domain.CheckPositions(sess.Tasks()); err != nil {
		b.logger.WithError(err).WithField("user", userID).Error("task positions inconsistent after apply")
	}
	res.Board = sess.View()
	m.SetChanged(res.Changed)
	if !res.Changed {
		return res, nil
	}

	start := time.Now()
	if err := b.store.SaveBoard(ctx, userID, sess.Snapshot()); err != nil {
		m.ObserveStore(time.Since(start))
		return applyResult{}, fmt.Errorf("save board: %w", err)
	}
	for i := range events {
		events[i].UserID = userID
	}
	// The board is already saved, so a failed publish is only logged.
	if err := b.store.PublishEvents(ctx, userID, events); err != nil {
		b.logger.WithError(err).WithFields(log.Fields{"user": userID, "events": len(events)}).Warn("failed to publish board events")
	}
	m.ObserveStore(time.Since(start))
	return res, nil
}
