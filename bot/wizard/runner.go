package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/copperxbot/core/logger"
	"github.com/m3rciful/copperxbot/core/session"
)

// Store is the session store as the runner uses it. *session.Manager implements it.
type Store interface {
	Credentials
	Get(ctx context.Context, userID int64) (session.Session, error)
	Merge(ctx context.Context, userID int64, p session.Patch) error
	ClearWizard(ctx context.Context, userID int64) error
	Serialize(ctx context.Context, userID int64, fn func(ctx context.Context) error) error
}

// Notifier receives the subscription effects.
type Notifier interface {
	Subscribe(ctx context.Context, userID int64, creds session.Credentials) error
	Unsubscribe(userID int64)
}

// Runner applies one turn per event: read, transition, store, then effects.
type Runner struct {
	store    Store
	machine  *Machine
	notifier Notifier
	effects  sync.WaitGroup
}

// NewRunner builds a Runner. notifier may be nil.
func NewRunner(store Store, machine *Machine, notifier Notifier) *Runner {
	return &Runner{store: store, machine: machine, notifier: notifier}
}

// Handle runs one turn for userID while holding the user's turn lock.
// Effects start only after the session update is stored and never fail the turn.
func (r *Runner) Handle(ctx context.Context, userID int64, ev Event) (Reply, error) {
	start := time.Now()
	var (
		res  Result
		from string
	)
	err := r.store.Serialize(ctx, userID, func(ctx context.Context) error {
		s, err := r.store.Get(ctx, userID)
		if err != nil {
			return err
		}
		if s.Wizard != nil {
			from = s.Wizard.Step
		}
		res, err = r.machine.Transition(logger.WithStep(ctx, from), userID, s, ev)
		if err != nil {
			return err
		}
		return r.apply(ctx, userID, res.Patch)
	})

	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("event_kind", ev.kind()),
		slog.String("step_from", from),
		slog.String("step_to", stepAfter(from, res.Patch)),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
		logger.LogEvent(ctx, logger.Wizard, slog.LevelWarn, "wizard.turn", attrs...)
		return Reply{}, fmt.Errorf("wizard turn: %w", err)
	}
	logger.LogEvent(ctx, logger.Wizard, slog.LevelDebug, "wizard.turn", attrs...)

	r.launch(ctx, userID, res.Effects)
	return res.Reply, nil
}

// InProgress reports whether the user has a flow waiting for text.
func (r *Runner) InProgress(ctx context.Context, userID int64) (bool, error) {
	s, err := r.store.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return !s.Idle(), nil
}

// Wait blocks until launched effects finish.
func (r *Runner) Wait() {
	r.effects.Wait()
}

func (r *Runner) apply(ctx context.Context, userID int64, p session.Patch) error {
	if p.Empty() {
		return nil
	}
	if p == clearOnly() {
		return r.store.ClearWizard(ctx, userID)
	}
	return r.store.Merge(ctx, userID, p)
}

func (r *Runner) launch(ctx context.Context, userID int64, effects []Effect) {
	if r.notifier == nil || len(effects) == 0 {
		return
	}
	// Effects outlive the update that caused them but keep its log fields.
	bg := context.WithoutCancel(ctx)
	for _, eff := range effects {
		r.effects.Add(1)
		go func(eff Effect) {
			defer r.effects.Done()
			var err error
			switch e := eff.(type) {
			case Subscribe:
				err = r.notifier.Subscribe(bg, userID, e.Credentials)
			case Unsubscribe:
				r.notifier.Unsubscribe(userID)
			}
			if err != nil {
				logger.LogEvent(bg, logger.Wizard, slog.LevelWarn, "wizard.effect_failed",
					slog.String("effect", eff.effect()),
					slog.Int64("user_id", userID),
					slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
				)
			}
		}(eff)
	}
}

func stepAfter(from string, p session.Patch) string {
	switch {
	case p.Wizard != nil:
		return p.Wizard.Step
	case p.ClearWizard:
		return ""
	}
	return from
}
