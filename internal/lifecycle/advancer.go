package lifecycle

import (
	"context"
	"time"

	"github.com/soulvan/soulvan-backend/internal/pkg/dbctx"
	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
	"github.com/soulvan/soulvan-backend/internal/repos"
)

// Advancer is the background driver: it claims submissions sitting in
// pre-open pipeline states and pushes each one stage forward. Submissions
// whose last attempt failed sit out RetryDelay before being reclaimed.
type Advancer struct {
	log   *logger.Logger
	subs  repos.SubmissionRepo
	coord *Coordinator
	tick  time.Duration
}

func NewAdvancer(log *logger.Logger, subs repos.SubmissionRepo, coord *Coordinator, tick time.Duration) *Advancer {
	if tick <= 0 {
		tick = time.Second
	}
	return &Advancer{
		log:   log.With("component", "SubmissionAdvancer"),
		subs:  subs,
		coord: coord,
		tick:  tick,
	}
}

func (a *Advancer) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(a.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.drain(ctx)
			}
		}
	}()
}

// drain claims and processes until no runnable submission remains, so a
// burst of submissions does not wait one tick per stage.
func (a *Advancer) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sub, err := a.subs.ClaimNextAdvancable(dbctx.From(ctx),
			a.coord.cfg.RetryBudget, a.coord.cfg.RetryDelay)
		if err != nil {
			a.log.Warn("ClaimNextAdvancable failed", "error", err)
			return
		}
		if sub == nil {
			return
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					a.log.Error("stage panic",
						"submission_id", sub.ID.String(),
						"state", string(sub.State),
						"panic", r)
				}
			}()

			// advanceClaimed scopes the per-id lock around its own
			// commits, never across the external calls
			if _, err := a.coord.advanceClaimed(ctx, sub); err != nil {
				a.log.Warn("advance failed",
					"submission_id", sub.ID.String(),
					"state", string(sub.State),
					"error", err)
			}
		}()
	}
}
