package lifecycle

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/soulvan/soulvan-backend/internal/audit"
	"github.com/soulvan/soulvan-backend/internal/domain"
	"github.com/soulvan/soulvan-backend/internal/pkg/dbctx"
	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
	"github.com/soulvan/soulvan-backend/internal/platform/redisbus"
	"github.com/soulvan/soulvan-backend/internal/provenance"
	"github.com/soulvan/soulvan-backend/internal/repos"
	"github.com/soulvan/soulvan-backend/internal/rules"
	"github.com/soulvan/soulvan-backend/internal/storage"
)

const (
	EventVote = "vote"
	EventPlay = "play"
	EventView = "view"
)

// Auditor scores an artifact against the reference corpus.
type Auditor interface {
	Audit(ctx context.Context, artifactRef string) (audit.Result, error)
}

// Signer mints the provenance attestation for an artifact.
type Signer interface {
	Sign(artifactRef, submitter, kind string) (provenance.Attestation, error)
}

// Storer replicates an artifact across the configured backends.
type Storer interface {
	StoreAll(ctx context.Context, req storage.StoreRequest, existing map[string]string) (map[string]string, error)
}

type Config struct {
	// RetryBudget caps processing attempts per submission before the
	// lifecycle gives up and parks it in the failed state.
	RetryBudget int
	// RetryDelay is how long a submission sits out after a transient
	// failure before the advancer will pick it up again.
	RetryDelay time.Duration
	// StageTimeout bounds each external call (audit, sign, store).
	StageTimeout time.Duration
	// OriginalityFloor rejects submissions whose audited score falls
	// below it.
	OriginalityFloor float64
}

func (c Config) withDefaults() Config {
	if c.RetryBudget <= 0 {
		c.RetryBudget = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 2 * time.Minute
	}
	if c.OriginalityFloor <= 0 {
		c.OriginalityFloor = 0.2
	}
	return c
}

// Coordinator owns the submission lifecycle: it creates submissions, drives
// them through audit, sign, store and open, and applies threshold effects as
// engagement events arrive. All writes go through guarded repo updates so a
// stale in-memory snapshot can never clobber a newer row.
type Coordinator struct {
	log     *logger.Logger
	db      *gorm.DB
	subs    repos.SubmissionRepo
	votes   repos.VoteRepo
	effects repos.EffectRepo
	auditor Auditor
	signer  Signer
	storer  Storer
	table   rules.Table
	bus     redisbus.Bus
	locks   *keyedMutex
	cfg     Config
}

func NewCoordinator(
	log *logger.Logger,
	db *gorm.DB,
	subs repos.SubmissionRepo,
	votes repos.VoteRepo,
	effects repos.EffectRepo,
	auditor Auditor,
	signer Signer,
	storer Storer,
	table rules.Table,
	bus redisbus.Bus,
	cfg Config,
) (*Coordinator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if subs == nil || votes == nil || effects == nil {
		return nil, fmt.Errorf("lifecycle: repos are required")
	}
	if auditor == nil || signer == nil || storer == nil {
		return nil, fmt.Errorf("lifecycle: auditor, signer and storer are required")
	}
	if table == nil {
		table = rules.Defaults()
	}
	if bus == nil {
		bus = redisbus.NopBus{}
	}
	return &Coordinator{
		log:     log.With("service", "LifecycleCoordinator"),
		db:      db,
		subs:    subs,
		votes:   votes,
		effects: effects,
		auditor: auditor,
		signer:  signer,
		storer:  storer,
		table:   table,
		bus:     bus,
		locks:   newKeyedMutex(),
		cfg:     cfg.withDefaults(),
	}, nil
}

// inTx runs fn inside one database transaction so paired writes land or
// roll back together. Without a handle fn runs on the bare connection.
func (c *Coordinator) inTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if c.db == nil {
		return fn(dbctx.From(ctx))
	}
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	})
}

// Submit registers a new artifact in the pending state. The artifact ref
// must point at a readable file; a bogus ref is rejected here instead of
// burning retries at the audit stage.
func (c *Coordinator) Submit(ctx context.Context, kind domain.SubmissionKind, submitter, artifactRef string) (*domain.Submission, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidArtifact, kind)
	}
	if strings.TrimSpace(submitter) == "" {
		return nil, fmt.Errorf("%w: submitter identity is required", domain.ErrInvalidArtifact)
	}
	if strings.TrimSpace(artifactRef) == "" {
		return nil, fmt.Errorf("%w: artifact ref is required", domain.ErrInvalidArtifact)
	}
	fi, err := os.Stat(artifactRef)
	if err != nil {
		return nil, fmt.Errorf("%w: artifact not readable: %v", domain.ErrInvalidArtifact, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: artifact ref %s is a directory", domain.ErrInvalidArtifact, artifactRef)
	}

	sub := &domain.Submission{
		ID:                uuid.New(),
		Kind:              kind,
		SubmitterIdentity: submitter,
		ArtifactRef:       artifactRef,
		State:             domain.StatePending,
	}
	sub.SetCounterMap(map[string]int64{})
	sub.SetLocators(map[string]string{})
	sub.SetApplied(nil)

	if err := c.subs.Create(dbctx.From(ctx), sub); err != nil {
		return nil, err
	}
	c.log.Info("submission created",
		"submission_id", sub.ID.String(),
		"kind", string(kind),
		"submitter", submitter)
	return sub, nil
}

// Get returns the submission, including terminal cause fields.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (*domain.Submission, error) {
	return c.subs.GetByID(dbctx.From(ctx), id)
}

// Voters lists the identities in the voter ledger, oldest first.
func (c *Coordinator) Voters(ctx context.Context, id uuid.UUID) ([]string, error) {
	if _, err := c.subs.GetByID(dbctx.From(ctx), id); err != nil {
		return nil, err
	}
	return c.votes.ListVoters(dbctx.From(ctx), id)
}

// Effects lists the threshold effects recorded for the submission.
func (c *Coordinator) Effects(ctx context.Context, id uuid.UUID) ([]*domain.EffectRecord, error) {
	if _, err := c.subs.GetByID(dbctx.From(ctx), id); err != nil {
		return nil, err
	}
	return c.effects.ListBySubmission(dbctx.From(ctx), id)
}

// Advance drives the submission exactly one stage forward. Calling it on a
// votable submission is a no-op; calling it on a terminal one is an error.
func (c *Coordinator) Advance(ctx context.Context, id uuid.UUID) (*domain.Submission, error) {
	sub, claimed, err := c.claimAttempt(ctx, id)
	if err != nil || !claimed {
		return sub, err
	}
	return c.advanceClaimed(ctx, sub)
}

// claimAttempt validates the submission and accounts one attempt under the
// per-id lock. claimed is false for votable submissions, which Advance
// treats as a no-op.
func (c *Coordinator) claimAttempt(ctx context.Context, id uuid.UUID) (*domain.Submission, bool, error) {
	c.locks.Lock(id.String())
	defer c.locks.Unlock(id.String())

	sub, err := c.subs.GetByID(dbctx.From(ctx), id)
	if err != nil {
		return nil, false, err
	}
	if sub.State.Terminal() {
		return sub, false, fmt.Errorf("%w: submission is %s", domain.ErrInvalidTransition, sub.State)
	}
	if sub.State.Votable() {
		return sub, false, nil
	}

	// direct calls account an attempt the same way a worker claim does
	if err := c.subs.UpdateFields(dbctx.From(ctx), id, map[string]interface{}{
		"attempts": sub.Attempts + 1,
	}); err != nil {
		return nil, false, err
	}
	sub.Attempts++
	return sub, true, nil
}

// advanceClaimed runs the stage for a submission whose attempt was already
// accounted (either by Advance or by the worker claim). The per-id lock is
// NOT held across the external audit/sign/store round trips; commit and
// failure bookkeeping re-acquire it and re-validate state, so events on the
// same submission never queue behind slow collaborator I/O.
func (c *Coordinator) advanceClaimed(ctx context.Context, sub *domain.Submission) (*domain.Submission, error) {
	var err error
	switch sub.State {
	case domain.StatePending:
		err = c.stageAudit(ctx, sub)
	case domain.StateAudited:
		err = c.stageSign(ctx, sub)
	case domain.StateSigned:
		err = c.stageStore(ctx, sub)
	case domain.StateStored:
		err = c.stageOpen(ctx, sub)
	default:
		return sub, nil
	}
	if err != nil {
		return sub, c.recordStageFailure(ctx, sub, err)
	}

	fresh, gerr := c.subs.GetByID(dbctx.From(ctx), sub.ID)
	if gerr != nil {
		return sub, gerr
	}
	c.publish(ctx, fresh, "", 0)
	return fresh, nil
}

func (c *Coordinator) stageAudit(ctx context.Context, sub *domain.Submission) error {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.StageTimeout)
	defer cancel()

	res, err := c.auditor.Audit(callCtx, sub.ArtifactRef)
	if err != nil {
		return err
	}
	return c.commit(ctx, sub, domain.StateAudited, map[string]interface{}{
		"originality_score": res.Score,
	})
}

func (c *Coordinator) stageSign(ctx context.Context, sub *domain.Submission) error {
	if sub.OriginalityScore != nil && *sub.OriginalityScore < c.cfg.OriginalityFloor {
		c.log.Info("submission rejected below originality floor",
			"submission_id", sub.ID.String(),
			"score", *sub.OriginalityScore,
			"floor", c.cfg.OriginalityFloor)
		return c.commit(ctx, sub, domain.StateRejected, map[string]interface{}{
			"last_error": fmt.Sprintf("originality score %.4f below floor %.4f",
				*sub.OriginalityScore, c.cfg.OriginalityFloor),
		})
	}
	if sub.Signature != "" {
		return fmt.Errorf("%w: submission %s", domain.ErrAlreadySigned, sub.ID)
	}

	att, err := c.signer.Sign(sub.ArtifactRef, sub.SubmitterIdentity, string(sub.Kind))
	if err != nil {
		return err
	}
	return c.commit(ctx, sub, domain.StateSigned, map[string]interface{}{
		"artifact_hash": att.ArtifactSHA256,
		"signature":     att.Signature,
	})
}

func (c *Coordinator) stageStore(ctx context.Context, sub *domain.Submission) error {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.StageTimeout)
	defer cancel()

	req := storage.StoreRequest{
		SubmissionID:   sub.ID.String(),
		Kind:           string(sub.Kind),
		ArtifactRef:    sub.ArtifactRef,
		ArtifactSHA256: sub.ArtifactHash,
	}
	locators, err := c.storer.StoreAll(callCtx, req, sub.Locators())
	if err != nil {
		// keep whatever landed so the retry only re-runs failed backends
		if len(locators) > 0 {
			next := &domain.Submission{}
			next.SetLocators(locators)
			c.locks.Lock(sub.ID.String())
			defer c.locks.Unlock(sub.ID.String())
			if _, uerr := c.subs.UpdateFieldsIfState(dbctx.From(ctx), sub.ID, sub.State, map[string]interface{}{
				"storage_locators": next.StorageLocators,
			}); uerr != nil {
				c.log.Error("persisting partial locators failed",
					"submission_id", sub.ID.String(), "error", uerr)
			}
		}
		return err
	}

	next := &domain.Submission{}
	next.SetLocators(locators)
	return c.commit(ctx, sub, domain.StateStored, map[string]interface{}{
		"storage_locators": next.StorageLocators,
	})
}

func (c *Coordinator) stageOpen(ctx context.Context, sub *domain.Submission) error {
	if err := c.commit(ctx, sub, domain.StateOpen, nil); err != nil {
		return err
	}
	sub.State = domain.StateOpen

	due := rules.OnOpen(c.table.Rule(sub.Kind), sub.HasApplied)
	if len(due) == 0 {
		return nil
	}
	// applyEffects always runs under the per-id lock
	c.locks.Lock(sub.ID.String())
	defer c.locks.Unlock(sub.ID.String())
	fresh, err := c.subs.GetByID(dbctx.From(ctx), sub.ID)
	if err != nil {
		return err
	}
	return c.applyEffects(ctx, fresh, due)
}

// commit moves the submission to next while it still sits in its loaded
// state, clearing retry bookkeeping. The per-id lock is taken only around
// the guarded write. A lost race is not an error: some other writer
// advanced the row first and the caller re-reads.
func (c *Coordinator) commit(ctx context.Context, sub *domain.Submission, next domain.SubmissionState, updates map[string]interface{}) error {
	if !domain.CanTransition(sub.State, next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, sub.State, next)
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["state"] = next
	updates["attempts"] = 0
	if _, ok := updates["last_error"]; !ok {
		updates["last_error"] = ""
	}
	updates["last_error_at"] = nil

	c.locks.Lock(sub.ID.String())
	defer c.locks.Unlock(sub.ID.String())
	ok, err := c.subs.UpdateFieldsIfState(dbctx.From(ctx), sub.ID, sub.State, updates)
	if err != nil {
		return err
	}
	if !ok {
		c.log.Warn("stage commit lost the race",
			"submission_id", sub.ID.String(),
			"from", string(sub.State),
			"to", string(next))
	}
	return nil
}

func (c *Coordinator) recordStageFailure(ctx context.Context, sub *domain.Submission, stageErr error) error {
	if !domain.Transient(stageErr) {
		return stageErr
	}

	now := time.Now()
	updates := map[string]interface{}{
		"last_error":    stageErr.Error(),
		"last_error_at": &now,
	}
	exhausted := sub.Attempts >= c.cfg.RetryBudget
	if exhausted {
		updates["state"] = domain.StateFailed
	}
	c.locks.Lock(sub.ID.String())
	defer c.locks.Unlock(sub.ID.String())
	if _, err := c.subs.UpdateFieldsIfState(dbctx.From(ctx), sub.ID, sub.State, updates); err != nil {
		c.log.Error("recording stage failure failed",
			"submission_id", sub.ID.String(), "error", err)
	}
	if exhausted {
		c.log.Warn("retry budget exhausted",
			"submission_id", sub.ID.String(),
			"attempts", sub.Attempts,
			"error", stageErr)
		return fmt.Errorf("%w: %v", domain.ErrRetryBudgetExhausted, stageErr)
	}
	return stageErr
}

// RecordEvent counts an engagement event and synchronously evaluates the
// threshold rules against the updated counters.
func (c *Coordinator) RecordEvent(ctx context.Context, id uuid.UUID, actorIdentity, eventType string) (*domain.Submission, error) {
	counter := ""
	switch eventType {
	case EventVote:
		counter = domain.CounterVotes
	case EventPlay:
		counter = domain.CounterPlays
	case EventView:
		counter = domain.CounterViews
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	if strings.TrimSpace(actorIdentity) == "" {
		return nil, fmt.Errorf("actor identity is required")
	}

	c.locks.Lock(id.String())
	defer c.locks.Unlock(id.String())

	sub, err := c.subs.GetByID(dbctx.From(ctx), id)
	if err != nil {
		return nil, err
	}
	if !sub.State.Votable() {
		return sub, fmt.Errorf("%w: submission is %s", domain.ErrNotVotable, sub.State)
	}

	counters := sub.CounterMap()
	counters[counter]++
	next := &domain.Submission{}
	next.SetCounterMap(counters)

	// the ledger insert and the counter bump land or roll back together,
	// so a failed bump never strands an identity in the voter ledger
	err = c.inTx(ctx, func(dbc dbctx.Context) error {
		if eventType == EventVote {
			inserted, err := c.votes.InsertIfAbsent(dbc, id, actorIdentity)
			if err != nil {
				return err
			}
			if !inserted {
				return fmt.Errorf("%w: %s already voted on %s", domain.ErrDuplicateVote, actorIdentity, id)
			}
		}
		ok, err := c.subs.UpdateFieldsIfState(dbc, id, sub.State, map[string]interface{}{
			"counters": next.Counters,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: submission left state %s", domain.ErrNotVotable, sub.State)
		}
		return nil
	})
	if err != nil {
		return sub, err
	}
	sub.SetCounterMap(counters)

	due := rules.Evaluate(c.table.Rule(sub.Kind), counters, sub.HasApplied)
	if len(due) > 0 {
		if err := c.applyEffects(ctx, sub, due); err != nil {
			return sub, err
		}
	}
	return c.subs.GetByID(dbctx.From(ctx), id)
}

// effectTargets maps each effect to the milestone state it advances toward.
var effectTargets = map[string]domain.SubmissionState{
	domain.EffectApprove: domain.StateApproved,
	domain.EffectFeature: domain.StateFeatured,
	domain.EffectReward:  domain.StateRewarded,
}

// applyEffects records each newly due effect once and advances the milestone
// state when the DAG allows it. Effects fire at most once per submission
// regardless of the state the row was in when the threshold crossed.
func (c *Coordinator) applyEffects(ctx context.Context, sub *domain.Submission, due []rules.Effect) error {
	applied := sub.Applied()
	state := sub.State

	for _, eff := range due {
		recorded, err := c.effects.RecordOnce(dbctx.From(ctx), sub.ID, eff.Name, eff.Amount)
		if err != nil {
			return err
		}
		if !recorded {
			continue
		}
		applied = append(applied, eff.Name)

		updates := map[string]interface{}{}
		next := &domain.Submission{}
		next.SetApplied(applied)
		updates["applied_effects"] = next.AppliedEffects

		target, hasTarget := effectTargets[eff.Name]
		advanced := hasTarget && domain.CanTransition(state, target)
		if advanced {
			updates["state"] = target
		}
		if _, err := c.subs.UpdateFieldsIfState(dbctx.From(ctx), sub.ID, state, updates); err != nil {
			return err
		}
		if advanced {
			state = target
		}

		c.log.Info("threshold effect applied",
			"submission_id", sub.ID.String(),
			"effect", eff.Name,
			"amount", eff.Amount,
			"state", string(state))
		c.publishEffect(ctx, sub, state, eff)
	}
	sub.SetApplied(applied)
	sub.State = state
	return nil
}

func (c *Coordinator) publish(ctx context.Context, sub *domain.Submission, effect string, amount int64) {
	err := c.bus.Publish(ctx, redisbus.Event{
		SubmissionID: sub.ID.String(),
		Kind:         string(sub.Kind),
		State:        string(sub.State),
		Effect:       effect,
		Amount:       amount,
	})
	if err != nil {
		c.log.Warn("publishing submission event failed",
			"submission_id", sub.ID.String(), "error", err)
	}
}

func (c *Coordinator) publishEffect(ctx context.Context, sub *domain.Submission, state domain.SubmissionState, eff rules.Effect) {
	err := c.bus.Publish(ctx, redisbus.Event{
		SubmissionID: sub.ID.String(),
		Kind:         string(sub.Kind),
		State:        string(state),
		Effect:       eff.Name,
		Amount:       eff.Amount,
	})
	if err != nil {
		c.log.Warn("publishing effect event failed",
			"submission_id", sub.ID.String(), "error", err)
	}
}
