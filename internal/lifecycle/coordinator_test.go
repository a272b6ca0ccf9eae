package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/soulvan/soulvan-backend/internal/domain"
	"github.com/soulvan/soulvan-backend/internal/pkg/dbctx"
	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
	"github.com/soulvan/soulvan-backend/internal/rules"
)

type fixture struct {
	coord    *Coordinator
	subs     *memSubmissionRepo
	votes    *memVoteRepo
	effects  *memEffectRepo
	auditor  *fakeAuditor
	signer   *fakeSigner
	storer   *fakeStorer
	artifact string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	artifact := filepath.Join(t.TempDir(), "a.bin")
	if err := os.WriteFile(artifact, []byte("artifact payload"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	f := &fixture{
		subs:     newMemSubmissionRepo(),
		votes:    newMemVoteRepo(),
		effects:  newMemEffectRepo(),
		auditor:  &fakeAuditor{score: 0.9},
		signer:   &fakeSigner{},
		storer:   &fakeStorer{outcome: allBackendsSucceed},
		artifact: artifact,
	}
	f.coord, err = NewCoordinator(log, nil, f.subs, f.votes, f.effects,
		f.auditor, f.signer, f.storer, rules.Defaults(), nil, cfg)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return f
}

func (f *fixture) submit(t *testing.T, kind domain.SubmissionKind) *domain.Submission {
	t.Helper()
	sub, err := f.coord.Submit(context.Background(), kind, "driver-1", f.artifact)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return sub
}

func (f *fixture) advanceTo(t *testing.T, id uuid.UUID, want domain.SubmissionState) *domain.Submission {
	t.Helper()
	var sub *domain.Submission
	var err error
	for i := 0; i < 10; i++ {
		sub, err = f.coord.Advance(context.Background(), id)
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if sub.State == want {
			return sub
		}
	}
	t.Fatalf("never reached %s, stuck at %s", want, sub.State)
	return nil
}

func TestPipelineHappyPath(t *testing.T) {
	f := newFixture(t, Config{})
	sub := f.submit(t, domain.KindRemix)

	if sub.State != domain.StatePending {
		t.Fatalf("fresh submission should be pending, got %s", sub.State)
	}

	sub = f.advanceTo(t, sub.ID, domain.StateOpen)
	if sub.OriginalityScore == nil || *sub.OriginalityScore != 0.9 {
		t.Fatalf("originality score not recorded: %+v", sub.OriginalityScore)
	}
	if sub.ArtifactHash == "" || sub.Signature == "" {
		t.Fatalf("provenance missing: %+v", sub)
	}
	loc := sub.Locators()
	if loc["gcs"] == "" || loc["ipfs"] == "" {
		t.Fatalf("locators missing: %v", loc)
	}
	if sub.Attempts != 0 {
		t.Fatalf("attempts should reset after success, got %d", sub.Attempts)
	}
}

func TestAdvanceOnVotableIsNoop(t *testing.T) {
	f := newFixture(t, Config{})
	sub := f.submit(t, domain.KindRemix)
	sub = f.advanceTo(t, sub.ID, domain.StateOpen)

	again, err := f.coord.Advance(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("Advance on open: %v", err)
	}
	if again.State != domain.StateOpen {
		t.Fatalf("open submission moved to %s", again.State)
	}
}

func TestOriginalityFloorRejects(t *testing.T) {
	f := newFixture(t, Config{OriginalityFloor: 0.2})
	f.auditor.score = 0.0 // exact duplicate of a reference
	sub := f.submit(t, domain.KindRemix)

	sub = f.advanceTo(t, sub.ID, domain.StateRejected)
	if sub.LastError == "" {
		t.Fatal("rejection should record the cause")
	}
	if f.signer.calls != 0 {
		t.Fatal("rejected submission must never be signed")
	}

	// terminal states are absorbing
	_, err := f.coord.Advance(context.Background(), sub.ID)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestEmptyCorpusOpensCleanly(t *testing.T) {
	f := newFixture(t, Config{})
	f.auditor.score = 1.0 // nothing to resemble
	sub := f.submit(t, domain.KindVoiceClip)

	sub = f.advanceTo(t, sub.ID, domain.StateOpen)
	if *sub.OriginalityScore != 1.0 {
		t.Fatalf("expected perfect score, got %v", *sub.OriginalityScore)
	}
}

func TestPartialStorageRetriesOnlyFailedBackends(t *testing.T) {
	f := newFixture(t, Config{})
	failures := 0
	f.storer.outcome = func(existing map[string]string) (map[string]string, error) {
		out := map[string]string{}
		for k, v := range existing {
			out[k] = v
		}
		if _, ok := out["gcs"]; !ok {
			out["gcs"] = "gs://bucket/x"
		}
		if _, ok := out["ipfs"]; !ok && failures == 0 {
			failures++
			return out, &domain.PartialStorageError{
				Stored: out,
				Failed: map[string]error{"ipfs": errors.New("pin service down")},
			}
		}
		out["ipfs"] = "ipfs://cid-x"
		return out, nil
	}

	sub := f.submit(t, domain.KindReplay)
	sub = f.advanceTo(t, sub.ID, domain.StateSigned)

	// first store attempt: gcs lands, ipfs fails, state stays signed
	got, err := f.coord.Advance(context.Background(), sub.ID)
	if err == nil {
		t.Fatal("expected partial storage failure")
	}
	var partial *domain.PartialStorageError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialStorageError, got %v", err)
	}
	got, err = f.coord.Get(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != domain.StateSigned {
		t.Fatalf("partial failure must not advance state, got %s", got.State)
	}
	if got.Locators()["gcs"] == "" {
		t.Fatal("successful locator must persist across the failure")
	}

	// retry: ipfs recovers, gcs is not re-uploaded
	got = f.advanceTo(t, sub.ID, domain.StateStored)
	if failures != 1 {
		t.Fatalf("ipfs should have failed exactly once, got %d", failures)
	}
	loc := got.Locators()
	if loc["gcs"] == "" || loc["ipfs"] == "" {
		t.Fatalf("locators incomplete after retry: %v", loc)
	}
}

func TestRetryBudgetExhaustionFails(t *testing.T) {
	f := newFixture(t, Config{RetryBudget: 3, RetryDelay: time.Millisecond})
	f.auditor.err = fmt.Errorf("%w: embed service down", domain.ErrEmbedding)
	sub := f.submit(t, domain.KindRemix)

	var lastErr error
	for i := 0; i < 3; i++ {
		_, lastErr = f.coord.Advance(context.Background(), sub.ID)
		if lastErr == nil {
			t.Fatal("expected audit failure")
		}
	}
	if !errors.Is(lastErr, domain.ErrRetryBudgetExhausted) {
		t.Fatalf("expected ErrRetryBudgetExhausted, got %v", lastErr)
	}

	got, err := f.coord.Get(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != domain.StateFailed {
		t.Fatalf("expected failed state, got %s", got.State)
	}
	if got.LastError == "" {
		t.Fatal("failure cause must be recorded")
	}
}

func TestEventsRejectedBeforeOpen(t *testing.T) {
	f := newFixture(t, Config{})
	sub := f.submit(t, domain.KindRemix)

	_, err := f.coord.RecordEvent(context.Background(), sub.ID, "voter-1", EventVote)
	if !errors.Is(err, domain.ErrNotVotable) {
		t.Fatalf("expected ErrNotVotable, got %v", err)
	}
}

func TestDuplicateVoteRejectedAndNotCounted(t *testing.T) {
	f := newFixture(t, Config{})
	sub := f.submit(t, domain.KindRemix)
	f.advanceTo(t, sub.ID, domain.StateOpen)

	if _, err := f.coord.RecordEvent(context.Background(), sub.ID, "voter-1", EventVote); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	_, err := f.coord.RecordEvent(context.Background(), sub.ID, "voter-1", EventVote)
	if !errors.Is(err, domain.ErrDuplicateVote) {
		t.Fatalf("expected ErrDuplicateVote, got %v", err)
	}

	got, err := f.coord.Get(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CounterMap()[domain.CounterVotes] != 1 {
		t.Fatalf("duplicate vote must not count: %v", got.CounterMap())
	}

	voters, err := f.coord.Voters(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("Voters: %v", err)
	}
	if len(voters) != 1 || voters[0] != "voter-1" {
		t.Fatalf("unexpected ledger: %v", voters)
	}
}

func TestViewsAreNotDeduplicated(t *testing.T) {
	f := newFixture(t, Config{})
	sub := f.submit(t, domain.KindReplay)
	f.advanceTo(t, sub.ID, domain.StateOpen)

	for i := 0; i < 3; i++ {
		if _, err := f.coord.RecordEvent(context.Background(), sub.ID, "viewer-1", EventView); err != nil {
			t.Fatalf("view %d: %v", i, err)
		}
	}
	got, _ := f.coord.Get(context.Background(), sub.ID)
	if got.CounterMap()[domain.CounterViews] != 3 {
		t.Fatalf("repeat views from one identity must all count: %v", got.CounterMap())
	}
}

func TestRemixApprovedOnTenthVote(t *testing.T) {
	f := newFixture(t, Config{})
	sub := f.submit(t, domain.KindRemix)
	f.advanceTo(t, sub.ID, domain.StateOpen)

	for i := 1; i <= 9; i++ {
		got, err := f.coord.RecordEvent(context.Background(), sub.ID, fmt.Sprintf("voter-%d", i), EventVote)
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		if got.State != domain.StateOpen {
			t.Fatalf("approved before threshold at vote %d: %s", i, got.State)
		}
	}

	got, err := f.coord.RecordEvent(context.Background(), sub.ID, "voter-10", EventVote)
	if err != nil {
		t.Fatalf("vote 10: %v", err)
	}
	if got.State != domain.StateApproved {
		t.Fatalf("tenth vote should approve, got %s", got.State)
	}

	effects, err := f.coord.Effects(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("Effects: %v", err)
	}
	if len(effects) != 1 || effects[0].Effect != domain.EffectApprove {
		t.Fatalf("expected single approve effect: %+v", effects)
	}

	// more votes never re-fire the approve effect
	if _, err := f.coord.RecordEvent(context.Background(), sub.ID, "voter-11", EventVote); err != nil {
		t.Fatalf("vote 11: %v", err)
	}
	effects, _ = f.coord.Effects(context.Background(), sub.ID)
	if len(effects) != 1 {
		t.Fatalf("approve effect fired twice: %+v", effects)
	}
}

func TestReplayFeaturedOnHundredthView(t *testing.T) {
	f := newFixture(t, Config{})
	sub := f.submit(t, domain.KindReplay)
	f.advanceTo(t, sub.ID, domain.StateOpen)

	var got *domain.Submission
	var err error
	for i := 1; i <= 100; i++ {
		got, err = f.coord.RecordEvent(context.Background(), sub.ID, fmt.Sprintf("viewer-%d", i%7), EventView)
		if err != nil {
			t.Fatalf("view %d: %v", i, err)
		}
		if i < 100 && got.State != domain.StateOpen {
			t.Fatalf("featured early at view %d: %s", i, got.State)
		}
	}
	if got.State != domain.StateFeatured {
		t.Fatalf("hundredth view should feature, got %s", got.State)
	}
}

func TestTuningKitRewardTruncates(t *testing.T) {
	f := newFixture(t, Config{})
	sub := f.submit(t, domain.KindTuningKit)
	f.advanceTo(t, sub.ID, domain.StateOpen)

	var got *domain.Submission
	var err error
	for i := 1; i <= 10; i++ {
		got, err = f.coord.RecordEvent(context.Background(), sub.ID, fmt.Sprintf("voter-%d", i), EventVote)
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
	}
	if got.State != domain.StateRewarded {
		t.Fatalf("tenth vote should reward, got %s", got.State)
	}
	effects, _ := f.coord.Effects(context.Background(), sub.ID)
	if len(effects) != 1 || effects[0].Effect != domain.EffectReward || effects[0].Amount != 1 {
		t.Fatalf("expected one reward of 1 unit: %+v", effects)
	}
}

func TestRenderJobApprovedOnOpen(t *testing.T) {
	f := newFixture(t, Config{})
	sub := f.submit(t, domain.KindRenderJob)

	got := f.advanceTo(t, sub.ID, domain.StateApproved)
	if !got.HasApplied(domain.EffectApprove) {
		t.Fatalf("approve effect not in ledger: %+v", got.Applied())
	}
	effects, _ := f.coord.Effects(context.Background(), sub.ID)
	if len(effects) != 1 || effects[0].Effect != domain.EffectApprove {
		t.Fatalf("expected approve effect on open: %+v", effects)
	}
}

func TestPlaysCountSeparately(t *testing.T) {
	f := newFixture(t, Config{})
	sub := f.submit(t, domain.KindRemix)
	f.advanceTo(t, sub.ID, domain.StateOpen)

	for i := 0; i < 4; i++ {
		if _, err := f.coord.RecordEvent(context.Background(), sub.ID, "listener-1", EventPlay); err != nil {
			t.Fatalf("play %d: %v", i, err)
		}
	}
	got, _ := f.coord.Get(context.Background(), sub.ID)
	counters := got.CounterMap()
	if counters[domain.CounterPlays] != 4 || counters[domain.CounterVotes] != 0 {
		t.Fatalf("unexpected counters: %v", counters)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.coord.Submit(context.Background(), "poster", "driver-1", f.artifact); err == nil {
		t.Fatal("unknown kind should be rejected")
	}
	if _, err := f.coord.Submit(context.Background(), domain.KindRemix, "", f.artifact); err == nil {
		t.Fatal("empty submitter should be rejected")
	}
	if _, err := f.coord.Submit(context.Background(), domain.KindRemix, "driver-1", ""); err == nil {
		t.Fatal("empty artifact ref should be rejected")
	}
}

func TestSubmitRejectsUnreadableArtifact(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.coord.Submit(context.Background(), domain.KindRemix, "driver-1",
		filepath.Join(t.TempDir(), "nope.bin"))
	if !errors.Is(err, domain.ErrInvalidArtifact) {
		t.Fatalf("missing artifact should fail with ErrInvalidArtifact, got %v", err)
	}

	_, err = f.coord.Submit(context.Background(), domain.KindRemix, "driver-1", t.TempDir())
	if !errors.Is(err, domain.ErrInvalidArtifact) {
		t.Fatalf("directory ref should fail with ErrInvalidArtifact, got %v", err)
	}

	// nothing reached the pending queue
	if stats, _ := f.subs.CountsByKindState(dbctx.Background()); len(stats) != 0 {
		t.Fatalf("rejected submissions must not persist: %+v", stats)
	}
}

func TestEventsNotBlockedByStorageCall(t *testing.T) {
	f := newFixture(t, Config{})
	sub := f.submit(t, domain.KindRemix)
	f.advanceTo(t, sub.ID, domain.StateSigned)

	started := make(chan struct{})
	release := make(chan struct{})
	f.storer.outcome = func(existing map[string]string) (map[string]string, error) {
		close(started)
		<-release
		return allBackendsSucceed(existing)
	}

	advanced := make(chan error, 1)
	go func() {
		_, err := f.coord.Advance(context.Background(), sub.ID)
		advanced <- err
	}()
	<-started

	// the store round trip is in flight; events on the same id must not
	// queue behind it
	eventDone := make(chan error, 1)
	go func() {
		_, err := f.coord.RecordEvent(context.Background(), sub.ID, "voter-1", EventVote)
		eventDone <- err
	}()
	select {
	case err := <-eventDone:
		if !errors.Is(err, domain.ErrNotVotable) {
			t.Fatalf("expected ErrNotVotable for signed submission, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RecordEvent blocked behind the in-flight store call")
	}

	close(release)
	if err := <-advanced; err != nil {
		t.Fatalf("Advance: %v", err)
	}
	got, _ := f.coord.Get(context.Background(), sub.ID)
	if got.State != domain.StateStored {
		t.Fatalf("expected stored after release, got %s", got.State)
	}
}

// counterFailSubs flips the counter write to a lost guarded update so the
// event path's error handling is observable.
type counterFailSubs struct {
	*memSubmissionRepo
	failCounters bool
}

func (r *counterFailSubs) UpdateFieldsIfState(dbc dbctx.Context, id uuid.UUID, expect domain.SubmissionState, updates map[string]interface{}) (bool, error) {
	if r.failCounters {
		if _, ok := updates["counters"]; ok {
			return false, nil
		}
	}
	return r.memSubmissionRepo.UpdateFieldsIfState(dbc, id, expect, updates)
}

func TestVoteSurfacesLostCounterWrite(t *testing.T) {
	f := newFixture(t, Config{})
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	subs := &counterFailSubs{memSubmissionRepo: f.subs}
	coord, err := NewCoordinator(log, nil, subs, f.votes, f.effects,
		f.auditor, f.signer, f.storer, rules.Defaults(), nil, Config{})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	sub, err := coord.Submit(context.Background(), domain.KindRemix, "driver-1", f.artifact)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for i := 0; i < 10; i++ {
		if got, aerr := coord.Advance(context.Background(), sub.ID); aerr != nil {
			t.Fatalf("Advance: %v", aerr)
		} else if got.State == domain.StateOpen {
			break
		}
	}

	subs.failCounters = true
	_, err = coord.RecordEvent(context.Background(), sub.ID, "voter-1", EventVote)
	if !errors.Is(err, domain.ErrNotVotable) {
		t.Fatalf("lost counter write must surface, got %v", err)
	}

	got, _ := coord.Get(context.Background(), sub.ID)
	if got.CounterMap()[domain.CounterVotes] != 0 {
		t.Fatalf("counter must not move on a lost write: %v", got.CounterMap())
	}
}
