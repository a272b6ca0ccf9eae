package repos

import (
	"testing"

	"github.com/soulvan/soulvan-backend/internal/domain"
	"github.com/soulvan/soulvan-backend/internal/pkg/dbctx"
)

func TestVoteInsertIfAbsentDeduplicates(t *testing.T) {
	gdb := openTestDB(t)
	log := testLogger(t)
	subs := NewSubmissionRepo(gdb, log)
	votes := NewVoteRepo(gdb, log)
	dbc := dbctx.Background()

	sub := newSubmission(domain.KindRemix, domain.StateOpen)
	if err := subs.Create(dbc, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}

	inserted, err := votes.InsertIfAbsent(dbc, sub.ID, "voter-1")
	if err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}
	if !inserted {
		t.Fatal("first vote should insert")
	}

	inserted, err = votes.InsertIfAbsent(dbc, sub.ID, "voter-1")
	if err != nil {
		t.Fatalf("InsertIfAbsent duplicate: %v", err)
	}
	if inserted {
		t.Fatal("duplicate vote should not insert")
	}

	count, err := votes.CountBySubmission(dbc, sub.ID)
	if err != nil {
		t.Fatalf("CountBySubmission: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 vote, got %d", count)
	}
}

func TestVoteListVoters(t *testing.T) {
	gdb := openTestDB(t)
	log := testLogger(t)
	subs := NewSubmissionRepo(gdb, log)
	votes := NewVoteRepo(gdb, log)
	dbc := dbctx.Background()

	sub := newSubmission(domain.KindReplay, domain.StateOpen)
	if err := subs.Create(dbc, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, v := range []string{"a", "b", "c"} {
		if _, err := votes.InsertIfAbsent(dbc, sub.ID, v); err != nil {
			t.Fatalf("InsertIfAbsent(%s): %v", v, err)
		}
	}

	voters, err := votes.ListVoters(dbc, sub.ID)
	if err != nil {
		t.Fatalf("ListVoters: %v", err)
	}
	if len(voters) != 3 {
		t.Fatalf("expected 3 voters, got %v", voters)
	}
}

func TestEffectRecordOnce(t *testing.T) {
	gdb := openTestDB(t)
	log := testLogger(t)
	subs := NewSubmissionRepo(gdb, log)
	effects := NewEffectRepo(gdb, log)
	dbc := dbctx.Background()

	sub := newSubmission(domain.KindTuningKit, domain.StateOpen)
	if err := subs.Create(dbc, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}

	recorded, err := effects.RecordOnce(dbc, sub.ID, domain.EffectReward, 2)
	if err != nil {
		t.Fatalf("RecordOnce: %v", err)
	}
	if !recorded {
		t.Fatal("first effect should record")
	}

	recorded, err = effects.RecordOnce(dbc, sub.ID, domain.EffectReward, 5)
	if err != nil {
		t.Fatalf("RecordOnce duplicate: %v", err)
	}
	if recorded {
		t.Fatal("repeat effect should not record")
	}

	list, err := effects.ListBySubmission(dbc, sub.ID)
	if err != nil {
		t.Fatalf("ListBySubmission: %v", err)
	}
	if len(list) != 1 || list[0].Amount != 2 {
		t.Fatalf("unexpected effects: %+v", list)
	}
}
