package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/soulvan/soulvan-backend/internal/domain"
	"github.com/soulvan/soulvan-backend/internal/pkg/dbctx"
	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
	"github.com/soulvan/soulvan-backend/internal/repos"
	"github.com/soulvan/soulvan-backend/internal/rules"
)

// Entry is one leaderboard row. Score is the weighted engagement score at
// the time the board was computed.
type Entry struct {
	SubmissionID string                 `json:"submission_id"`
	Kind         domain.SubmissionKind  `json:"kind"`
	State        domain.SubmissionState `json:"state"`
	Submitter    string                 `json:"submitter"`
	Score        int64                  `json:"score"`
	Votes        int64                  `json:"votes"`
	Plays        int64                  `json:"plays"`
	Views        int64                  `json:"views"`
}

// visibleStates are the states a leaderboard may surface: open or later.
// Pre-open and terminal submissions never appear.
var visibleStates = []domain.SubmissionState{
	domain.StateOpen,
	domain.StateApproved,
	domain.StateFeatured,
	domain.StateRewarded,
}

// View computes per-kind leaderboards. The sorted board is cached in redis
// with a short TTL; concurrent recomputes of the same board collapse into
// one scan via singleflight.
type View struct {
	log   *logger.Logger
	subs  repos.SubmissionRepo
	table rules.Table
	rdb   *goredis.Client
	ttl   time.Duration
	group singleflight.Group
}

func NewView(log *logger.Logger, subs repos.SubmissionRepo, table rules.Table, rdb *goredis.Client, ttl time.Duration) (*View, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if subs == nil {
		return nil, fmt.Errorf("leaderboard: submission repo is required")
	}
	if table == nil {
		table = rules.Defaults()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &View{
		log:   log.With("service", "LeaderboardView"),
		subs:  subs,
		table: table,
		rdb:   rdb,
		ttl:   ttl,
	}, nil
}

// TopN returns the n highest-scoring visible submissions of the kind,
// ordered by score descending with older submissions winning ties.
func (v *View) TopN(ctx context.Context, kind domain.SubmissionKind, n int) ([]Entry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	if n <= 0 {
		n = 10
	}

	key := boardKey(kind)
	entries, err, _ := v.group.Do(key, func() (any, error) {
		if cached, ok := v.fromCache(ctx, key); ok {
			return cached, nil
		}
		computed, err := v.compute(ctx, kind)
		if err != nil {
			return nil, err
		}
		v.toCache(ctx, key, computed)
		return computed, nil
	})
	if err != nil {
		return nil, err
	}

	board := entries.([]Entry)
	if len(board) > n {
		board = board[:n]
	}
	return board, nil
}

func (v *View) compute(ctx context.Context, kind domain.SubmissionKind) ([]Entry, error) {
	subs, err := v.subs.ListByKindStates(dbctx.From(ctx), kind, visibleStates, 0)
	if err != nil {
		return nil, err
	}

	rule := v.table.Rule(kind)
	entries := make([]Entry, 0, len(subs))
	order := map[string]int{}
	for i, s := range subs {
		counters := s.CounterMap()
		entries = append(entries, Entry{
			SubmissionID: s.ID.String(),
			Kind:         s.Kind,
			State:        s.State,
			Submitter:    s.SubmitterIdentity,
			Score:        rules.RankScore(rule, counters),
			Votes:        counters[domain.CounterVotes],
			Plays:        counters[domain.CounterPlays],
			Views:        counters[domain.CounterViews],
		})
		// ListByKindStates returns oldest first; remember the rank for ties
		order[s.ID.String()] = i
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return order[entries[i].SubmissionID] < order[entries[j].SubmissionID]
	})
	return entries, nil
}

// The cache holds the board exactly as computed, already sorted, so the
// cached path and the scan path order identically (including the
// oldest-wins tie break) and a hit costs a single redis read.

func (v *View) fromCache(ctx context.Context, key string) ([]Entry, bool) {
	if v.rdb == nil {
		return nil, false
	}
	raw, err := v.rdb.Get(ctx, key).Bytes()
	if err != nil || len(raw) == 0 {
		return nil, false
	}
	entries, err := decodeBoard(raw)
	if err != nil {
		v.log.Warn("dropping undecodable cached board", "key", key, "error", err)
		return nil, false
	}
	return entries, true
}

func (v *View) toCache(ctx context.Context, key string, entries []Entry) {
	if v.rdb == nil || len(entries) == 0 {
		return
	}
	raw, err := encodeBoard(entries)
	if err != nil {
		v.log.Warn("leaderboard cache encode failed", "key", key, "error", err)
		return
	}
	if err := v.rdb.Set(ctx, key, raw, v.ttl).Err(); err != nil {
		v.log.Warn("leaderboard cache write failed", "key", key, "error", err)
	}
}

// Invalidate drops the cached board for the kind, forcing the next read to
// rescan. Called when effect events arrive from other instances.
func (v *View) Invalidate(ctx context.Context, kind domain.SubmissionKind) {
	if v.rdb == nil || !kind.Valid() {
		return
	}
	if err := v.rdb.Del(ctx, boardKey(kind)).Err(); err != nil {
		v.log.Warn("leaderboard cache invalidation failed", "kind", string(kind), "error", err)
	}
}

func boardKey(kind domain.SubmissionKind) string {
	return "leaderboard:" + string(kind)
}

func encodeBoard(entries []Entry) ([]byte, error) {
	return json.Marshal(entries)
}

func decodeBoard(raw []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
