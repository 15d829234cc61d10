package slice

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/rcliao/slicegate/internal/model"
	"github.com/rcliao/slicegate/internal/policy"
	"github.com/rcliao/slicegate/internal/store"
)

// fakeReader is an in-memory RecordReader.
type fakeReader struct {
	records map[string]model.Record
	links   map[string][]string // id -> linked ids, both directions pre-expanded
	fail    error
}

func (f *fakeReader) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	r, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrRecordNotFound, id)
	}
	return &r, nil
}

func (f *fakeReader) GetNeighbors(ctx context.Context, threadID string, from, to time.Time) ([]model.Record, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	var out []model.Record
	for _, r := range f.records {
		if r.ThreadID != threadID {
			continue
		}
		if !from.IsZero() && r.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && r.Timestamp.After(to) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeReader) CountThread(ctx context.Context, threadID string) (int, error) {
	if f.fail != nil {
		return 0, f.fail
	}
	n := 0
	for _, r := range f.records {
		if r.ThreadID == threadID {
			n++
		}
	}
	return n, nil
}

func (f *fakeReader) GetLinked(ctx context.Context, id string) ([]model.Record, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	var out []model.Record
	for _, lid := range f.links[id] {
		if r, ok := f.records[lid]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReader) Ping(ctx context.Context) error { return f.fail }

func resolvePolicy(t *testing.T, spec model.PolicySpec) *policy.Policy {
	t.Helper()
	reg := policy.NewRegistry(nopPolicyStore{})
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("load registry: %v", err)
	}
	p, err := reg.Register(context.Background(), spec)
	if err != nil {
		t.Fatalf("register policy: %v", err)
	}
	return p
}

type nopPolicyStore struct{}

func (nopPolicyStore) SavePolicy(ctx context.Context, p model.Policy) error { return nil }
func (nopPolicyStore) LoadPolicies(ctx context.Context) ([]model.Policy, error) {
	return nil, nil
}

func threadOfTen(base time.Time) *fakeReader {
	// 10 records one minute apart; r00 is oldest. Three fall below a
	// 0.4 salience threshold (r02, r05, r08).
	f := &fakeReader{records: map[string]model.Record{}, links: map[string][]string{}}
	for i := 0; i < 10; i++ {
		sal := 0.5 + float64(i)/100
		if i%3 == 2 {
			sal = 0.2
		}
		id := fmt.Sprintf("r%02d", i)
		f.records[id] = model.Record{
			ID: id, ThreadID: "th1", Timestamp: base.Add(time.Duration(i) * time.Minute),
			Salience: sal, Source: "user",
		}
	}
	return f
}

func TestBuildWidthLimitedScenario(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	f := threadOfTen(base)
	b := NewBuilder(f)
	pol := resolvePolicy(t, model.PolicySpec{
		ID: "p", MaxWidth: 5, MaxWindow: "1h", MinSalience: 0.4,
	})

	sl, err := b.Build(context.Background(), "r00", pol)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(sl.RecordIDs) > 5 {
		t.Errorf("slice exceeds max width: %d", len(sl.RecordIDs))
	}
	if !contains(sl.RecordIDs, "r00") {
		t.Error("anchor missing from slice")
	}
	if !contains(sl.Boundary, model.BoundaryWidthLimited) {
		t.Errorf("expected width-limited boundary, got %v", sl.Boundary)
	}
}

func TestBuildDeterminism(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	f := threadOfTen(base)
	b := NewBuilder(f)
	pol := resolvePolicy(t, model.PolicySpec{
		ID: "p", MaxWidth: 6, MaxWindow: "1h", MinSalience: 0.4, Ordering: model.OrderingSalience,
	})

	first, err := b.Build(context.Background(), "r04", pol)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := b.Build(context.Background(), "r04", pol)
		if err != nil {
			t.Fatalf("build #%d: %v", i, err)
		}
		if !reflect.DeepEqual(first.RecordIDs, again.RecordIDs) {
			t.Fatalf("non-deterministic build: %v vs %v", first.RecordIDs, again.RecordIDs)
		}
		if first.Digest != again.Digest {
			t.Fatalf("digest differs across identical builds")
		}
	}
}

func TestBuildAnchorExemptFromSalience(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	f := threadOfTen(base)
	b := NewBuilder(f)
	pol := resolvePolicy(t, model.PolicySpec{ID: "p", MaxWidth: 20, MinSalience: 0.4})

	// r02 has salience 0.2, below the threshold.
	sl, err := b.Build(context.Background(), "r02", pol)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !contains(sl.RecordIDs, "r02") {
		t.Error("low-salience anchor must still be included")
	}
	if contains(sl.RecordIDs, "r05") || contains(sl.RecordIDs, "r08") {
		t.Error("non-anchor records below threshold must be dropped")
	}
	if !contains(sl.Boundary, model.BoundarySalienceLimited) {
		t.Errorf("expected salience-limited boundary, got %v", sl.Boundary)
	}
}

func TestBuildAnchorRetainedUnderTruncation(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	f := threadOfTen(base)
	b := NewBuilder(f)
	// Chronological ordering, anchor is the newest record: without the
	// reservation it would be truncated away.
	pol := resolvePolicy(t, model.PolicySpec{ID: "p", MaxWidth: 3, MinSalience: 0})

	sl, err := b.Build(context.Background(), "r09", pol)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(sl.RecordIDs) != 3 {
		t.Fatalf("expected width 3, got %d", len(sl.RecordIDs))
	}
	if sl.RecordIDs[len(sl.RecordIDs)-1] != "r09" {
		t.Errorf("anchor not retained at tail: %v", sl.RecordIDs)
	}
}

func TestBuildChronologicalOrdering(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	f := threadOfTen(base)
	b := NewBuilder(f)
	pol := resolvePolicy(t, model.PolicySpec{ID: "p", MaxWidth: 20, MinSalience: 0})

	sl, err := b.Build(context.Background(), "r00", pol)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(sl.RecordIDs) != 10 {
		t.Fatalf("expected all 10, got %d", len(sl.RecordIDs))
	}
	if !sort.StringsAreSorted(sl.RecordIDs) {
		t.Errorf("ids not chronological: %v", sl.RecordIDs)
	}
	if !reflect.DeepEqual(sl.Boundary, []string{model.BoundaryExhausted}) {
		t.Errorf("expected exhausted boundary, got %v", sl.Boundary)
	}
}

func TestBuildSalienceOrdering(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	f := threadOfTen(base)
	b := NewBuilder(f)
	pol := resolvePolicy(t, model.PolicySpec{
		ID: "p", MaxWidth: 20, MinSalience: 0, Ordering: model.OrderingSalience,
	})

	sl, err := b.Build(context.Background(), "r00", pol)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for i := 1; i < len(sl.RecordIDs); i++ {
		prev := f.records[sl.RecordIDs[i-1]]
		cur := f.records[sl.RecordIDs[i]]
		if prev.Salience < cur.Salience {
			t.Fatalf("not ordered by descending salience: %v", sl.RecordIDs)
		}
	}
}

func TestBuildTimeLimited(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	f := threadOfTen(base)
	b := NewBuilder(f)
	// 2-minute window around r00 excludes most of the thread.
	pol := resolvePolicy(t, model.PolicySpec{ID: "p", MaxWidth: 20, MaxWindow: "2m", MinSalience: 0})

	sl, err := b.Build(context.Background(), "r00", pol)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(sl.RecordIDs) != 3 {
		t.Errorf("expected 3 records in window, got %d", len(sl.RecordIDs))
	}
	if !contains(sl.Boundary, model.BoundaryTimeLimited) {
		t.Errorf("expected time-limited boundary, got %v", sl.Boundary)
	}
	if contains(sl.Boundary, model.BoundaryWidthLimited) {
		t.Errorf("width not reached, boundary %v", sl.Boundary)
	}
}

func TestBuildPredicateFilter(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	f := threadOfTen(base)
	r := f.records["r03"]
	r.Source = "tool"
	f.records["r03"] = r
	b := NewBuilder(f)
	pol := resolvePolicy(t, model.PolicySpec{
		ID: "p", MaxWidth: 20, MinSalience: 0, Predicate: `source == 'user'`,
	})

	sl, err := b.Build(context.Background(), "r00", pol)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if contains(sl.RecordIDs, "r03") {
		t.Error("predicate should have excluded r03")
	}
}

func TestBuildFollowLinks(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	f := threadOfTen(base)
	f.records["xt"] = model.Record{
		ID: "xt", ThreadID: "other", Timestamp: base.Add(time.Minute), Salience: 0.9,
	}
	f.links["r00"] = []string{"xt"}
	b := NewBuilder(f)

	noFollow := resolvePolicy(t, model.PolicySpec{ID: "p", MaxWidth: 20, MinSalience: 0})
	sl, err := b.Build(context.Background(), "r00", noFollow)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if contains(sl.RecordIDs, "xt") {
		t.Error("links followed without follow_links")
	}

	follow := resolvePolicy(t, model.PolicySpec{ID: "p2", MaxWidth: 20, MinSalience: 0, FollowLinks: true})
	sl, err = b.Build(context.Background(), "r00", follow)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !contains(sl.RecordIDs, "xt") {
		t.Error("linked record missing with follow_links")
	}
}

func TestBuildAnchorNotFound(t *testing.T) {
	f := &fakeReader{records: map[string]model.Record{}}
	b := NewBuilder(f)
	pol := resolvePolicy(t, model.PolicySpec{ID: "p", MaxWidth: 5})

	_, err := b.Build(context.Background(), "ghost", pol)
	if !errors.Is(err, ErrAnchorNotFound) {
		t.Errorf("expected ErrAnchorNotFound, got %v", err)
	}
}

func TestBuildStoreUnavailable(t *testing.T) {
	f := &fakeReader{fail: store.ErrUnavailable}
	b := NewBuilder(f)
	pol := resolvePolicy(t, model.PolicySpec{ID: "p", MaxWidth: 5})

	_, err := b.Build(context.Background(), "r00", pol)
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
