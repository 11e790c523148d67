package session

import (
	"context"
	"testing"
	"time"

	"taskmaster/domain"
)

type fakeSnapshots struct {
	taskCh map[string]chan []domain.Task
	catCh  map[string]chan []domain.Category
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{
		taskCh: map[string]chan []domain.Task{},
		catCh:  map[string]chan []domain.Category{},
	}
}

func (f *fakeSnapshots) SubscribeTasks(ctx context.Context, owner string) (<-chan []domain.Task, error) {
	ch := make(chan []domain.Task, 4)
	f.taskCh[owner] = ch
	return ch, nil
}

func (f *fakeSnapshots) SubscribeCategories(ctx context.Context, owner string) (<-chan []domain.Category, error) {
	ch := make(chan []domain.Category, 4)
	f.catCh[owner] = ch
	return ch, nil
}

// waitFrame drains output frames until one satisfies the predicate.
func waitFrame(t *testing.T, s *Session, match func(Output) bool) Output {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case frame, ok := <-s.Outputs():
			if !ok {
				t.Fatalf("output channel closed while waiting for frame")
			}
			if match(frame) {
				return frame
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching frame")
		}
	}
}

func startSession(t *testing.T) (*Session, *fakeSnapshots, chan *domain.Identity) {
	t.Helper()
	snapshots := newFakeSnapshots()
	identities := make(chan *domain.Identity, 4)
	s := New(snapshots, identities, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
	return s, snapshots, identities
}

func TestSessionStartsUnauthenticated(t *testing.T) {
	s, _, _ := startSession(t)

	frame := waitFrame(t, s, func(o Output) bool { return true })
	if frame.Identity != nil || frame.Ready {
		t.Fatalf("expected unauthenticated frame, got %#v", frame)
	}
}

func TestSessionBecomesReadyAfterBothSnapshots(t *testing.T) {
	s, snapshots, identities := startSession(t)

	identities <- &domain.Identity{ID: "u1", Email: "a@b.com"}
	waitFrame(t, s, func(o Output) bool { return o.Identity != nil })

	snapshots.taskCh["u1"] <- []domain.Task{{ID: "t1", Title: "one", Owner: "u1"}}
	frame := waitFrame(t, s, func(o Output) bool { return len(o.View.VisibleTasks) == 1 })
	if frame.Ready {
		t.Fatalf("session must not be ready before the category snapshot")
	}

	snapshots.catCh["u1"] <- []domain.Category{{ID: "c1", Name: "Work", Owner: "u1"}}
	frame = waitFrame(t, s, func(o Output) bool { return o.Ready })
	if len(frame.Categories) != 1 || frame.Categories[0].Name != "Work" {
		t.Fatalf("unexpected categories: %#v", frame.Categories)
	}
}

func TestSessionRecomputesOnSelectionChange(t *testing.T) {
	s, snapshots, identities := startSession(t)

	identities <- &domain.Identity{ID: "u1"}
	waitFrame(t, s, func(o Output) bool { return o.Identity != nil })

	snapshots.taskCh["u1"] <- []domain.Task{
		{ID: "t1", Title: "high", Priority: domain.PriorityHigh},
		{ID: "t2", Title: "low", Priority: domain.PriorityLow},
	}
	snapshots.catCh["u1"] <- nil
	waitFrame(t, s, func(o Output) bool { return o.Ready })

	s.Select(domain.Selection{Category: domain.CategoryAll, Priority: domain.PriorityHigh})

	frame := waitFrame(t, s, func(o Output) bool {
		return o.Selection.Priority == domain.PriorityHigh
	})
	if len(frame.View.VisibleTasks) != 1 || frame.View.VisibleTasks[0].ID != "t1" {
		t.Fatalf("expected only the high priority task, got %#v", frame.View.VisibleTasks)
	}
	if frame.View.Stats.Total != 2 {
		t.Fatalf("stats must cover the full set, got %#v", frame.View.Stats)
	}
}

func TestSessionSnapshotReplacesState(t *testing.T) {
	s, snapshots, identities := startSession(t)

	identities <- &domain.Identity{ID: "u1"}
	waitFrame(t, s, func(o Output) bool { return o.Identity != nil })

	snapshots.taskCh["u1"] <- []domain.Task{{ID: "t1"}, {ID: "t2"}}
	snapshots.catCh["u1"] <- nil
	waitFrame(t, s, func(o Output) bool { return o.Ready && o.View.Stats.Total == 2 })

	snapshots.taskCh["u1"] <- []domain.Task{{ID: "t2"}}
	frame := waitFrame(t, s, func(o Output) bool { return o.View.Stats.Total == 1 })
	if len(frame.View.VisibleTasks) != 1 || frame.View.VisibleTasks[0].ID != "t2" {
		t.Fatalf("snapshot must replace state, got %#v", frame.View.VisibleTasks)
	}
}

func TestSessionSignOutClearsState(t *testing.T) {
	s, snapshots, identities := startSession(t)

	identities <- &domain.Identity{ID: "u1"}
	waitFrame(t, s, func(o Output) bool { return o.Identity != nil })
	snapshots.taskCh["u1"] <- []domain.Task{{ID: "t1"}}
	snapshots.catCh["u1"] <- nil
	waitFrame(t, s, func(o Output) bool { return o.Ready })

	s.Select(domain.Selection{Search: "something"})
	waitFrame(t, s, func(o Output) bool { return o.Selection.Search == "something" })

	identities <- nil
	frame := waitFrame(t, s, func(o Output) bool { return o.Identity == nil })
	if frame.Ready || len(frame.View.VisibleTasks) != 0 || len(frame.Labels) != 0 {
		t.Fatalf("expected cleared frame, got %#v", frame)
	}
	if frame.Selection != domain.DefaultSelection() {
		t.Fatalf("selection must reset on sign out, got %#v", frame.Selection)
	}
}

func TestSessionClosesOutputsWhenIdentityStreamEnds(t *testing.T) {
	snapshots := newFakeSnapshots()
	identities := make(chan *domain.Identity)
	s := New(snapshots, identities, nil)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	close(identities)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return after identity stream closed")
	}

	for {
		if _, ok := <-s.Outputs(); !ok {
			return
		}
	}
}
