package session

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
	"taskmaster/view"
)

// Snapshots provides the per-owner record streams a session consumes.
type Snapshots interface {
	SubscribeTasks(ctx context.Context, owner string) (<-chan []domain.Task, error)
	SubscribeCategories(ctx context.Context, owner string) (<-chan []domain.Category, error)
}

// Output is one frame of session state pushed to the client. Identity is
// nil once the session has been signed out; Ready reports whether both
// record streams have delivered their first snapshot.
type Output struct {
	Identity   *domain.Identity  `json:"identity"`
	Selection  domain.Selection  `json:"selection"`
	View       view.View         `json:"view"`
	Categories []domain.Category `json:"categories"`
	Labels     []view.LabelCount `json:"labels"`
	Ready      bool              `json:"ready"`
}

// Session ties one client connection to its identity stream and record
// subscriptions. A single goroutine owns all state: identity updates,
// selection changes and record snapshots are serialized through its loop,
// so every published Output is a consistent cut of the inputs seen so far.
type Session struct {
	snapshots  Snapshots
	identities <-chan *domain.Identity
	logger     *log.Logger
	now        func() time.Time

	selections chan domain.Selection
	outputs    chan Output
}

// New creates a session fed by the given identity stream.
func New(snapshots Snapshots, identities <-chan *domain.Identity, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Session{
		snapshots:  snapshots,
		identities: identities,
		logger:     logger,
		now:        time.Now,
		selections: make(chan domain.Selection, 1),
		outputs:    make(chan Output, 1),
	}
}

// Outputs returns the stream of session frames. The channel carries the
// latest frame only; it is closed when Run returns.
func (s *Session) Outputs() <-chan Output {
	return s.outputs
}

// Select requests a selection change. The latest request wins when the
// session loop has not yet consumed the previous one.
func (s *Session) Select(sel domain.Selection) {
	offerLatest(s.selections, sel.Normalize())
}

type sessionState struct {
	identity   *domain.Identity
	selection  domain.Selection
	tasks      []domain.Task
	categories []domain.Category

	haveTasks      bool
	haveCategories bool

	cancel context.CancelFunc
	taskCh <-chan []domain.Task
	catCh  <-chan []domain.Category
}

// Run drives the session until ctx is canceled or the identity stream
// closes. It must be called exactly once.
func (s *Session) Run(ctx context.Context) {
	defer close(s.outputs)

	st := &sessionState{selection: domain.DefaultSelection()}
	defer s.teardown(st)

	s.publish(st)

	for {
		select {
		case <-ctx.Done():
			return

		case id, ok := <-s.identities:
			if !ok {
				return
			}
			if id == nil {
				s.teardown(st)
				s.publish(st)
				continue
			}
			if st.identity != nil && st.identity.ID == id.ID {
				st.identity = id
				s.publish(st)
				continue
			}
			s.teardown(st)
			if err := s.subscribe(ctx, st, *id); err != nil {
				s.logger.WithError(err).WithField("user", id.ID).Error("unable to subscribe to record streams")
				return
			}
			s.publish(st)

		case sel := <-s.selections:
			st.selection = sel
			s.publish(st)

		case tasks, ok := <-st.taskCh:
			if !ok {
				st.taskCh = nil
				continue
			}
			st.tasks = tasks
			st.haveTasks = true
			s.publish(st)

		case categories, ok := <-st.catCh:
			if !ok {
				st.catCh = nil
				continue
			}
			st.categories = categories
			st.haveCategories = true
			s.publish(st)
		}
	}
}

func (s *Session) subscribe(ctx context.Context, st *sessionState, id domain.Identity) error {
	subCtx, cancel := context.WithCancel(ctx)

	taskCh, err := s.snapshots.SubscribeTasks(subCtx, id.ID)
	if err != nil {
		cancel()
		return err
	}
	catCh, err := s.snapshots.SubscribeCategories(subCtx, id.ID)
	if err != nil {
		cancel()
		return err
	}

	st.identity = &id
	st.cancel = cancel
	st.taskCh = taskCh
	st.catCh = catCh
	return nil
}

// teardown drops the identity and all record state, and cancels the
// record subscriptions.
func (s *Session) teardown(st *sessionState) {
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
	st.identity = nil
	st.tasks = nil
	st.categories = nil
	st.haveTasks = false
	st.haveCategories = false
	st.taskCh = nil
	st.catCh = nil
	st.selection = domain.DefaultSelection()
}

func (s *Session) publish(st *sessionState) {
	out := Output{
		Identity:  st.identity,
		Selection: st.selection,
		Ready:     st.identity != nil && st.haveTasks && st.haveCategories,
	}
	if st.identity != nil {
		today := view.Today(s.now())
		out.View = view.Compute(st.tasks, st.categories, st.selection, today)
		out.Categories = view.SortCategories(st.categories)
		out.Labels = view.Labels(st.tasks)
	}
	offerLatest(s.outputs, out)
}

func offerLatest[T any](ch chan T, value T) {
	for {
		select {
		case ch <- value:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
