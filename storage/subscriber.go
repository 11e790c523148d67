package storage

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

// Subscriber turns the Redis change feed into per-owner snapshot streams.
// Each subscription delivers an initial snapshot immediately, then a fresh
// snapshot whenever a change notification for that owner and collection
// arrives. Snapshots are whole record sets; consumers replace state, never
// patch it.
type Subscriber struct {
	redis   *redis.Client
	store   backend
	channel string
	logger  *log.Logger
}

// NewSubscriber creates a Subscriber reading change notifications from the
// given pub/sub channel and snapshots from the given store.
func NewSubscriber(client *redis.Client, store backend, channel string, logger *log.Logger) *Subscriber {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Subscriber{redis: client, store: store, channel: channel, logger: logger}
}

// SubscribeTasks streams task snapshots for the owner until ctx is
// canceled. The returned channel is closed on cancellation.
func (s *Subscriber) SubscribeTasks(ctx context.Context, owner string) (<-chan []domain.Task, error) {
	out := make(chan []domain.Task, 1)
	fetch := func(ctx context.Context) (any, error) { return s.store.FetchTasks(ctx, owner) }
	send := func(snapshot any) { offerLatest(out, snapshot.([]domain.Task)) }
	if err := s.run(ctx, owner, domain.CollectionTasks, fetch, send, func() { close(out) }); err != nil {
		return nil, err
	}
	return out, nil
}

// SubscribeCategories streams category snapshots for the owner until ctx
// is canceled.
func (s *Subscriber) SubscribeCategories(ctx context.Context, owner string) (<-chan []domain.Category, error) {
	out := make(chan []domain.Category, 1)
	fetch := func(ctx context.Context) (any, error) { return s.store.FetchCategories(ctx, owner) }
	send := func(snapshot any) { offerLatest(out, snapshot.([]domain.Category)) }
	if err := s.run(ctx, owner, domain.CollectionCategories, fetch, send, func() { close(out) }); err != nil {
		return nil, err
	}
	return out, nil
}

// offerLatest delivers a snapshot without blocking: if the consumer has
// not drained the previous one it is replaced. There is a single producer
// per channel.
func offerLatest[T any](ch chan T, snapshot T) {
	for {
		select {
		case ch <- snapshot:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func (s *Subscriber) run(ctx context.Context, owner, collection string, fetch func(context.Context) (any, error), send func(any), closeOut func()) error {
	sub := s.redis.Subscribe(ctx, s.channel)
	// Fail fast when redis is unreachable rather than streaming nothing.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	ch := sub.Channel()

	go func() {
		defer closeOut()
		defer sub.Close()

		snapshot, err := fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.WithError(err).WithField("collection", collection).Error("initial snapshot fetch failed")
			}
		} else {
			send(snapshot)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev domain.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.logger.WithError(err).Error("unable to parse change notification")
					continue
				}
				if ev.UserID != owner || ev.Collection != collection {
					continue
				}
				snapshot, err := fetch(ctx)
				if err != nil {
					if ctx.Err() == nil {
						s.logger.WithError(err).WithFields(log.Fields{"user": owner, "collection": collection}).Error("snapshot refetch failed")
					}
					continue
				}
				send(snapshot)
			}
		}
	}()
	return nil
}
