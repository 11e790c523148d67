package pump

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

const defaultIdleDelay = time.Second

// Queue is the change queue surface the pump drains.
type Queue interface {
	DequeueChange(ctx context.Context) (*azqueue.DequeuedMessage, error)
	DeleteChange(ctx context.Context, id, receipt string) error
}

// Evictor drops cached snapshots for a user.
type Evictor interface {
	Evict(ctx context.Context, owner string)
}

// Pump drains the change queue and fans each event out: first the user's
// cached snapshots are evicted, then the event is published on the Redis
// channel live sessions subscribe to. Eviction comes first so a session
// refetching on the notification never reads the stale cache entry.
type Pump struct {
	queue     Queue
	redis     *redis.Client
	evictor   Evictor
	channel   string
	idleDelay time.Duration
	logger    *log.Logger
}

// New creates a pump publishing on the given Redis channel.
func New(queue Queue, client *redis.Client, evictor Evictor, channel string, logger *log.Logger) *Pump {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Pump{
		queue:     queue,
		redis:     client,
		evictor:   evictor,
		channel:   channel,
		idleDelay: defaultIdleDelay,
		logger:    logger,
	}
}

// Run drains the queue until ctx is canceled.
func (p *Pump) Run(ctx context.Context) {
	p.logger.WithField("channel", p.channel).Info("change pump starting")
	for {
		if ctx.Err() != nil {
			return
		}
		if !p.step(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.idleDelay):
			}
		}
	}
}

// step processes one queue message. It reports false when the loop should
// back off: the queue was empty or errored.
func (p *Pump) step(ctx context.Context) bool {
	msg, err := p.queue.DequeueChange(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.WithError(err).Error("unable to dequeue change")
		}
		return false
	}
	if msg == nil {
		return false
	}

	if msg.MessageText != nil {
		p.dispatch(ctx, []byte(*msg.MessageText))
	}

	if msg.MessageID != nil && msg.PopReceipt != nil {
		if err := p.queue.DeleteChange(ctx, *msg.MessageID, *msg.PopReceipt); err != nil {
			p.logger.WithError(err).Error("unable to delete processed change")
		}
	}
	return true
}

// dispatch evicts and publishes one change event. Malformed payloads are
// logged and dropped; the message is still deleted so it cannot wedge the
// queue.
func (p *Pump) dispatch(ctx context.Context, payload []byte) {
	var ev domain.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		p.logger.WithError(err).Error("unable to parse change event")
		return
	}
	if !ev.Valid() {
		p.logger.WithField("event", ev.ID).Warn("discarding incomplete change event")
		return
	}

	if p.evictor != nil {
		p.evictor.Evict(ctx, ev.UserID)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.WithError(err).Error("unable to encode change event")
		return
	}
	if err := p.redis.Publish(ctx, p.channel, data).Err(); err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"user":       ev.UserID,
			"collection": ev.Collection,
		}).Error("unable to publish change event")
	}
}
