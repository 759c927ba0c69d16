package platform

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/interval-alarm/backend/internal/storage/models"
)

// NotificationQueue is a bounded queue of one-shot dated notifications.
type NotificationQueue interface {
	Capacity() int
	Enqueue(ctx context.Context, batch []models.Notification) error
	RemoveByPrefix(ctx context.Context, prefix string) (int, error)
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.Notification, error)
	Due(ctx context.Context, now time.Time) ([]models.Notification, error)
}

// QueueDelivery hands due queue entries to a receiver and removes them.
type QueueDelivery struct {
	queue NotificationQueue
	log   *zap.Logger
	cron  *cron.Cron
	spec  string
	now   func() time.Time

	mu       sync.RWMutex
	receiver Receiver
}

// NewQueueDelivery polls the queue on the given interval.
func NewQueueDelivery(queue NotificationQueue, log *zap.Logger, interval time.Duration) *QueueDelivery {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &QueueDelivery{
		queue: queue,
		log:   log,
		cron:  cron.New(),
		spec:  "@every " + interval.String(),
		now:   time.Now,
	}
}

// SetReceiver sets where delivered notifications go.
func (d *QueueDelivery) SetReceiver(r Receiver) {
	d.mu.Lock()
	d.receiver = r
	d.mu.Unlock()
}

// Start begins polling.
func (d *QueueDelivery) Start() error {
	if _, err := d.cron.AddFunc(d.spec, func() { d.Deliver(context.Background()) }); err != nil {
		return err
	}
	d.cron.Start()
	return nil
}

// Stop waits for a running delivery and stops polling.
func (d *QueueDelivery) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
}

// Deliver fires every due entry once and returns how many were delivered.
func (d *QueueDelivery) Deliver(ctx context.Context) int {
	due, err := d.queue.Due(ctx, d.now())
	if err != nil {
		d.log.Error("listing due notifications failed", zap.Error(err))
		return 0
	}

	d.mu.RLock()
	r := d.receiver
	d.mu.RUnlock()

	delivered := 0
	for _, n := range due {
		if err := d.queue.Remove(ctx, n.ID); err != nil {
			d.log.Error("removing delivered notification failed", zap.String("id", n.ID), zap.Error(err))
			continue
		}
		p, err := DecodePayload(n.Payload)
		if err != nil {
			d.log.Error("dropping notification with undecodable payload", zap.String("id", n.ID), zap.Error(err))
			continue
		}
		p.Origin = OriginQueue
		if r != nil {
			r.Fire(ctx, p)
		}
		delivered++
	}
	return delivered
}
