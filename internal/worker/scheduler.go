// Package worker runs the background loops of the service.
package worker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/dispatch"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/logging"
)

// DueLister reads the posts whose scheduled time has passed.
type DueLister interface {
	ListDuePosts(ctx context.Context, now time.Time, limit int) ([]models.Post, error)
}

// PostDispatcher publishes one post to every platform it carries a payload
// for and folds the results into the post's state.
type PostDispatcher interface {
	PublishAndReduce(ctx context.Context, post *models.Post, platforms []models.Platform) (map[models.Platform]*models.PublishResult, bool, []dispatch.Failure)
}

// Scheduler polls for due posts and hands them to the dispatcher. Posts that
// only partially published stay scheduled and are picked up again on a later
// tick.
type Scheduler struct {
	store      DueLister
	dispatcher PostDispatcher
	logger     logging.Logger
	interval   time.Duration
	batchSize  int
	tickBudget time.Duration
	duePosts   prometheus.Gauge // optional
	now        func() time.Time
}

// NewScheduler creates a scheduler polling at the given interval.
func NewScheduler(s DueLister, d PostDispatcher, l logging.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		store:      s,
		dispatcher: d,
		logger:     l,
		interval:   interval,
		batchSize:  50,
		tickBudget: 10 * time.Minute,
		now:        time.Now,
	}
}

// SetDueGauge attaches a gauge tracking the due backlog per tick.
func (w *Scheduler) SetDueGauge(g prometheus.Gauge) {
	w.duePosts = g
}

// Start runs the polling loop until the context is cancelled.
func (w *Scheduler) Start(ctx context.Context) {
	w.logger.WithField("interval", w.interval.String()).Info("Starting publish scheduler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run immediately on start
	w.dispatchDue(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping publish scheduler")
			return
		case <-ticker.C:
			w.dispatchDue(ctx)
		}
	}
}

func (w *Scheduler) dispatchDue(ctx context.Context) {
	// A tick gets one overall deadline on top of the dispatcher's
	// per-platform budgets so a wedged batch cannot pile up behind the ticker.
	ctx, cancel := context.WithTimeout(ctx, w.tickBudget)
	defer cancel()

	posts, err := w.store.ListDuePosts(ctx, w.now(), w.batchSize)
	if err != nil {
		w.logger.WithError(err).Error("Failed to list due posts")
		return
	}
	if w.duePosts != nil {
		w.duePosts.Set(float64(len(posts)))
	}
	if len(posts) == 0 {
		w.logger.Debug("No posts due")
		return
	}

	w.logger.WithField("count", len(posts)).Info("Found due posts")

	for i := range posts {
		post := &posts[i]
		if ctx.Err() != nil {
			w.logger.WithError(ctx.Err()).Warn("Dispatch interrupted")
			return
		}

		log := w.logger.WithFields(logging.Fields{"post_id": post.ID, "org_id": post.OrgID})
		_, ok, failures := w.dispatcher.PublishAndReduce(ctx, post, nil)
		if !ok {
			log.WithField("failures", len(failures)).Warn("Scheduled publish incomplete, will retry next tick")
			continue
		}
		log.Info("Scheduled post published")
	}
}
