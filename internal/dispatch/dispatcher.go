// Package dispatch fans one post out to its requested platforms, applies the
// retry policy around each platform call, and reduces the per-platform
// outcomes into the post's state transition.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/publisher"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/retry"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/store"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/token"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/clients"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/logging"
)

// ConnectionFinder resolves the connection to publish through for a platform.
type ConnectionFinder interface {
	GetPlatformConnection(ctx context.Context, orgID string, platform models.Platform) (*models.Connection, error)
}

// TokenSource hands out tokens guaranteed usable now.
type TokenSource interface {
	GetFreshToken(ctx context.Context, orgID string, platform models.Platform, accountID string) (string, error)
}

// PostMarker advances a post's lifecycle state.
type PostMarker interface {
	MarkPublished(ctx context.Context, id string, at time.Time) error
}

// Dispatcher is the publish fan-out. One Dispatch call runs the requested
// platforms concurrently (bounded), each isolated: a failure or panic on one
// platform never stops the others.
type Dispatcher struct {
	registry    *publisher.Registry
	connections ConnectionFinder
	tokens      TokenSource
	marker      PostMarker
	logger      logging.Logger
	retryCfg    retry.Config

	maxConcurrent  int
	platformBudget time.Duration

	// One circuit breaker per platform so a platform that is hard down fails
	// fast instead of burning the retry budget on every post.
	breakersMu sync.Mutex
	breakers   map[models.Platform]*clients.CircuitBreaker

	publishes *prometheus.CounterVec // labels: platform, status; optional
	durations *prometheus.HistogramVec
	now       func() time.Time
}

// NewDispatcher wires the fan-out against its collaborators.
func NewDispatcher(registry *publisher.Registry, connections ConnectionFinder, tokens TokenSource, marker PostMarker, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		registry:       registry,
		connections:    connections,
		tokens:         tokens,
		marker:         marker,
		logger:         logger,
		retryCfg:       retry.DefaultConfig(),
		maxConcurrent:  4,
		platformBudget: 2 * time.Minute,
		breakers:       make(map[models.Platform]*clients.CircuitBreaker),
		now:            time.Now,
	}
}

func (d *Dispatcher) breaker(platform models.Platform) *clients.CircuitBreaker {
	d.breakersMu.Lock()
	defer d.breakersMu.Unlock()
	cb, ok := d.breakers[platform]
	if !ok {
		cfg := clients.DefaultCircuitBreakerConfig()
		cfg.Name = "publish-" + string(platform)
		cfg.Logger = d.logger
		cb = clients.NewCircuitBreaker(cfg)
		d.breakers[platform] = cb
	}
	return cb
}

// SetMetrics attaches publish outcome metrics.
func (d *Dispatcher) SetMetrics(publishes *prometheus.CounterVec, durations *prometheus.HistogramVec) {
	d.publishes = publishes
	d.durations = durations
}

// Dispatch publishes the post to the given platforms and returns one result
// per platform. An empty platform list means every platform the post carries a
// payload for.
func (d *Dispatcher) Dispatch(ctx context.Context, post *models.Post, platforms []models.Platform) map[models.Platform]*models.PublishResult {
	if len(platforms) == 0 {
		platforms = post.RequestedPlatforms()
	}

	results := make(map[models.Platform]*models.PublishResult, len(platforms))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, d.maxConcurrent)

	for _, platform := range platforms {
		wg.Add(1)
		go func(platform models.Platform) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res := d.publishOne(ctx, post, platform)
			mu.Lock()
			results[platform] = res
			mu.Unlock()
		}(platform)
	}
	wg.Wait()

	return results
}

func (d *Dispatcher) publishOne(ctx context.Context, post *models.Post, platform models.Platform) (result *models.PublishResult) {
	log := d.logger.WithFields(logging.Fields{
		"post_id":  post.ID,
		"org_id":   post.OrgID,
		"platform": platform,
	})
	start := d.now()

	defer func() {
		// A panicking platform client must not take the whole dispatch down.
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprintf("%v", r)).Error("Publisher panicked")
			result = failed(platform, fmt.Sprintf("publisher panic: %v", r))
		}
		d.observe(platform, result, start)
	}()

	text := post.Payloads[platform]
	if text == "" {
		return failed(platform, fmt.Sprintf("No %s content found", platform))
	}

	pub, ok := d.registry.Get(platform)
	if !ok {
		return failed(platform, fmt.Sprintf("no publisher registered for %s", platform))
	}

	conn, err := d.connections.GetPlatformConnection(ctx, post.OrgID, platform)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failed(platform, fmt.Sprintf("No connection found for %s", platform))
		}
		return failed(platform, err.Error())
	}

	tok, err := d.tokens.GetFreshToken(ctx, post.OrgID, platform, conn.AccountID)
	if err != nil {
		if errors.Is(err, token.ErrNeedsReauth) {
			log.Warn("Connection needs reauthentication")
		}
		return failed(platform, err.Error())
	}

	payload := publisher.Payload{
		OrgID:     post.OrgID,
		AccountID: conn.AccountID,
		Text:      text,
	}

	callCtx, cancel := context.WithTimeout(ctx, d.platformBudget)
	defer cancel()

	var last *models.PublishResult
	var attempts int
	err = d.breaker(platform).Call(func() error {
		var callErr error
		attempts, callErr = retry.Do(callCtx, d.retryCfg, func(ctx context.Context) error {
			res, err := pub.Publish(ctx, tok, payload)
			if res != nil {
				last = res
			}
			return err
		})
		return callErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		log.Warn("Platform circuit open, skipping publish")
		return failed(platform, fmt.Sprintf("%s publishing temporarily disabled after repeated failures", platform))
	}
	if err != nil {
		// Multi-destination publishers return a partial result alongside the
		// aggregate error; keep its per-destination notes.
		if last != nil && !last.Success {
			last.Attempts = attempts
			if last.Error == "" {
				last.Error = err.Error()
			}
			log.WithError(err).WithField("attempts", attempts).Warn("Platform publish failed")
			return last
		}
		log.WithError(err).WithField("attempts", attempts).Warn("Platform publish failed")
		res := failed(platform, err.Error())
		res.Attempts = attempts
		return res
	}

	if last == nil {
		return failed(platform, "publisher returned no result")
	}
	last.Attempts = attempts
	log.WithFields(logging.Fields{
		"response_id": last.ResponseID,
		"attempts":    attempts,
		"degraded":    last.Degraded,
	}).Info("Published to platform")
	return last
}

// PublishAndReduce dispatches the post and folds the results into the post's
// state: published only when every requested platform succeeded, otherwise the
// row is left untouched for a later attempt.
func (d *Dispatcher) PublishAndReduce(ctx context.Context, post *models.Post, platforms []models.Platform) (map[models.Platform]*models.PublishResult, bool, []Failure) {
	results := d.Dispatch(ctx, post, platforms)
	if len(results) == 0 {
		// A post with no platform payloads must never be stamped published.
		d.logger.WithField("post_id", post.ID).Warn("No platform payloads to publish")
		return results, false, []Failure{{Platform: "", Error: "no platform payloads"}}
	}
	ok, failures := Reduce(results)
	if ok {
		if err := d.marker.MarkPublished(ctx, post.ID, d.now()); err != nil {
			d.logger.WithError(err).WithField("post_id", post.ID).Error("Failed to mark post published")
			return results, false, []Failure{{Platform: "", Error: "persist state: " + err.Error()}}
		}
		d.logger.WithFields(logging.Fields{
			"post_id":   post.ID,
			"platforms": len(results),
		}).Info("Post published on all requested platforms")
	} else {
		d.logger.WithFields(logging.Fields{
			"post_id":  post.ID,
			"failures": len(failures),
		}).Warn("Post publish incomplete, leaving state for retry")
	}
	return results, ok, failures
}

func failed(platform models.Platform, msg string) *models.PublishResult {
	return &models.PublishResult{Platform: platform, Success: false, Error: msg}
}

func (d *Dispatcher) observe(platform models.Platform, res *models.PublishResult, start time.Time) {
	if d.publishes != nil {
		status := "failure"
		if res != nil && res.Success {
			status = "success"
		}
		d.publishes.WithLabelValues(string(platform), status).Inc()
	}
	if d.durations != nil {
		d.durations.WithLabelValues(string(platform)).Observe(d.now().Sub(start).Seconds())
	}
}
