package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/dispatch"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/logging"
)

type fakeDueStore struct {
	posts []models.Post
	err   error
}

func (f *fakeDueStore) ListDuePosts(_ context.Context, _ time.Time, _ int) ([]models.Post, error) {
	return f.posts, f.err
}

type fakeDispatcher struct {
	calls       []string
	fail        map[string]bool
	sawDeadline bool
}

func (f *fakeDispatcher) PublishAndReduce(ctx context.Context, post *models.Post, _ []models.Platform) (map[models.Platform]*models.PublishResult, bool, []dispatch.Failure) {
	f.calls = append(f.calls, post.ID)
	if _, ok := ctx.Deadline(); ok {
		f.sawDeadline = true
	}
	if f.fail[post.ID] {
		return nil, false, []dispatch.Failure{{Platform: models.PlatformTwitter, Error: "rate limited"}}
	}
	return map[models.Platform]*models.PublishResult{}, true, nil
}

func TestSchedulerDispatchesDuePosts(t *testing.T) {
	store := &fakeDueStore{posts: []models.Post{
		{ID: "post-1", OrgID: "org-1", State: models.PostStateScheduled},
		{ID: "post-2", OrgID: "org-1", State: models.PostStateScheduled},
	}}
	dispatcher := &fakeDispatcher{}

	w := NewScheduler(store, dispatcher, logging.NewLogger(), time.Minute)
	w.dispatchDue(context.Background())

	require.Equal(t, []string{"post-1", "post-2"}, dispatcher.calls)
}

func TestSchedulerContinuesPastPartialFailures(t *testing.T) {
	store := &fakeDueStore{posts: []models.Post{
		{ID: "post-1", State: models.PostStateScheduled},
		{ID: "post-2", State: models.PostStateScheduled},
	}}
	dispatcher := &fakeDispatcher{fail: map[string]bool{"post-1": true}}

	w := NewScheduler(store, dispatcher, logging.NewLogger(), time.Minute)
	w.dispatchDue(context.Background())

	// A partial failure on one post must not block the rest of the batch.
	require.Equal(t, []string{"post-1", "post-2"}, dispatcher.calls)
}

func TestSchedulerToleratesStoreErrors(t *testing.T) {
	store := &fakeDueStore{err: errors.New("connection refused")}
	dispatcher := &fakeDispatcher{}

	w := NewScheduler(store, dispatcher, logging.NewLogger(), time.Minute)
	w.dispatchDue(context.Background())

	require.Empty(t, dispatcher.calls)
}

func TestSchedulerBoundsEachTick(t *testing.T) {
	store := &fakeDueStore{posts: []models.Post{
		{ID: "post-1", State: models.PostStateScheduled},
	}}
	dispatcher := &fakeDispatcher{}

	w := NewScheduler(store, dispatcher, logging.NewLogger(), time.Minute)
	w.dispatchDue(context.Background())

	require.True(t, dispatcher.sawDeadline, "dispatch must run under a tick deadline")

	// An exhausted tick budget stops the batch before any dispatch.
	slow := &fakeDispatcher{}
	w = NewScheduler(store, slow, logging.NewLogger(), time.Minute)
	w.tickBudget = -time.Nanosecond
	w.dispatchDue(context.Background())
	require.Empty(t, slow.calls)
}

func TestSchedulerStopsOnCancelledContext(t *testing.T) {
	store := &fakeDueStore{posts: []models.Post{
		{ID: "post-1", State: models.PostStateScheduled},
	}}
	dispatcher := &fakeDispatcher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewScheduler(store, dispatcher, logging.NewLogger(), time.Minute)
	w.dispatchDue(ctx)

	require.Empty(t, dispatcher.calls)
}
