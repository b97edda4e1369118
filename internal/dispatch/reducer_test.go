package dispatch

import (
	"testing"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
)

func TestReduceAllSuccess(t *testing.T) {
	ok, failures := Reduce(map[models.Platform]*models.PublishResult{
		models.PlatformTwitter: {Platform: models.PlatformTwitter, Success: true},
		models.PlatformDiscord: {Platform: models.PlatformDiscord, Success: true},
	})
	if !ok || len(failures) != 0 {
		t.Fatalf("ok=%v failures=%v", ok, failures)
	}
}

func TestReduceDegradedCountsAsSuccess(t *testing.T) {
	ok, _ := Reduce(map[models.Platform]*models.PublishResult{
		models.PlatformWordPress: {Platform: models.PlatformWordPress, Success: true, Degraded: true, Note: "image attach failed"},
	})
	if !ok {
		t.Fatal("degraded success must count as success")
	}
}

func TestReduceCollectsFailuresInStableOrder(t *testing.T) {
	ok, failures := Reduce(map[models.Platform]*models.PublishResult{
		models.PlatformTwitter:  {Platform: models.PlatformTwitter, Success: false, Error: "rate limited"},
		models.PlatformDiscord:  {Platform: models.PlatformDiscord, Success: true},
		models.PlatformFacebook: {Platform: models.PlatformFacebook, Success: false, Error: "expired token"},
	})
	if ok {
		t.Fatal("expected failure")
	}
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failures))
	}
	if failures[0].Platform != models.PlatformFacebook || failures[1].Platform != models.PlatformTwitter {
		t.Fatalf("failures not in stable order: %v", failures)
	}
}

func TestReduceEmptyResults(t *testing.T) {
	ok, failures := Reduce(map[models.Platform]*models.PublishResult{})
	if !ok || failures != nil {
		t.Fatalf("empty dispatch should reduce to success, got ok=%v failures=%v", ok, failures)
	}
}
