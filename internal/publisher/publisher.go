// Package publisher contains the per-platform API clients that turn a text
// payload into a live post. Each client owns its platform's request shape,
// response parsing, and character budget; everything they share (retry,
// fan-out, state transitions) lives in the dispatcher.
package publisher

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/clients"
)

// Payload is the platform-ready content handed to a publisher. Text is already
// tailored per platform upstream; publishers only enforce hard API limits.
// AccountID is the platform-side identity of the connection being published
// through (page id, subreddit, site domain, channel id).
type Payload struct {
	OrgID     string
	AccountID string
	Text      string
}

// Publisher posts one payload to one platform with a ready-to-use token.
// Implementations classify their failures via models.PlatformError so the
// caller's retry policy can tell transient from terminal.
type Publisher interface {
	Platform() models.Platform
	Publish(ctx context.Context, token string, p Payload) (*models.PublishResult, error)
}

// Registry maps platforms to their publishers.
type Registry struct {
	publishers map[models.Platform]Publisher
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{publishers: make(map[models.Platform]Publisher)}
}

// Register adds a publisher under its platform tag.
func (r *Registry) Register(p Publisher) {
	r.publishers[p.Platform()] = p
}

// Get returns the publisher for a platform, or false if none is registered.
func (r *Registry) Get(platform models.Platform) (Publisher, bool) {
	p, ok := r.publishers[platform]
	return p, ok
}

// Platforms lists the registered platforms.
func (r *Registry) Platforms() []models.Platform {
	out := make([]models.Platform, 0, len(r.publishers))
	for _, p := range models.AllPlatforms {
		if _, ok := r.publishers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

var imageMarkerRe = regexp.MustCompile(`\[img\](.*?)\[/img\]`)

// ExtractImageURL splits an inline image marker out of a payload. Returns the
// text with the marker removed and the first image URL, or "" when the payload
// carries no image.
func ExtractImageURL(text string) (string, string) {
	match := imageMarkerRe.FindStringSubmatch(text)
	if match == nil {
		return text, ""
	}
	cleaned := imageMarkerRe.ReplaceAllString(text, "")
	cleaned = strings.TrimSpace(cleaned)
	return cleaned, strings.TrimSpace(match[1])
}

// TrimToBudget fits text plus a fixed suffix inside a platform's character
// budget, truncating the text with an ellipsis when needed. The suffix (a
// link, a signature) is always preserved intact.
func TrimToBudget(text, suffix string, budget int) string {
	if budget <= 0 {
		return text + suffix
	}
	full := text + suffix
	if len([]rune(full)) <= budget {
		return full
	}
	room := budget - len([]rune(suffix)) - 1 // ellipsis
	if room < 0 {
		// The suffix alone blows the budget; hard-cut rather than overflow.
		return string([]rune(full)[:budget])
	}
	runes := []rune(text)
	if room > len(runes) {
		room = len(runes)
	}
	trimmed := strings.TrimRight(string(runes[:room]), " \n\t")
	return trimmed + "…" + suffix
}

// newPlatformHTTPClient builds the HTTP client the platform publishers share:
// pooled transport, hard request timeout.
func newPlatformHTTPClient() *http.Client {
	return &http.Client{
		Transport: clients.DefaultTransport(),
		Timeout:   30 * time.Second,
	}
}

// newPlatformLimiter is the default client-side rate limit for platform APIs.
// Conservative on purpose: the retry policy handles the 429s that slip through.
func newPlatformLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Second), 5)
}
