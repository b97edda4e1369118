package models

import (
	"database/sql"
	"sort"
	"time"
)

// Platform identifies a third-party social network the service publishes to.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformYouTube   Platform = "youtube"
	PlatformDiscord   Platform = "discord"
	PlatformReddit    Platform = "reddit"
	PlatformTelegram  Platform = "telegram"
	PlatformWordPress Platform = "wordpress"
)

// AllPlatforms lists every supported platform in stable order.
var AllPlatforms = []Platform{
	PlatformTwitter,
	PlatformLinkedIn,
	PlatformInstagram,
	PlatformFacebook,
	PlatformYouTube,
	PlatformDiscord,
	PlatformReddit,
	PlatformTelegram,
	PlatformWordPress,
}

// Valid reports whether p is a known platform tag.
func (p Platform) Valid() bool {
	for _, known := range AllPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

// Connection is a stored credential set for one organization's account on one
// platform. Unique per (org_id, platform, account_id). Tokens are mutated only
// by the token lifecycle manager on refresh; the OAuth connect flow that
// creates rows lives outside this service.
type Connection struct {
	ID           string
	OrgID        string
	Platform     Platform
	AccountID    string
	AccessToken  string
	RefreshToken sql.NullString
	ExpiresAt    sql.NullTime
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PostState is the lifecycle state of a content record.
type PostState string

const (
	PostStateDraft     PostState = "draft"
	PostStateScheduled PostState = "scheduled"
	PostStatePublished PostState = "published"
)

// Post is a single piece of authored content with per-platform text payloads.
// State moves draft -> scheduled -> published; a dispatch run only advances to
// published when every requested platform succeeded.
type Post struct {
	ID           string               `json:"id"`
	OrgID        string               `json:"org_id"`
	State        PostState            `json:"state"`
	ScheduledFor sql.NullTime         `json:"-"`
	PublishedAt  sql.NullTime         `json:"-"`
	Payloads     map[Platform]string  `json:"payloads"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// RequestedPlatforms returns the platforms inferred from which payload fields
// are populated, in stable order.
func (p *Post) RequestedPlatforms() []Platform {
	platforms := make([]Platform, 0, len(p.Payloads))
	for platform, text := range p.Payloads {
		if text != "" {
			platforms = append(platforms, platform)
		}
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })
	return platforms
}

// PublishResult is the outcome of one platform publish inside one dispatch
// attempt. Ephemeral: folded into the post's state transition and logs, never
// persisted as its own entity.
type PublishResult struct {
	Platform   Platform `json:"platform"`
	Success    bool     `json:"success"`
	ResponseID string   `json:"response_id,omitempty"`
	URL        string   `json:"url,omitempty"`
	Degraded   bool     `json:"degraded,omitempty"`
	Note       string   `json:"note,omitempty"`
	Attempts   int      `json:"attempts,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// RefreshOutcome is the result of one successful token refresh call.
type RefreshOutcome struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // seconds; 0 when the platform did not report one
}

// TelegramChannel is one destination in an organization's channel list.
// Telegram is the multi-destination platform: one org may broadcast a post to
// several channels through a single bot connection.
type TelegramChannel struct {
	OrgID  string
	ChatID string
	Title  string
}
