// Package token decides whether a stored platform credential is still usable
// and refreshes it before use when the platform's expiry policy says so.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/retry"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/logging"
)

// ErrNeedsReauth signals that the connection cannot be made usable without the
// user re-granting access through the external OAuth flow. Terminal for the
// current dispatch; the stored (stale) token is left in place so a later
// dispatch can try again in case the platform was having transient trouble.
var ErrNeedsReauth = errors.New("connection needs reauthentication")

// ConnectionStore is the slice of the persistence layer the manager needs.
type ConnectionStore interface {
	GetConnection(ctx context.Context, orgID string, platform models.Platform, accountID string) (*models.Connection, error)
	UpdateConnectionTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error
}

// Refresher performs one outbound call to a platform's token endpoint.
type Refresher interface {
	Refresh(ctx context.Context, conn *models.Connection) (*models.RefreshOutcome, error)
}

// Policy is a platform's token expiry rule. RefreshAfter zero means the token
// never expires (bot tokens, app passwords): the stored token is always
// returned unchanged, and a later auth failure at the publisher is terminal.
type Policy struct {
	Lifetime     time.Duration
	RefreshAfter time.Duration
}

// expiryMargin triggers a refresh when expires_at is close even if the
// age-based threshold has not been reached yet.
const expiryMargin = 5 * time.Minute

var policies = map[models.Platform]Policy{
	// Short-lived tokens with a refresh grant: refresh well before expiry.
	models.PlatformTwitter: {Lifetime: 2 * time.Hour, RefreshAfter: 90 * time.Minute},
	models.PlatformReddit:  {Lifetime: time.Hour, RefreshAfter: 45 * time.Minute},
	models.PlatformYouTube: {Lifetime: time.Hour, RefreshAfter: 45 * time.Minute},

	// 60-day tokens: refresh at 50 days.
	models.PlatformLinkedIn:  {Lifetime: 60 * 24 * time.Hour, RefreshAfter: 50 * 24 * time.Hour},
	models.PlatformFacebook:  {Lifetime: 60 * 24 * time.Hour, RefreshAfter: 50 * 24 * time.Hour},
	models.PlatformInstagram: {Lifetime: 60 * 24 * time.Hour, RefreshAfter: 50 * 24 * time.Hour},

	// Bot tokens and app passwords never refresh.
	models.PlatformDiscord:   {},
	models.PlatformTelegram:  {},
	models.PlatformWordPress: {},
}

// PolicyFor returns the expiry policy for a platform.
func PolicyFor(p models.Platform) Policy {
	return policies[p]
}

// Manager is the token lifecycle manager. Refreshes for the same
// (org, platform, account) key are collapsed through singleflight so two
// concurrent dispatches never race a refresh-token rotation.
type Manager struct {
	store      ConnectionStore
	refreshers map[models.Platform]Refresher
	logger     logging.Logger
	retryCfg   retry.Config
	sf         singleflight.Group
	refreshes  *prometheus.CounterVec // labels: platform, status; optional
	now        func() time.Time
}

// NewManager creates a manager with no refreshers registered.
func NewManager(store ConnectionStore, logger logging.Logger) *Manager {
	return &Manager{
		store:      store,
		refreshers: make(map[models.Platform]Refresher),
		logger:     logger,
		retryCfg:   retry.DefaultConfig(),
		now:        time.Now,
	}
}

// RegisterRefresher wires a platform's token endpoint client.
func (m *Manager) RegisterRefresher(p models.Platform, r Refresher) {
	m.refreshers[p] = r
}

// SetRefreshCounter attaches a metrics counter for refresh outcomes.
func (m *Manager) SetRefreshCounter(c *prometheus.CounterVec) {
	m.refreshes = c
}

// GetFreshToken returns a token guaranteed usable now, refreshing first if the
// platform's policy demands it. Returns ErrNeedsReauth (wrapped) when the
// credential cannot be refreshed.
func (m *Manager) GetFreshToken(ctx context.Context, orgID string, platform models.Platform, accountID string) (string, error) {
	conn, err := m.store.GetConnection(ctx, orgID, platform, accountID)
	if err != nil {
		return "", err
	}

	if !m.needsRefresh(conn) {
		return conn.AccessToken, nil
	}

	key := orgID + "/" + string(platform) + "/" + accountID
	result, err, _ := m.sf.Do(key, func() (interface{}, error) {
		// Re-read inside the flight. A refresh that completed between our
		// snapshot and here already rotated the stored pair; replaying the
		// old refresh token would invalidate the new grant.
		fresh, err := m.store.GetConnection(ctx, orgID, platform, accountID)
		if err != nil {
			return "", err
		}
		if !m.needsRefresh(fresh) {
			return fresh.AccessToken, nil
		}
		return m.refresh(ctx, fresh)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (m *Manager) needsRefresh(conn *models.Connection) bool {
	policy := PolicyFor(conn.Platform)
	if policy.RefreshAfter == 0 {
		return false
	}
	now := m.now()
	if now.Sub(conn.UpdatedAt) >= policy.RefreshAfter {
		return true
	}
	if conn.ExpiresAt.Valid && now.Add(expiryMargin).After(conn.ExpiresAt.Time) {
		return true
	}
	return false
}

func (m *Manager) refresh(ctx context.Context, conn *models.Connection) (string, error) {
	log := m.logger.WithFields(logging.Fields{
		"org_id":   conn.OrgID,
		"platform": conn.Platform,
		"account":  conn.AccountID,
	})

	refresher, ok := m.refreshers[conn.Platform]
	if !ok {
		log.Warn("No refresher registered for platform")
		m.countRefresh(conn.Platform, "failure")
		return "", fmt.Errorf("%s: %w", conn.Platform, ErrNeedsReauth)
	}

	var outcome *models.RefreshOutcome
	attempts, err := retry.Do(ctx, m.retryCfg, func(ctx context.Context) error {
		o, err := refresher.Refresh(ctx, conn)
		if err == nil {
			outcome = o
		}
		return err
	})
	if err != nil {
		log.WithError(err).WithField("attempts", attempts).Warn("Token refresh failed")
		m.countRefresh(conn.Platform, "failure")
		// The stale token stays in the store untouched; the next dispatch may
		// succeed if the platform was having a bad moment.
		return "", fmt.Errorf("%s: %w", conn.Platform, ErrNeedsReauth)
	}

	var expiresAt time.Time
	policy := PolicyFor(conn.Platform)
	switch {
	case outcome.ExpiresIn > 0:
		expiresAt = m.now().Add(time.Duration(outcome.ExpiresIn) * time.Second)
	case policy.Lifetime > 0:
		expiresAt = m.now().Add(policy.Lifetime)
	}

	if err := m.store.UpdateConnectionTokens(ctx, conn.ID, outcome.AccessToken, outcome.RefreshToken, expiresAt); err != nil {
		m.countRefresh(conn.Platform, "failure")
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}

	log.WithField("attempts", attempts).Info("Refreshed platform token")
	m.countRefresh(conn.Platform, "success")
	return outcome.AccessToken, nil
}

func (m *Manager) countRefresh(platform models.Platform, status string) {
	if m.refreshes != nil {
		m.refreshes.WithLabelValues(string(platform), status).Inc()
	}
}
