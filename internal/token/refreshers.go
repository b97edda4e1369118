package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/clients"
)

// ClientCredentials are the OAuth app credentials for one platform.
type ClientCredentials struct {
	ID     string
	Secret string
}

func newRefreshHTTPClient() *http.Client {
	return &http.Client{
		Transport: clients.DefaultTransport(),
		Timeout:   15 * time.Second,
	}
}

// tokenResponse is the common shape of OAuth token endpoint replies.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func decodeTokenResponse(platform models.Platform, resp *http.Response) (*models.RefreshOutcome, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = "token endpoint error"
		}
		return nil, models.NewPlatformError(platform, resp.StatusCode, msg)
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, models.NewPlatformError(platform, resp.StatusCode, "token endpoint returned no access_token")
	}
	return &models.RefreshOutcome{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    tr.ExpiresIn,
	}, nil
}

// OAuthRefresher exchanges a refresh token at a standard OAuth2 token
// endpoint. basicAuth selects HTTP basic auth with the client credentials
// (Twitter, Reddit) versus credentials in the form body (LinkedIn, Google).
type OAuthRefresher struct {
	platform   models.Platform
	tokenURL   string
	creds      ClientCredentials
	basicAuth  bool
	userAgent  string
	httpClient *http.Client
}

// Refresh implements Refresher.
func (r *OAuthRefresher) Refresh(ctx context.Context, conn *models.Connection) (*models.RefreshOutcome, error) {
	if !conn.RefreshToken.Valid || conn.RefreshToken.String == "" {
		return nil, models.TerminalPlatformError(r.platform, "connection has no refresh token")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", conn.RefreshToken.String)
	if !r.basicAuth {
		form.Set("client_id", r.creds.ID)
		form.Set("client_secret", r.creds.Secret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if r.basicAuth {
		req.SetBasicAuth(r.creds.ID, r.creds.Secret)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, models.NewPlatformError(r.platform, 0, err.Error())
	}
	defer resp.Body.Close()

	return decodeTokenResponse(r.platform, resp)
}

// NewTwitterRefresher refreshes Twitter OAuth2 user tokens (2h lifetime).
func NewTwitterRefresher(creds ClientCredentials) *OAuthRefresher {
	return &OAuthRefresher{
		platform:   models.PlatformTwitter,
		tokenURL:   "https://api.twitter.com/2/oauth2/token",
		creds:      creds,
		basicAuth:  true,
		httpClient: newRefreshHTTPClient(),
	}
}

// NewRedditRefresher refreshes Reddit OAuth2 tokens. Reddit requires basic
// auth with the app credentials and a descriptive User-Agent.
func NewRedditRefresher(creds ClientCredentials) *OAuthRefresher {
	return &OAuthRefresher{
		platform:   models.PlatformReddit,
		tokenURL:   "https://www.reddit.com/api/v1/access_token",
		creds:      creds,
		basicAuth:  true,
		userAgent:  "timeline-alchemy/1.0",
		httpClient: newRefreshHTTPClient(),
	}
}

// NewLinkedInRefresher refreshes LinkedIn 60-day member tokens.
func NewLinkedInRefresher(creds ClientCredentials) *OAuthRefresher {
	return &OAuthRefresher{
		platform:   models.PlatformLinkedIn,
		tokenURL:   "https://www.linkedin.com/oauth/v2/accessToken",
		creds:      creds,
		httpClient: newRefreshHTTPClient(),
	}
}

// NewYouTubeRefresher refreshes Google OAuth2 tokens for the YouTube scope.
func NewYouTubeRefresher(creds ClientCredentials) *OAuthRefresher {
	return &OAuthRefresher{
		platform:   models.PlatformYouTube,
		tokenURL:   "https://oauth2.googleapis.com/token",
		creds:      creds,
		httpClient: newRefreshHTTPClient(),
	}
}

// FacebookRefresher exchanges the current long-lived token for a fresh one
// via the Graph fb_exchange_token grant. Facebook has no refresh token; the
// access token itself is the exchange currency.
type FacebookRefresher struct {
	baseURL    string
	creds      ClientCredentials
	httpClient *http.Client
}

// NewFacebookRefresher creates a Graph API token exchanger.
func NewFacebookRefresher(creds ClientCredentials) *FacebookRefresher {
	return &FacebookRefresher{
		baseURL:    "https://graph.facebook.com",
		creds:      creds,
		httpClient: newRefreshHTTPClient(),
	}
}

// Refresh implements Refresher.
func (r *FacebookRefresher) Refresh(ctx context.Context, conn *models.Connection) (*models.RefreshOutcome, error) {
	q := url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", r.creds.ID)
	q.Set("client_secret", r.creds.Secret)
	q.Set("fb_exchange_token", conn.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v19.0/oauth/access_token?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, models.NewPlatformError(models.PlatformFacebook, 0, err.Error())
	}
	defer resp.Body.Close()

	return decodeTokenResponse(models.PlatformFacebook, resp)
}

// InstagramRefresher extends Instagram long-lived tokens through the
// refresh_access_token edge. Like Facebook there is no separate refresh token.
type InstagramRefresher struct {
	baseURL    string
	httpClient *http.Client
}

// NewInstagramRefresher creates an Instagram Graph token refresher.
func NewInstagramRefresher() *InstagramRefresher {
	return &InstagramRefresher{
		baseURL:    "https://graph.instagram.com",
		httpClient: newRefreshHTTPClient(),
	}
}

// Refresh implements Refresher.
func (r *InstagramRefresher) Refresh(ctx context.Context, conn *models.Connection) (*models.RefreshOutcome, error) {
	q := url.Values{}
	q.Set("grant_type", "ig_refresh_token")
	q.Set("access_token", conn.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/refresh_access_token?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, models.NewPlatformError(models.PlatformInstagram, 0, err.Error())
	}
	defer resp.Body.Close()

	return decodeTokenResponse(models.PlatformInstagram, resp)
}
