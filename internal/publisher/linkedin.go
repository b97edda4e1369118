package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
)

const linkedinCharBudget = 3000

// LinkedInPublisher creates member UGC posts. The member is the connection's
// account id, carried in the payload.
type LinkedInPublisher struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewLinkedInPublisher creates a LinkedIn client.
func NewLinkedInPublisher() *LinkedInPublisher {
	return &LinkedInPublisher{
		baseURL:    "https://api.linkedin.com",
		httpClient: newPlatformHTTPClient(),
		limiter:    newPlatformLimiter(),
	}
}

// Platform implements Publisher.
func (l *LinkedInPublisher) Platform() models.Platform { return models.PlatformLinkedIn }

type ugcPostRequest struct {
	Author          string                 `json:"author"`
	LifecycleState  string                 `json:"lifecycleState"`
	SpecificContent map[string]interface{} `json:"specificContent"`
	Visibility      map[string]string      `json:"visibility"`
}

type ugcPostResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Publish implements Publisher.
func (l *LinkedInPublisher) Publish(ctx context.Context, token string, p Payload) (*models.PublishResult, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	text, _ := ExtractImageURL(p.Text)
	text = TrimToBudget(text, "", linkedinCharBudget)

	payload := ugcPostRequest{
		Author:         "urn:li:person:" + p.AccountID,
		LifecycleState: "PUBLISHED",
		SpecificContent: map[string]interface{}{
			"com.linkedin.ugc.ShareContent": map[string]interface{}{
				"shareCommentary":    map[string]string{"text": text},
				"shareMediaCategory": "NONE",
			},
		},
		Visibility: map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/v2/ugcPosts", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, models.NewPlatformError(models.PlatformLinkedIn, 0, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewPlatformError(models.PlatformLinkedIn, 0, err.Error())
	}
	var ur ugcPostResponse
	_ = json.Unmarshal(raw, &ur)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ur.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, models.NewPlatformError(models.PlatformLinkedIn, resp.StatusCode, msg)
	}
	// LinkedIn returns the URN in the body or the X-RestLi-Id header.
	id := ur.ID
	if id == "" {
		id = resp.Header.Get("X-RestLi-Id")
	}

	return &models.PublishResult{
		Platform:   models.PlatformLinkedIn,
		Success:    true,
		ResponseID: id,
		URL:        "https://www.linkedin.com/feed/update/" + id,
	}, nil
}
