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

const twitterCharBudget = 280

// TwitterPublisher posts tweets through the v2 API.
type TwitterPublisher struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewTwitterPublisher creates a Twitter v2 client.
func NewTwitterPublisher() *TwitterPublisher {
	return &TwitterPublisher{
		baseURL:    "https://api.twitter.com",
		httpClient: newPlatformHTTPClient(),
		limiter:    newPlatformLimiter(),
	}
}

// Platform implements Publisher.
func (t *TwitterPublisher) Platform() models.Platform { return models.PlatformTwitter }

type tweetRequest struct {
	Text string `json:"text"`
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	Detail string `json:"detail"`
}

// Publish implements Publisher. Images are not attached on Twitter; the
// marker is stripped and the text trimmed to the 280-character budget.
func (t *TwitterPublisher) Publish(ctx context.Context, token string, p Payload) (*models.PublishResult, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	text, _ := ExtractImageURL(p.Text)
	text = TrimToBudget(text, "", twitterCharBudget)

	body, err := json.Marshal(tweetRequest{Text: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, models.NewPlatformError(models.PlatformTwitter, 0, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewPlatformError(models.PlatformTwitter, 0, err.Error())
	}
	var tr tweetResponse
	_ = json.Unmarshal(raw, &tr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := tr.Detail
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, models.NewPlatformError(models.PlatformTwitter, resp.StatusCode, msg)
	}
	if tr.Data.ID == "" {
		return nil, models.NewPlatformError(models.PlatformTwitter, resp.StatusCode, "response missing tweet id")
	}

	return &models.PublishResult{
		Platform:   models.PlatformTwitter,
		Success:    true,
		ResponseID: tr.Data.ID,
		URL:        "https://twitter.com/i/web/status/" + tr.Data.ID,
	}, nil
}
