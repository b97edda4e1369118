package publisher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
)

const redditTitleBudget = 300

// RedditPublisher submits self posts to a subreddit. The subreddit name is the
// connection's account id.
type RedditPublisher struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewRedditPublisher creates a Reddit API client.
func NewRedditPublisher() *RedditPublisher {
	return &RedditPublisher{
		baseURL:    "https://oauth.reddit.com",
		userAgent:  "timeline-alchemy/1.0",
		httpClient: newPlatformHTTPClient(),
		limiter:    newPlatformLimiter(),
	}
}

// Platform implements Publisher.
func (r *RedditPublisher) Platform() models.Platform { return models.PlatformReddit }

type redditSubmitResponse struct {
	JSON struct {
		Errors [][]interface{} `json:"errors"`
		Data   struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"data"`
	} `json:"json"`
}

// redditTitle is the first line of the payload, trimmed to the title budget.
func redditTitle(text string) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	runes := []rune(line)
	if len(runes) > redditTitleBudget {
		line = string(runes[:redditTitleBudget-1]) + "…"
	}
	return line
}

// Publish implements Publisher. Reddit reports validation failures inside a
// 200 response, so the errors array decides success, not the status alone.
func (r *RedditPublisher) Publish(ctx context.Context, token string, p Payload) (*models.PublishResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	text, _ := ExtractImageURL(p.Text)

	form := url.Values{}
	form.Set("api_type", "json")
	form.Set("kind", "self")
	form.Set("sr", p.AccountID)
	form.Set("title", redditTitle(text))
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/api/submit", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, models.NewPlatformError(models.PlatformReddit, 0, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewPlatformError(models.PlatformReddit, 0, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, models.NewPlatformError(models.PlatformReddit, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var sr redditSubmitResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, models.NewPlatformError(models.PlatformReddit, resp.StatusCode, "unparseable submit response")
	}
	if len(sr.JSON.Errors) > 0 {
		parts := make([]string, 0, len(sr.JSON.Errors))
		for _, e := range sr.JSON.Errors {
			fields := make([]string, 0, len(e))
			for _, f := range e {
				if s, ok := f.(string); ok {
					fields = append(fields, s)
				}
			}
			parts = append(parts, strings.Join(fields, " "))
		}
		// Validation failures reported in-band are terminal.
		return nil, models.TerminalPlatformError(models.PlatformReddit, strings.Join(parts, "; "))
	}

	return &models.PublishResult{
		Platform:   models.PlatformReddit,
		Success:    true,
		ResponseID: sr.JSON.Data.ID,
		URL:        sr.JSON.Data.URL,
	}, nil
}
