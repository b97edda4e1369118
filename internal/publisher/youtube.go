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

// YouTubePublisher posts channel bulletins through the Data API. Video uploads
// are a different pipeline; text announcements are all this service sends.
type YouTubePublisher struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewYouTubePublisher creates a YouTube Data API client.
func NewYouTubePublisher() *YouTubePublisher {
	return &YouTubePublisher{
		baseURL:    "https://www.googleapis.com",
		httpClient: newPlatformHTTPClient(),
		limiter:    newPlatformLimiter(),
	}
}

// Platform implements Publisher.
func (y *YouTubePublisher) Platform() models.Platform { return models.PlatformYouTube }

type youtubeActivityRequest struct {
	Snippet struct {
		Description string `json:"description"`
	} `json:"snippet"`
}

type youtubeActivityResponse struct {
	ID    string `json:"id"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Publish implements Publisher.
func (y *YouTubePublisher) Publish(ctx context.Context, token string, p Payload) (*models.PublishResult, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	text, _ := ExtractImageURL(p.Text)

	var ar youtubeActivityRequest
	ar.Snippet.Description = text
	body, err := json.Marshal(ar)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		y.baseURL+"/youtube/v3/activities?part=snippet", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return nil, models.NewPlatformError(models.PlatformYouTube, 0, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewPlatformError(models.PlatformYouTube, 0, err.Error())
	}
	var yr youtubeActivityResponse
	_ = json.Unmarshal(raw, &yr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := yr.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, models.NewPlatformError(models.PlatformYouTube, resp.StatusCode, msg)
	}

	return &models.PublishResult{
		Platform:   models.PlatformYouTube,
		Success:    true,
		ResponseID: yr.ID,
	}, nil
}
