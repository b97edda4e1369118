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

const discordCharBudget = 2000

// DiscordPublisher sends messages to a channel through a bot token. The
// channel id is the connection's account id.
type DiscordPublisher struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewDiscordPublisher creates a Discord bot API client.
func NewDiscordPublisher() *DiscordPublisher {
	return &DiscordPublisher{
		baseURL:    "https://discord.com",
		httpClient: newPlatformHTTPClient(),
		limiter:    newPlatformLimiter(),
	}
}

// Platform implements Publisher.
func (d *DiscordPublisher) Platform() models.Platform { return models.PlatformDiscord }

type discordMessageRequest struct {
	Content string `json:"content"`
}

type discordMessageResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Publish implements Publisher. Image markers become a plain URL on its own
// line; Discord unfurls it client-side.
func (d *DiscordPublisher) Publish(ctx context.Context, token string, p Payload) (*models.PublishResult, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	text, imageURL := ExtractImageURL(p.Text)
	suffix := ""
	if imageURL != "" {
		suffix = "\n" + imageURL
	}
	content := TrimToBudget(text, suffix, discordCharBudget)

	body, err := json.Marshal(discordMessageRequest{Content: content})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+"/api/v10/channels/"+p.AccountID+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bot "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, models.NewPlatformError(models.PlatformDiscord, 0, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewPlatformError(models.PlatformDiscord, 0, err.Error())
	}
	var dr discordMessageResponse
	_ = json.Unmarshal(raw, &dr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := dr.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, models.NewPlatformError(models.PlatformDiscord, resp.StatusCode, msg)
	}

	return &models.PublishResult{
		Platform:   models.PlatformDiscord,
		Success:    true,
		ResponseID: dr.ID,
	}, nil
}
