package publisher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
)

// InstagramPublisher posts images through the Graph content publishing flow:
// create a media container, then publish it. Instagram has no text-only posts,
// so a payload without an image marker fails terminally.
type InstagramPublisher struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewInstagramPublisher creates an Instagram Graph client.
func NewInstagramPublisher() *InstagramPublisher {
	return &InstagramPublisher{
		baseURL:    "https://graph.facebook.com",
		httpClient: newPlatformHTTPClient(),
		limiter:    newPlatformLimiter(),
	}
}

// Platform implements Publisher.
func (i *InstagramPublisher) Platform() models.Platform { return models.PlatformInstagram }

type graphIDResponse struct {
	ID    string `json:"id"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (i *InstagramPublisher) graphPost(ctx context.Context, path string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+path+"?"+form.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return "", models.NewPlatformError(models.PlatformInstagram, 0, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", models.NewPlatformError(models.PlatformInstagram, 0, err.Error())
	}
	var gr graphIDResponse
	_ = json.Unmarshal(raw, &gr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gr.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", models.NewPlatformError(models.PlatformInstagram, resp.StatusCode, msg)
	}
	if gr.ID == "" {
		return "", models.NewPlatformError(models.PlatformInstagram, resp.StatusCode, "response missing media id")
	}
	return gr.ID, nil
}

// Publish implements Publisher.
func (i *InstagramPublisher) Publish(ctx context.Context, token string, p Payload) (*models.PublishResult, error) {
	if err := i.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	caption, imageURL := ExtractImageURL(p.Text)
	if imageURL == "" {
		return nil, models.TerminalPlatformError(models.PlatformInstagram, "payload has no image; Instagram requires one")
	}
	igUser := p.AccountID

	form := url.Values{}
	form.Set("image_url", imageURL)
	form.Set("caption", caption)
	form.Set("access_token", token)
	containerID, err := i.graphPost(ctx, "/v19.0/"+igUser+"/media", form)
	if err != nil {
		return nil, err
	}

	form = url.Values{}
	form.Set("creation_id", containerID)
	form.Set("access_token", token)
	mediaID, err := i.graphPost(ctx, "/v19.0/"+igUser+"/media_publish", form)
	if err != nil {
		return nil, err
	}

	return &models.PublishResult{
		Platform:   models.PlatformInstagram,
		Success:    true,
		ResponseID: mediaID,
	}, nil
}
