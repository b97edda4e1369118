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

// FacebookPublisher posts to a page feed via the Graph API. The page id is the
// connection's account id.
type FacebookPublisher struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewFacebookPublisher creates a Facebook Graph client.
func NewFacebookPublisher() *FacebookPublisher {
	return &FacebookPublisher{
		baseURL:    "https://graph.facebook.com",
		httpClient: newPlatformHTTPClient(),
		limiter:    newPlatformLimiter(),
	}
}

// Platform implements Publisher.
func (f *FacebookPublisher) Platform() models.Platform { return models.PlatformFacebook }

// Publish implements Publisher. When the payload carries an image marker the
// post goes to the photos edge with the text as caption, otherwise to the feed.
func (f *FacebookPublisher) Publish(ctx context.Context, token string, p Payload) (*models.PublishResult, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	text, imageURL := ExtractImageURL(p.Text)

	form := url.Values{}
	form.Set("access_token", token)
	edge := "/feed"
	if imageURL != "" {
		edge = "/photos"
		form.Set("url", imageURL)
		form.Set("caption", text)
	} else {
		form.Set("message", text)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		f.baseURL+"/v19.0/"+p.AccountID+edge, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, models.NewPlatformError(models.PlatformFacebook, 0, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewPlatformError(models.PlatformFacebook, 0, err.Error())
	}
	var gr graphIDResponse
	_ = json.Unmarshal(raw, &gr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gr.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, models.NewPlatformError(models.PlatformFacebook, resp.StatusCode, msg)
	}
	if gr.ID == "" {
		return nil, models.NewPlatformError(models.PlatformFacebook, resp.StatusCode, "response missing post id")
	}

	return &models.PublishResult{
		Platform:   models.PlatformFacebook,
		Success:    true,
		ResponseID: gr.ID,
		URL:        "https://www.facebook.com/" + gr.ID,
	}, nil
}
