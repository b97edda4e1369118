package publisher

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"golang.org/x/time/rate"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/clients"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/logging"
)

// WordPressPublisher creates posts through the REST API using an application
// password. The token is "user:app-password"; the site base URL is the
// connection's account id. An image marker becomes the featured image, and an
// image sideload failure degrades to a text-only post rather than failing the
// whole publish.
type WordPressPublisher struct {
	baseURL    string // test override; empty means use the payload's account id
	logger     logging.Logger
	httpClient *http.Client
	fetchRetry clients.RetryConfig
	limiter    *rate.Limiter
}

// NewWordPressPublisher creates a WordPress REST client.
func NewWordPressPublisher(logger logging.Logger) *WordPressPublisher {
	return &WordPressPublisher{
		logger:     logger,
		httpClient: newPlatformHTTPClient(),
		fetchRetry: clients.DefaultRetryConfig(),
		limiter:    newPlatformLimiter(),
	}
}

// Platform implements Publisher.
func (w *WordPressPublisher) Platform() models.Platform { return models.PlatformWordPress }

func (w *WordPressPublisher) siteURL(p Payload) string {
	if w.baseURL != "" {
		return w.baseURL
	}
	site := p.AccountID
	if !strings.HasPrefix(site, "http://") && !strings.HasPrefix(site, "https://") {
		site = "https://" + site
	}
	return strings.TrimRight(site, "/")
}

func basicAuthHeader(token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}

type wpMediaResponse struct {
	ID      int64  `json:"id"`
	Message string `json:"message"`
}

type wpPostResponse struct {
	ID      int64  `json:"id"`
	Link    string `json:"link"`
	Message string `json:"message"`
}

// uploadImage downloads the image and sideloads it into the media library.
func (w *WordPressPublisher) uploadImage(ctx context.Context, site, token, imageURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return 0, err
	}
	// The image fetch is idempotent and often the flaky part (CDNs); retry it
	// here since a failure downstream only degrades, never re-runs this path.
	resp, err := clients.DoWithRetry(ctx, w.httpClient, req, w.fetchRetry)
	if err != nil {
		return 0, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	img, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return 0, fmt.Errorf("fetch image: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	filename := path.Base(imageURL)
	if filename == "" || filename == "." || filename == "/" {
		filename = "featured.jpg"
	}
	upload, err := http.NewRequestWithContext(ctx, http.MethodPost,
		site+"/wp-json/wp/v2/media", bytes.NewReader(img))
	if err != nil {
		return 0, err
	}
	upload.Header.Set("Authorization", basicAuthHeader(token))
	upload.Header.Set("Content-Type", contentType)
	upload.Header.Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	uresp, err := w.httpClient.Do(upload)
	if err != nil {
		return 0, fmt.Errorf("upload media: %w", err)
	}
	defer uresp.Body.Close()

	raw, err := io.ReadAll(uresp.Body)
	if err != nil {
		return 0, fmt.Errorf("upload media: %w", err)
	}
	var mr wpMediaResponse
	_ = json.Unmarshal(raw, &mr)
	if uresp.StatusCode < 200 || uresp.StatusCode >= 300 || mr.ID == 0 {
		msg := mr.Message
		if msg == "" {
			msg = http.StatusText(uresp.StatusCode)
		}
		return 0, fmt.Errorf("upload media: %s", msg)
	}
	return mr.ID, nil
}

// wordpressTitle is the first line of the payload.
func wordpressTitle(text string) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}

// Publish implements Publisher.
func (w *WordPressPublisher) Publish(ctx context.Context, token string, p Payload) (*models.PublishResult, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	site := w.siteURL(p)
	text, imageURL := ExtractImageURL(p.Text)

	var mediaID int64
	degraded := false
	if imageURL != "" {
		id, err := w.uploadImage(ctx, site, token, imageURL)
		if err != nil {
			w.logger.WithFields(logging.Fields{
				"org_id": p.OrgID,
				"site":   site,
			}).WithError(err).Warn("WordPress image sideload failed, publishing without it")
			degraded = true
		} else {
			mediaID = id
		}
	}

	postBody := map[string]interface{}{
		"title":   wordpressTitle(text),
		"content": text,
		"status":  "publish",
	}
	if mediaID > 0 {
		postBody["featured_media"] = mediaID
	}
	body, err := json.Marshal(postBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		site+"/wp-json/wp/v2/posts", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", basicAuthHeader(token))
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, models.NewPlatformError(models.PlatformWordPress, 0, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewPlatformError(models.PlatformWordPress, 0, err.Error())
	}
	var pr wpPostResponse
	_ = json.Unmarshal(raw, &pr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := pr.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, models.NewPlatformError(models.PlatformWordPress, resp.StatusCode, msg)
	}

	result := &models.PublishResult{
		Platform:   models.PlatformWordPress,
		Success:    true,
		ResponseID: fmt.Sprintf("%d", pr.ID),
		URL:        pr.Link,
	}
	if degraded {
		result.Degraded = true
		result.Note = "image attach failed"
	}
	return result, nil
}
