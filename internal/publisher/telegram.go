package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/retry"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/logging"
)

const telegramCharBudget = 4096

// ChannelSource resolves an organization's Telegram destination list.
type ChannelSource interface {
	ListTelegramChannels(ctx context.Context, orgID string) ([]models.TelegramChannel, error)
}

// TelegramPublisher broadcasts one payload to every channel in the org's list
// through the Bot API. Telegram is the one multi-destination platform, so it
// retries each channel itself; the aggregate failure it returns is terminal,
// which keeps the dispatcher's retry from re-posting to channels that already
// succeeded.
type TelegramPublisher struct {
	baseURL    string
	channels   ChannelSource
	logger     logging.Logger
	retryCfg   retry.Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewTelegramPublisher creates a Telegram Bot API client.
func NewTelegramPublisher(channels ChannelSource, logger logging.Logger) *TelegramPublisher {
	return &TelegramPublisher{
		baseURL:    "https://api.telegram.org",
		channels:   channels,
		logger:     logger,
		retryCfg:   retry.DefaultConfig(),
		httpClient: newPlatformHTTPClient(),
		limiter:    newPlatformLimiter(),
	}
}

// Platform implements Publisher.
func (t *TelegramPublisher) Platform() models.Platform { return models.PlatformTelegram }

type telegramSendRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramSendResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (t *TelegramPublisher) sendMessage(ctx context.Context, token, chatID, text string) (int64, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	body, err := json.Marshal(telegramSendRequest{ChatID: chatID, Text: text})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/bot"+token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, models.NewPlatformError(models.PlatformTelegram, 0, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, models.NewPlatformError(models.PlatformTelegram, 0, err.Error())
	}
	var tr telegramSendResponse
	_ = json.Unmarshal(raw, &tr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !tr.OK {
		msg := tr.Description
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return 0, models.NewPlatformError(models.PlatformTelegram, resp.StatusCode, msg)
	}
	return tr.Result.MessageID, nil
}

// Publish implements Publisher. Success requires every channel to accept the
// message; the result's Note records the per-channel outcomes either way.
func (t *TelegramPublisher) Publish(ctx context.Context, token string, p Payload) (*models.PublishResult, error) {
	channels, err := t.channels.ListTelegramChannels(ctx, p.OrgID)
	if err != nil {
		return nil, fmt.Errorf("list telegram channels: %w", err)
	}
	if len(channels) == 0 {
		return nil, models.TerminalPlatformError(models.PlatformTelegram, "no channels configured for organization")
	}

	text, imageURL := ExtractImageURL(p.Text)
	suffix := ""
	if imageURL != "" {
		suffix = "\n" + imageURL
	}
	text = TrimToBudget(text, suffix, telegramCharBudget)

	var notes []string
	var failed []string
	totalAttempts := 0
	for _, ch := range channels {
		var messageID int64
		attempts, err := retry.Do(ctx, t.retryCfg, func(ctx context.Context) error {
			id, err := t.sendMessage(ctx, token, ch.ChatID, text)
			if err == nil {
				messageID = id
			}
			return err
		})
		totalAttempts += attempts
		if err != nil {
			t.logger.WithFields(logging.Fields{
				"org_id":   p.OrgID,
				"chat_id":  ch.ChatID,
				"attempts": attempts,
			}).WithError(err).Warn("Telegram channel send failed")
			failed = append(failed, ch.ChatID)
			notes = append(notes, fmt.Sprintf("%s: failed (%v)", ch.ChatID, err))
			continue
		}
		notes = append(notes, fmt.Sprintf("%s: message %d (attempts %d)", ch.ChatID, messageID, attempts))
	}

	result := &models.PublishResult{
		Platform: models.PlatformTelegram,
		Success:  len(failed) == 0,
		Note:     strings.Join(notes, "; "),
		Attempts: totalAttempts,
	}
	if len(failed) > 0 {
		// Each channel already got its own retries; the aggregate is terminal.
		aggErr := models.TerminalPlatformError(models.PlatformTelegram,
			fmt.Sprintf("%d/%d channels failed: %s", len(failed), len(channels), strings.Join(failed, ", ")))
		result.Error = aggErr.Error()
		return result, aggErr
	}
	return result, nil
}
