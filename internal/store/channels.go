package store

import (
	"context"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
)

// ListTelegramChannels returns the organization's Telegram destination list.
// Rows are managed by the dashboard; this service only reads them.
func (s *Store) ListTelegramChannels(ctx context.Context, orgID string) ([]models.TelegramChannel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT org_id, chat_id, title
		FROM herald_telegram_channels
		WHERE org_id = $1
		ORDER BY chat_id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []models.TelegramChannel
	for rows.Next() {
		var ch models.TelegramChannel
		if err := rows.Scan(&ch.OrgID, &ch.ChatID, &ch.Title); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}
