package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chat-order-service/internal/models"

	"github.com/google/uuid"
)

const (
	telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	defaultSenderName    = "Unknown Owner"
)

type telegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

type telegramMessage struct {
	MessageID int64         `json:"message_id"`
	Chat      *telegramChat `json:"chat"`
	From      *telegramUser `json:"from"`
	Text      string        `json:"text"`
}

type telegramChat struct {
	ID int64 `json:"id"`
}

type telegramUser struct {
	FirstName string `json:"first_name"`
}

// normalizeTelegram maps a raw update to an InboundMessage. ok is false for
// updates that carry no chat message to act on.
func normalizeTelegram(raw []byte) (msg *models.InboundMessage, deliveryKey string, ok bool, err error) {
	var update telegramUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, "", false, fmt.Errorf("invalid telegram update: %w", err)
	}
	if update.Message == nil || update.Message.Chat == nil {
		return nil, "", false, nil
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return nil, "", false, nil
	}

	sender := defaultSenderName
	if update.Message.From != nil && strings.TrimSpace(update.Message.From.FirstName) != "" {
		sender = strings.TrimSpace(update.Message.From.FirstName)
	}

	msg = &models.InboundMessage{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeInboundMessage,
			Timestamp: time.Now(),
		},
		Platform:   models.PlatformTelegram,
		ChatID:     strconv.FormatInt(update.Message.Chat.ID, 10),
		SenderName: sender,
		Text:       text,
		RawPayload: json.RawMessage(raw),
	}
	return msg, fmt.Sprintf("tg:%d", update.UpdateID), true, nil
}
