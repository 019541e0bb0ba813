package tool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"kestrel/internal/domain"
)

// Telegram caps messages at 4096 chars; stay under it so multi-byte
// runes near the cut never push a chunk over.
const notifyChunkLen = 4000

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NotifyConfig configures the notify tool.
type NotifyConfig struct {
	Token  string
	ChatID int64
	Logger *slog.Logger
}

// NotifyTool pushes a message to a Telegram chat. The bot connection is
// established lazily on first use so startup never blocks on Telegram.
type NotifyTool struct {
	token  string
	chatID int64
	logger *slog.Logger

	once    sync.Once
	sender  messageSender
	initErr error
}

func NewNotifyTool(cfg NotifyConfig) *NotifyTool {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &NotifyTool{
		token:  cfg.Token,
		chatID: cfg.ChatID,
		logger: cfg.Logger,
	}
}

func (t *NotifyTool) Name() string { return "notify" }

func (t *NotifyTool) Description() string {
	return "Send a notification message to the configured Telegram chat."
}

func (t *NotifyTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"message": {
			Type:        "string",
			Description: "Message text to deliver",
		},
	}, []string{"message"})
}

func (t *NotifyTool) Patterns() domain.UsagePatterns {
	return domain.UsagePatterns{
		Category: "messaging",
		Patterns: []string{
			"notify me when the build finishes",
			"send the daily summary to my phone",
		},
	}
}

func (t *NotifyTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	message := strings.TrimSpace(ArgsString(args, "message"))
	if message == "" {
		return "", fmt.Errorf("message must not be empty")
	}

	t.once.Do(func() {
		if t.sender != nil {
			return
		}
		bot, err := tgbotapi.NewBotAPI(t.token)
		if err != nil {
			t.initErr = fmt.Errorf("telegram bot init: %w", err)
			return
		}
		t.logger.Info("telegram bot connected", "username", bot.Self.UserName)
		t.sender = bot
	})
	if t.initErr != nil {
		return "", t.initErr
	}

	for _, chunk := range splitMessage(message, notifyChunkLen) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if _, err := t.sender.Send(tgbotapi.NewMessage(t.chatID, chunk)); err != nil {
			return "", fmt.Errorf("send notification: %w", err)
		}
	}

	t.logger.Debug("notification delivered", "chat_id", t.chatID, "chars", len(message))
	return fmt.Sprintf("Notification sent to chat %d.", t.chatID), nil
}

// splitMessage cuts text into chunks of at most maxLen, preferring to break
// at a newline when one falls in the second half of the window.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cut := strings.LastIndex(text[:maxLen], "\n")
		if cut < maxLen/2 {
			cut = maxLen
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	return chunks
}

var _ domain.PatternedTool = (*NotifyTool)(nil)
