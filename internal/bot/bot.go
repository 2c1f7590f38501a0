package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/sentiment-bot/internal/ingest"
	"github.com/xaenox/sentiment-bot/internal/models"
	"github.com/xaenox/sentiment-bot/internal/storage"
	"go.uber.org/zap"
)

const statsTopUsers = 5

// Handler consumes one inbound message.
type Handler interface {
	Handle(ctx context.Context, msg models.InboundMessage) (ingest.Outcome, error)
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Bot struct {
	api         *tgbotapi.BotAPI
	sender      sender
	handler     Handler
	reader      storage.Reader
	pollTimeout int
	logger      *zap.Logger
	wg          sync.WaitGroup
}

func New(token string, handler Handler, reader storage.Reader, pollTimeout int, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		api:         api,
		sender:      api,
		handler:     handler,
		reader:      reader,
		pollTimeout: pollTimeout,
		logger:      logger,
	}, nil
}

// Start long-polls for updates until ctx is cancelled, then waits for
// in-flight messages to finish.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return nil
			}
			b.dispatch(update)
		}
	}
}

func (b *Bot) dispatch(update tgbotapi.Update) {
	message := update.Message
	if message == nil {
		return
	}

	if message.IsCommand() {
		b.handleCommand(message)
		return
	}

	inbound, ok := toInbound(message)
	if !ok {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		// Outcomes are logged by the handler
		_, _ = b.handler.Handle(context.Background(), inbound)
	}()
}

// toInbound keeps only plain text messages.
func toInbound(message *tgbotapi.Message) (models.InboundMessage, bool) {
	if message == nil || message.Text == "" || message.IsCommand() {
		return models.InboundMessage{}, false
	}

	senderName := ""
	if message.From != nil {
		senderName = message.From.FirstName
	}

	return models.InboundMessage{
		ID:         strconv.Itoa(message.MessageID),
		SenderName: senderName,
		Text:       message.Text,
	}, true
}

func (b *Bot) handleCommand(message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "stats":
		b.handleStats(message)
	default:
		b.logger.Debug("Ignoring command", zap.String("command", message.Command()))
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Hi! I read the messages in this chat and record their sentiment, emotion and urgency.
Use /help to see available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/stats - Show the sentiment summary for recorded messages`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleStats(message *tgbotapi.Message) {
	stats, err := b.reader.Stats(context.Background(), statsTopUsers)
	if err != nil {
		b.logger.Error("Failed to get stats",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendMessage(message.Chat.ID, "Sorry, failed to retrieve the statistics. Please try again later.")
		return
	}

	if stats.Total == 0 {
		b.sendMessage(message.Chat.ID, "No messages have been analysed yet.")
		return
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, formatStats(stats))
	msg.ParseMode = "MarkdownV2"
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send stats message",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func formatStats(stats *models.Stats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Messages analysed:* %d\n", stats.Total)
	writeSection(&sb, "Sentiment", stats.BySentiment)
	writeSection(&sb, "Emotions", stats.ByEmotion)
	writeSection(&sb, "Top users", stats.TopUsers)
	return sb.String()
}

func writeSection(sb *strings.Builder, title string, counts []models.LabelCount) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n*%s:*\n", title)
	for _, c := range counts {
		label := c.Label
		if label == "" {
			label = "unknown"
		}
		fmt.Fprintf(sb, "%s: %d\n", escapeMarkdown(label), c.Count)
	}
}

// escapeMarkdown escapes the characters MarkdownV2 reserves
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
