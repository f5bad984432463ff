// Package telegram delivers notifications and voice notes through the Telegram Bot API
// and answers the bot's chat commands.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/stockpulse/internal/logger"
)

// botAPI is the subset of *tgbotapi.BotAPI the client uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Options tunes retries, the outgoing message rate and the HTTP timeout.
type Options struct {
	MaxRetries     int
	RetryDelayBase time.Duration
	RateLimit      float64 // messages per second across all chats
	// RequestTimeout bounds every Bot API call. The library ignores contexts,
	// so this is the only limit on a stalled request.
	RequestTimeout time.Duration
	APIEndpoint    string // defaults to tgbotapi.APIEndpoint
}

const (
	maxPollTimeout = 60 * time.Second
	// pollMargin keeps the long poll shorter than the HTTP timeout.
	pollMargin = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelayBase <= 0 {
		o.RetryDelayBase = time.Second
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 25
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.APIEndpoint == "" {
		o.APIEndpoint = tgbotapi.APIEndpoint
	}
	return o
}

// Client handles Telegram notifications.
type Client struct {
	bot            botAPI
	maxRetries     int
	retryDelayBase time.Duration
	limiter        *rate.Limiter
	pollTimeout    int // long-poll seconds for getUpdates
}

// NewClient creates a new Telegram client.
func NewClient(botToken string, opts Options) (*Client, error) {
	if botToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	opts = opts.withDefaults()
	bot, err := tgbotapi.NewBotAPIWithClient(botToken, opts.APIEndpoint, &http.Client{Timeout: opts.RequestTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, opts), nil
}

func newClient(bot botAPI, opts Options) *Client {
	opts = opts.withDefaults()
	poll := min(opts.RequestTimeout-pollMargin, maxPollTimeout)
	if poll < 0 {
		poll = 0
	}
	return &Client{
		bot:            bot,
		maxRetries:     opts.MaxRetries,
		retryDelayBase: opts.RetryDelayBase,
		limiter:        rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		pollTimeout:    int(poll / time.Second),
	}
}

// Send delivers plain text to chatID. Silent messages arrive without sound.
func (c *Client) Send(ctx context.Context, chatID int64, text string, silent bool) error {
	msg := tgbotapi.NewMessage(chatID, escapeMarkdownV2(text))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableNotification = silent
	msg.DisableWebPagePreview = true
	return c.send(ctx, msg)
}

// SendAudio delivers an Ogg/Opus clip to chatID as a voice note.
func (c *Client) SendAudio(ctx context.Context, chatID int64, audio []byte) error {
	voice := tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{Name: "segment.ogg", Bytes: audio})
	voice.DisableNotification = true
	return c.send(ctx, voice)
}

// send delivers with linear-backoff retry.
func (c *Client) send(ctx context.Context, msg tgbotapi.Chattable) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// CheckFunc runs a manual check for the user bound to chatID and returns the reply.
type CheckFunc func(ctx context.Context, chatID int64) (string, error)

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, onCheck CheckFunc) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.pollTimeout
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, update.Message, onCheck)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message, onCheck CheckFunc) {
	chatID := msg.Chat.ID
	reply := func(text string) {
		if err := c.Send(ctx, chatID, text, false); err != nil {
			logger.Warn("Failed to answer /%s in chat %d: %v", msg.Command(), chatID, err)
		}
	}

	switch msg.Command() {
	case "ping":
		reply("Pong")
	case "start", "id":
		reply(fmt.Sprintf("Your chat ID is %d. Add it to your notification settings to receive alerts here.", chatID))
	case "check":
		if onCheck == nil {
			reply("Manual checks are not available.")
			return
		}
		go func() {
			text, err := onCheck(ctx, chatID)
			if err != nil {
				logger.Warn("Manual check from chat %d failed: %v", chatID, err)
				reply("Sorry, the check could not run right now. Please try again later.")
				return
			}
			if strings.TrimSpace(text) != "" {
				reply(text)
			}
		}()
	}
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
