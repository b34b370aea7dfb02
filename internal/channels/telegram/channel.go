// Package telegram connects the supervisor to Telegram via the Bot API
// using long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/crewmesh/overseer/internal/bus"
	"github.com/crewmesh/overseer/internal/config"
	"github.com/crewmesh/overseer/internal/supervisor"
)

// Channel is the Telegram transport for one bot token.
type Channel struct {
	bot        *telego.Bot
	cfg        config.TelegramConfig
	sup        *supervisor.Supervisor
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New builds the channel. The bot token is validated on Start, not here.
func New(cfg config.TelegramConfig, sup *supervisor.Supervisor) (*Channel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token not configured")
	}
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{bot: bot, cfg: cfg, sup: sup}, nil
}

// Start begins long polling for updates and dispatches them until the
// context is cancelled or Stop is called.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				switch {
				case update.Message != nil:
					c.handleMessage(pollCtx, update.Message)
				case update.CallbackQuery != nil:
					c.handleCallbackQuery(pollCtx, update.CallbackQuery)
				}
			}
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the poll goroutine so Telegram
// releases the getUpdates lock before another instance starts.
func (c *Channel) Stop(_ context.Context) error {
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// allowed applies the chat and user allowlists. An empty list allows
// everyone on that axis.
func (c *Channel) allowed(chatID, userID string) bool {
	match := func(list []string, id string) bool {
		if len(list) == 0 {
			return true
		}
		for _, v := range list {
			if v == id {
				return true
			}
		}
		return false
	}
	return match(c.cfg.AllowedChats, chatID) && match(c.cfg.AllowedUsers, userID)
}

func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	userID := strconv.FormatInt(msg.From.ID, 10)
	if !c.allowed(chatID, userID) {
		slog.Debug("telegram message rejected by allowlist", "chat", chatID, "user", userID)
		return
	}

	if reply, handled := c.commandReply(ctx, chatID, userID, msg.Text); handled {
		if reply != "" {
			c.reply(ctx, msg.Chat.ID, reply)
		}
		return
	}

	disp := c.sup.HandleIncoming(bus.Inbound{
		Channel:   "telegram",
		ChatID:    chatID,
		UserID:    userID,
		MessageID: strconv.Itoa(msg.MessageID),
		Text:      msg.Text,
	})
	slog.Debug("telegram message dispatched", "chat", chatID, "disposition", disp)
}

func (c *Channel) handleCallbackQuery(ctx context.Context, q *telego.CallbackQuery) {
	userID := strconv.FormatInt(q.From.ID, 10)
	chatID := ""
	if q.Message != nil {
		chatID = strconv.FormatInt(q.Message.GetChat().ID, 10)
	}
	reply := "unrecognized action"
	if chatID != "" && c.allowed(chatID, userID) {
		reply = c.sup.HandleCallback(chatID, userID, q.Data)
	}
	if err := c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: q.ID,
		Text:            reply,
	}); err != nil {
		slog.Warn("telegram callback answer failed", "error", err)
	}
}

func (c *Channel) reply(ctx context.Context, chatID int64, text string) {
	if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		slog.Warn("telegram reply failed", "chat", chatID, "error", err)
	}
}

// Send implements bus.Sender for supervisor outbound messages.
func (c *Channel) Send(out bus.Outbound) error {
	chatID, err := strconv.ParseInt(out.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad chat id %q: %w", out.ChatID, err)
	}
	msg := tu.Message(tu.ID(chatID), out.Text)
	if out.Markdown {
		msg = msg.WithParseMode(telego.ModeMarkdown)
	}
	if markup := buttonsToMarkup(out.Buttons); markup != nil {
		msg = msg.WithReplyMarkup(markup)
	}
	_, err = c.bot.SendMessage(context.Background(), msg)
	return err
}

// buttonsToMarkup converts bus button rows into an inline keyboard.
func buttonsToMarkup(rows [][]bus.Button) *telego.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := make([][]telego.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		btns := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, tu.InlineKeyboardButton(b.Label).WithCallbackData(b.Data))
		}
		kb = append(kb, btns)
	}
	return &telego.InlineKeyboardMarkup{InlineKeyboard: kb}
}
