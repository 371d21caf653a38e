package telegram

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
	"gopkg.in/telebot.v3/middleware"
)

// Settings configures the bot connection.
type Settings struct {
	Token  string
	ChatID string
	Client *http.Client
}

// Telegram delivers engine notifications to a configured chat.
type Telegram struct {
	logger   *zap.Logger
	settings Settings
	client   *tele.Bot
}

type Option func(telegram *Telegram)

func NewTelegram(logger *zap.Logger, settings Settings, options ...Option) (*Telegram, error) {

	poller := &tele.LongPoller{Timeout: 10 * time.Second}

	userMiddleware := tele.NewMiddlewarePoller(poller, func(u *tele.Update) bool {
		return true
	})

	client, err := tele.NewBot(tele.Settings{
		ParseMode: tele.ModeMarkdown,
		Token:     settings.Token,
		Poller:    userMiddleware,
		Client:    settings.Client,
	})
	if err != nil {
		return nil, err
	}

	client.Use(middleware.AutoRespond())

	err = client.SetCommands([]tele.Command{
		{Text: "/start", Description: "Start the bot and show the main menu"},
		{Text: "/help", Description: "Show help"},
		{Text: "/status", Description: "Show engine status"},
	})
	if err != nil {
		return nil, err
	}

	bot := &Telegram{
		logger:   logger,
		settings: settings,
		client:   client,
	}

	for _, option := range options {
		option(bot)
	}

	return bot, nil
}

func (r *Telegram) Start() {
	go r.client.Start()
}

// Notify sends a message to the configured chat. The context is accepted
// for interface symmetry; telebot manages its own request deadlines.
func (r *Telegram) Notify(ctx context.Context, message string) error {
	chatId := cast.ToInt64(r.settings.ChatID)
	escaped := escapeMarkdownV2(message)
	_, err := r.client.Send(tele.ChatID(chatId), escaped, &tele.SendOptions{ParseMode: tele.ModeMarkdown})
	if err != nil {
		r.logger.Warn("telegram send failed", zap.Error(err))
	}
	return err
}

// Noop is the notifier used when telegram is disabled.
type Noop struct{}

func (Noop) Notify(ctx context.Context, message string) error {
	return nil
}
