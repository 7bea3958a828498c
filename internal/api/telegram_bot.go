package api

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/abelzeko/river-monitor/internal/entities"
	"github.com/abelzeko/river-monitor/internal/usecases"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const helpText = "Available commands:\n" +
	"/start - Start the bot\n" +
	"/latest - Show the newest measurement\n" +
	"/status - Show the outcome of the last fetch\n" +
	"/help - Show this help message"

// LatestQuerier is the read side the bot needs
type LatestQuerier interface {
	GetLatestMeasurement(ctx context.Context) (*entities.MeasurementRecord, error)
	GetLastFetch(ctx context.Context) (*entities.FetchLogEntry, error)
}

// MessageInterpreter resolves free text to one of the bot commands
// ("latest", "status", "help" or "none") plus a reply line
type MessageInterpreter interface {
	InterpretMessage(ctx context.Context, text string) (command, reply string, err error)
}

// TelegramBot handles interactions with the Telegram API
type TelegramBot struct {
	bot         *tgbotapi.BotAPI
	queries     LatestQuerier
	interpreter MessageInterpreter
}

// NewTelegramBot creates a new Telegram bot handler. interpreter may be nil.
func NewTelegramBot(botToken string, queries LatestQuerier, interpreter MessageInterpreter) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &TelegramBot{
		bot:         bot,
		queries:     queries,
		interpreter: interpreter,
	}, nil
}

// Start begins listening for and handling Telegram messages until ctx is done
func (t *TelegramBot) Start(ctx context.Context) {
	log.Printf("Authorized on Telegram account %s", t.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.bot.GetUpdatesChan(u)
	log.Println("Bot is now listening for messages...")

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			log.Println("Bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}

			log.Printf("Received message from %s (ID: %d): %s",
				update.Message.From.UserName,
				update.Message.From.ID,
				update.Message.Text)

			msg := tgbotapi.NewMessage(update.Message.Chat.ID, t.Reply(ctx, update.Message.Text, update.Message.Command()))
			if _, err := t.bot.Send(msg); err != nil {
				log.Printf("Error sending message: %v", err)
			}
		}
	}
}

// Reply builds the answer for one incoming message. command is empty for free text.
func (t *TelegramBot) Reply(ctx context.Context, text, command string) string {
	if command == "" && t.interpreter != nil {
		return interpretedReply(ctx, t.queries, t.interpreter, text)
	}
	return replyTo(ctx, t.queries, text, command)
}

// interpretedReply answers free text through the interpreter, falling back to the plain reply on failure
func interpretedReply(ctx context.Context, queries LatestQuerier, interpreter MessageInterpreter, text string) string {
	command, reply, err := interpreter.InterpretMessage(ctx, text)
	if err != nil {
		log.Printf("Error interpreting message: %v", err)
		return replyTo(ctx, queries, text, "")
	}

	var answer string
	switch command {
	case "latest", "status", "help":
		answer = replyTo(ctx, queries, text, command)
	case "none":
		if reply == "" {
			return replyTo(ctx, queries, text, "")
		}
		return reply
	default:
		return replyTo(ctx, queries, text, "")
	}

	if reply == "" {
		return answer
	}
	return reply + "\n\n" + answer
}

func replyTo(ctx context.Context, queries LatestQuerier, text, command string) string {
	switch command {
	case "start":
		return "Welcome to the River Monitor bot! Use /latest for the newest measurement or /help for more information."
	case "help":
		return helpText
	case "latest":
		return latestReply(ctx, queries)
	case "status":
		entry, err := queries.GetLastFetch(ctx)
		if err != nil {
			log.Printf("Error fetching last fetch log: %v", err)
			return "Error fetching status. Please try again later."
		}
		return usecases.FormatFetchStatus(entry)
	case "":
		log.Printf("Received non-command message: %s", text)
		return "I don't understand. Use /help to see available commands.\n\n" + latestReply(ctx, queries)
	default:
		return "Unknown command. Use /help to see available commands."
	}
}

func latestReply(ctx context.Context, queries LatestQuerier) string {
	rec, err := queries.GetLatestMeasurement(ctx)
	if err != nil {
		log.Printf("Error fetching latest measurement: %v", err)
		return "Error fetching measurement data. Please try again later."
	}
	lastFetch, err := queries.GetLastFetch(ctx)
	if err != nil {
		log.Printf("Error fetching last fetch log: %v", err)
	}
	return strings.TrimRight(usecases.FormatLatestInfo(rec, lastFetch), "\n")
}
