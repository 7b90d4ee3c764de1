package telegram

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/gateway"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
)

const maxTelegramMessage = 4096

// watchInterval is how often a session watch polls for column updates.
const watchInterval = 2 * time.Second

// watchTimeout bounds how long a watch waits for a session to settle.
const watchTimeout = 5 * time.Minute

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot     *tgbotapi.BotAPI
	gateway *gateway.Gateway
}

// New creates a Telegram adapter.
func New(token string, gw *gateway.Gateway) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{
		bot:     bot,
		gateway: gw,
	}, nil
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func callerFor(msg *tgbotapi.Message) types.CallerID {
	return types.CallerID("telegram:" + strconv.FormatInt(msg.From.ID, 10))
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}
	// A bare message is an image prompt.
	a.generate(ctx, msg, msg.Text)
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, "Hello! Send me a prompt and I'll generate images across all configured models. Use /status <session-id> to check on a session.")

	case "imagine":
		prompt := strings.TrimSpace(msg.CommandArguments())
		if prompt == "" {
			a.sendResponse(chatID, "Usage: /imagine <prompt>")
			return
		}
		a.generate(ctx, msg, prompt)

	case "status":
		id := strings.TrimSpace(msg.CommandArguments())
		if id == "" {
			a.sendResponse(chatID, "Usage: /status <session-id>")
			return
		}
		sess, err := a.gateway.GetSession(ctx, types.SessionID(id))
		if err != nil {
			a.sendResponse(chatID, "Session not found.")
			return
		}
		a.sendResponse(chatID, formatSession(sess))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /imagine, /status")
	}
}

func (a *Adapter) generate(ctx context.Context, msg *tgbotapi.Message, prompt string) {
	chatID := msg.Chat.ID

	sess, err := a.gateway.CreateSession(ctx, callerFor(msg), prompt)
	if err != nil {
		log.Printf("create session error: %v", err)
		a.sendResponse(chatID, "Sorry, I couldn't start that generation: "+err.Error())
		return
	}
	a.sendResponse(chatID, fmt.Sprintf("Generating... session %s", sess.ID))

	go a.watch(ctx, chatID, sess.ID)
}

// watch polls the session until it settles, then delivers the results.
func (a *Adapter) watch(ctx context.Context, chatID int64, id types.SessionID) {
	ctx, cancel := context.WithTimeout(ctx, watchTimeout)
	defer cancel()

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.sendResponse(chatID, fmt.Sprintf("Session %s is taking too long; check back with /status %s", id, id))
			return
		case <-ticker.C:
		}

		sess, err := a.gateway.GetSession(ctx, id)
		if err != nil {
			log.Printf("watch session error: %v", err)
			continue
		}
		switch sess.Status {
		case types.SessionPending, types.SessionInProgress:
			continue
		}

		a.sendResponse(chatID, formatSession(sess))
		a.deliverImages(ctx, chatID, sess)
		return
	}
}

func (a *Adapter) deliverImages(ctx context.Context, chatID int64, sess *types.Session) {
	for _, model := range types.AllModels() {
		col := sess.Column(model)
		if col == nil || !col.Enabled || len(col.Iterations) == 0 {
			continue
		}
		last := col.Iterations[len(col.Iterations)-1]
		if last.Status != types.IterationCompleted || last.ImageKey == "" {
			continue
		}
		rec, err := a.gateway.GetImage(ctx, last.ImageKey)
		if err != nil {
			log.Printf("load image error: %v", err)
			continue
		}
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
			Name:  fmt.Sprintf("%s-%d.png", model, last.Index),
			Bytes: rec.Output,
		})
		photo.Caption = string(model)
		if _, err := a.bot.Send(photo); err != nil {
			log.Printf("send photo error: %v", err)
		}
	}
}

func formatSession(sess *types.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s: %s\n", sess.ID, sess.Status)
	for _, model := range types.AllModels() {
		col := sess.Column(model)
		if col == nil || !col.Enabled {
			continue
		}
		fmt.Fprintf(&b, "%s: %s", model, col.Status)
		if n := len(col.Iterations); n > 0 {
			last := col.Iterations[n-1]
			if last.Error != "" {
				fmt.Fprintf(&b, " (%s)", last.Error)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	parts := splitMessage(text)
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if _, err := a.bot.Send(msg); err != nil {
			log.Printf("send message error: %v", err)
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
