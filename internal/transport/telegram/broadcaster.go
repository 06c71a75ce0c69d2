package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"alertrelay/internal/kv"
	"alertrelay/internal/transport"
	logx "alertrelay/pkg/logx"
	"alertrelay/pkg/msgfmt"
)

const defaultAPIURL = "https://api.telegram.org"

// Config tunes the transport. Zero values select defaults.
type Config struct {
	// Disabled makes Available report false.
	Disabled bool
	// RatePerSec caps sends per bot token.
	RatePerSec float64
	// RetryMax is the number of extra attempts per chat.
	RetryMax int
	Timeout  time.Duration
	// APIURL overrides the Bot API base URL.
	APIURL string
}

// sender is the part of a bot the broadcaster needs.
type sender interface {
	Send(ctx context.Context, chatID int64, threadID int, text string, parseMode string) error
}

type bot struct {
	sender  sender
	limiter *rate.Limiter
}

// Broadcaster implements transport.Broadcaster and transport.TopicCreator.
type Broadcaster struct {
	cfg  Config
	src  kv.Source
	log  logx.Logger
	http *http.Client

	newSender func(token string) (sender, error)

	mu   sync.Mutex
	bots map[string]*bot
}

var (
	_ transport.Broadcaster  = (*Broadcaster)(nil)
	_ transport.TopicCreator = (*Broadcaster)(nil)
)

func New(cfg Config, src kv.Source, log logx.Logger) *Broadcaster {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = defaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	b := &Broadcaster{
		cfg:  cfg,
		src:  src,
		log:  log,
		http: &http.Client{Timeout: cfg.Timeout},
		bots: map[string]*bot{},
	}
	b.newSender = b.teleSender
	return b
}

func (b *Broadcaster) Available() bool { return b != nil && !b.cfg.Disabled }

func (b *Broadcaster) Profiles(ctx context.Context) ([]transport.Profile, error) {
	ps, err := loadProfiles(ctx, b.src)
	if err != nil {
		return nil, err
	}
	out := make([]transport.Profile, 0, len(ps))
	for _, p := range ps {
		if len(p.ChatIDs) == 0 {
			continue
		}
		out = append(out, p.public())
	}
	return out, nil
}

// Broadcast sends text to every chat of every profile. It keeps going after a
// failed chat and reports all failures together.
func (b *Broadcaster) Broadcast(ctx context.Context, profiles []transport.Profile, text string, threadID int, mode msgfmt.RenderMode) error {
	if !b.Available() {
		return transport.ErrUnavailable
	}
	if len(profiles) == 0 {
		return errors.New("no profiles to broadcast to")
	}
	all, err := loadProfiles(ctx, b.src)
	if err != nil {
		return err
	}
	tokens := make(map[string]string, len(all))
	for _, p := range all {
		tokens[p.Name] = p.Token
	}

	parseMode := mode.ParseMode()
	var chunks []string
	if mode == msgfmt.ModeRich {
		chunks = splitPre(text, textLimit)
	} else {
		chunks = splitText(text, textLimit, parseMode)
	}

	var errs []error
	sent := 0
	for _, p := range profiles {
		token, ok := tokens[p.Name]
		if !ok {
			errs = append(errs, fmt.Errorf("profile %s: not configured", p.Name))
			continue
		}
		bt, err := b.bot(token)
		if err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", p.Name, err))
			continue
		}
		for _, chatID := range p.ChatIDs {
			to := transport.ChatTarget{ChatID: chatID, ThreadID: threadID}
			if err := b.sendChunks(ctx, bt, to, chunks, parseMode); err != nil {
				b.log.Warn("broadcast send failed",
					logx.String("profile", p.Name),
					logx.Int64("chat_id", chatID),
					logx.Int("thread_id", threadID),
					logx.Err(err),
				)
				errs = append(errs, fmt.Errorf("profile %s chat %d: %w", p.Name, chatID, err))
				continue
			}
			sent++
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if sent == 0 {
		return errors.New("profiles have no chats")
	}
	return nil
}

func (b *Broadcaster) sendChunks(ctx context.Context, bt *bot, to transport.ChatTarget, chunks []string, parseMode string) error {
	for _, chunk := range chunks {
		if err := b.sendOne(ctx, bt, to, chunk, parseMode); err != nil {
			return err
		}
	}
	return nil
}

func (b *Broadcaster) sendOne(ctx context.Context, bt *bot, to transport.ChatTarget, text, parseMode string) error {
	var last error
	for i := 0; i <= b.cfg.RetryMax; i++ {
		if err := bt.limiter.Wait(ctx); err != nil {
			return err
		}
		err := bt.sender.Send(ctx, to.ChatID, to.ThreadID, text, parseMode)
		if err == nil {
			return nil
		}
		last = err
		if i == b.cfg.RetryMax {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		b.log.Debug("broadcast send retry scheduled", logx.Int64("chat_id", to.ChatID), logx.Int("attempt", i+2), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return last
}

func (b *Broadcaster) bot(token string) (*bot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bt, ok := b.bots[token]; ok {
		return bt, nil
	}
	s, err := b.newSender(token)
	if err != nil {
		return nil, err
	}
	burst := int(b.cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	bt := &bot{sender: s, limiter: rate.NewLimiter(rate.Limit(b.cfg.RatePerSec), burst)}
	b.bots[token] = bt
	return bt, nil
}

// teleSender adapts a telebot bot. Offline mode skips the getMe probe so
// constructing a sender never touches the network.
type teleSender struct {
	bot *tele.Bot
}

func (b *Broadcaster) teleSender(token string) (sender, error) {
	tb, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     b.cfg.APIURL,
		Client:  b.http,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &teleSender{bot: tb}, nil
}

func (s *teleSender) Send(ctx context.Context, chatID int64, threadID int, text string, parseMode string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
		ParseMode:             parseMode,
		DisableWebPagePreview: true,
		ThreadID:              threadID,
	})
	return err
}
