// Package discord connects the counting service to one Discord channel:
// it feeds channel messages into ingestion, answers the text commands and
// serves channel history for resynchronization.
package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	service "github.com/okian/potally/internal/app"
	"github.com/okian/potally/internal/domain/model"
	"github.com/okian/potally/internal/domain/ranking"
	"github.com/okian/potally/internal/domain/resync"
	"github.com/okian/potally/pkg/logger"
	"github.com/okian/potally/pkg/metrics"
)

// Intents requested by the bot session.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMembers |
	discordgo.IntentMessageContent

// Service is the counting engine the bot drives.
type Service interface {
	Observe(ctx context.Context, msg model.Message) bool
	Count(ctx context.Context, userID string) int64
	Leaderboard(ctx context.Context, limit int, requester string) (ranking.Result, error)
	Resync(ctx context.Context, provider resync.HistoryProvider) (service.RunResult, error)
	SetSelfID(id string)
	Token() string
	CommandPrefix() string
}

// Session is the subset of *discordgo.Session the bot uses.
type Session interface {
	MessageLister
	MemberFetcher
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// NewSession creates a bot session with the intents the bot needs.
func NewSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.Identify.Intents = Intents
	return s, nil
}

// Bot binds a Service to a single channel.
type Bot struct {
	session   Session
	svc       Service
	channelID string

	directory *Directory
	history   *ChannelHistory
	format    ranking.Formatter

	admins          map[string]struct{}
	resyncOnStartup bool
	defaultLimit    int

	mu       sync.RWMutex
	ctx      context.Context
	selfID   string
	removers []func()
	wg       sync.WaitGroup

	logger logger.Logger
}

// New constructs a Bot for channelID.
func New(session Session, svc Service, channelID string, opts ...Option) (*Bot, error) {
	if channelID == "" {
		return nil, ErrNoChannel
	}
	b := &Bot{
		session:      session,
		svc:          svc,
		channelID:    channelID,
		directory:    NewDirectory(session, nil),
		history:      NewChannelHistory(session, channelID),
		format:       ranking.Formatter{Token: svc.Token()},
		admins:       make(map[string]struct{}),
		defaultLimit: ranking.DefaultLimit,
		ctx:          context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.Get().Named("discord")
	}
	return b, nil
}

// History returns the provider that pages the target channel.
func (b *Bot) History() resync.HistoryProvider { return b.history }

// Directory returns the member directory used for leaderboard names.
func (b *Bot) Directory() *Directory { return b.directory }

// Open registers handlers and connects the gateway. Handlers run under ctx.
func (b *Bot) Open(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.removers = append(b.removers,
		b.session.AddHandler(b.onReady),
		b.session.AddHandler(b.onMessageCreate),
	)
	b.mu.Unlock()

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	b.logger.Info(ctx, "discord session opened", logger.String("channel", b.channelID))
	return nil
}

// Close removes handlers, waits for background work and closes the gateway.
func (b *Bot) Close() error {
	b.mu.Lock()
	removers := b.removers
	b.removers = nil
	b.mu.Unlock()
	for _, rm := range removers {
		rm()
	}
	b.wg.Wait()
	return b.session.Close()
}

func (b *Bot) runContext() context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctx
}

func (b *Bot) self() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selfID
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	ctx := b.runContext()
	if r.User != nil {
		b.mu.Lock()
		b.selfID = r.User.ID
		b.mu.Unlock()
		b.svc.SetSelfID(r.User.ID)
		b.logger.Info(ctx, "logged in", logger.String("user", r.User.Username), logger.String("id", r.User.ID))
	}

	guildID, err := b.resolveGuild(ctx)
	if err != nil {
		b.logger.Error(ctx, "cannot resolve target channel", logger.String("channel", b.channelID), logger.Error(err))
		return
	}
	b.directory.SetGuild(guildID)

	if !b.resyncOnStartup {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.logger.Info(ctx, "recounting messages in the target channel")
		res, err := b.svc.Resync(ctx, b.history)
		if err != nil {
			b.logger.Error(ctx, "startup resync failed", logger.Error(err))
			return
		}
		b.logger.Info(ctx, "recount complete",
			logger.Int("users", res.Users),
			logger.Int("scanned", res.Scanned),
		)
	}()
}

// resolveGuild looks up the guild that owns the target channel.
func (b *Bot) resolveGuild(ctx context.Context) (string, error) {
	ch, err := b.session.Channel(b.channelID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrChannelNotFound, b.channelID, err)
	}
	if ch == nil {
		return "", fmt.Errorf("%w: %s", ErrChannelNotFound, b.channelID)
	}
	return ch.GuildID, nil
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	if m.ChannelID != b.channelID {
		return
	}
	ctx := b.runContext()
	if self := b.self(); self != "" && m.Author.ID == self {
		metrics.RecordMessageIgnored("self")
		return
	}
	if m.GuildID != "" && b.directory.Guild() == "" {
		b.directory.SetGuild(m.GuildID)
	}

	msg := toMessage(m.Message)
	if msg.IsCommand(b.svc.CommandPrefix()) {
		b.handleCommand(ctx, msg)
		return
	}
	b.svc.Observe(ctx, msg)
}

func (b *Bot) reply(ctx context.Context, content string) {
	if _, err := b.session.ChannelMessageSend(b.channelID, content, discordgo.WithContext(ctx)); err != nil {
		b.logger.Warn(ctx, "failed to send reply", logger.String("channel", b.channelID), logger.Error(err))
	}
}
