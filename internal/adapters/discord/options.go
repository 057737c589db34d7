package discord

import "github.com/okian/potally/pkg/logger"

// Option configures a Bot.
type Option func(*Bot)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bot) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithAdmins sets the user ids allowed to run the resync command.
func WithAdmins(ids ...string) Option {
	return func(b *Bot) {
		for _, id := range ids {
			if id != "" {
				b.admins[id] = struct{}{}
			}
		}
	}
}

// WithResyncOnStartup rebuilds counts from history once the session is ready.
func WithResyncOnStartup(enabled bool) Option {
	return func(b *Bot) { b.resyncOnStartup = enabled }
}

// WithDefaultLimit sets the leaderboard size used when none is given.
func WithDefaultLimit(n int) Option {
	return func(b *Bot) {
		if n > 0 {
			b.defaultLimit = n
		}
	}
}

// WithMemberCache sets the local member cache consulted before remote lookups.
// A *discordgo.State satisfies it.
func WithMemberCache(c MemberCache) Option {
	return func(b *Bot) {
		if c != nil {
			b.directory.cache = c
		}
	}
}
