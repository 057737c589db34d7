package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// MemberCache is the local member store filled by the gateway.
type MemberCache interface {
	Member(guildID, userID string) (*discordgo.Member, error)
}

// MemberFetcher fetches members and users from the REST API.
type MemberFetcher interface {
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

// Directory resolves user ids to names, cache first.
type Directory struct {
	mu      sync.RWMutex
	guildID string

	cache MemberCache
	api   MemberFetcher
}

// NewDirectory returns a directory backed by api and an optional cache.
func NewDirectory(api MemberFetcher, cache MemberCache) *Directory {
	return &Directory{api: api, cache: cache}
}

// SetGuild sets the guild whose members are looked up.
func (d *Directory) SetGuild(id string) {
	d.mu.Lock()
	d.guildID = id
	d.mu.Unlock()
}

// Guild returns the current guild id.
func (d *Directory) Guild() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.guildID
}

// DisplayName returns the user's name. Outside a guild the global user is used.
func (d *Directory) DisplayName(ctx context.Context, userID string) (string, error) {
	guild := d.Guild()
	if guild == "" {
		u, err := d.api.User(userID, discordgo.WithContext(ctx))
		if err != nil {
			return "", fmt.Errorf("fetch user %s: %w", userID, err)
		}
		if u == nil || u.Username == "" {
			return "", ErrUnknownUser
		}
		return u.Username, nil
	}

	if d.cache != nil {
		if m, err := d.cache.Member(guild, userID); err == nil {
			if name := memberName(m); name != "" {
				return name, nil
			}
		}
	}

	m, err := d.api.GuildMember(guild, userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("fetch member %s: %w", userID, err)
	}
	name := memberName(m)
	if name == "" {
		return "", ErrUnknownUser
	}
	return name, nil
}

func memberName(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.User != nil && m.User.Username != "" {
		return m.User.Username
	}
	return m.Nick
}
