package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/okian/potally/internal/domain/model"
)

// maxPageSize is the largest page the messages endpoint returns.
const maxPageSize = 100

// MessageLister lists channel messages newest first.
type MessageLister interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// ChannelHistory pages through one channel's messages.
type ChannelHistory struct {
	api       MessageLister
	channelID string
}

// NewChannelHistory returns a history provider for channelID.
func NewChannelHistory(api MessageLister, channelID string) *ChannelHistory {
	return &ChannelHistory{api: api, channelID: channelID}
}

// Page returns up to limit messages older than before, newest first.
func (h *ChannelHistory) Page(ctx context.Context, before string, limit int) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	raw, err := h.api.ChannelMessages(h.channelID, limit, before, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list messages of %s before %q: %w", h.channelID, before, err)
	}
	page := make([]model.Message, 0, len(raw))
	for _, m := range raw {
		if m == nil {
			continue
		}
		page = append(page, toMessage(m))
	}
	return page, nil
}
