package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/okian/potally/internal/domain/model"
)

func toUser(u *discordgo.User) model.User {
	return model.User{ID: u.ID, Username: u.Username, Bot: u.Bot}
}

func toMessage(m *discordgo.Message) model.Message {
	msg := model.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
	}
	if m.Author != nil {
		msg.Author = toUser(m.Author)
	}
	for _, u := range m.Mentions {
		if u != nil {
			msg.Mentions = append(msg.Mentions, toUser(u))
		}
	}
	return msg
}

// mention renders the platform mention markup for a user id.
func mention(userID string) string {
	return "<@" + userID + ">"
}
