package ingest

import (
	"github.com/bwmarrin/discordgo"

	"guildcache/internal/store"
)

// Upstream is the slice of the Discord REST surface the ingestion side
// depends on. *discordgo.Session satisfies it; tests substitute fakes.
type Upstream interface {
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildThreadsActive(guildID string, options ...discordgo.RequestOption) (*discordgo.ThreadsList, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ThreadJoin(id string, options ...discordgo.RequestOption) error
}

// convertMessage maps an upstream message to the stored form.
func convertMessage(m *discordgo.Message) store.Message {
	authorTag := ""
	if m.Author != nil {
		authorTag = m.Author.String()
	}
	return store.Message{
		ID:        m.ID,
		Content:   m.Content,
		AuthorTag: authorTag,
		Timestamp: m.Timestamp,
	}
}
