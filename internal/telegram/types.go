// Package telegram adapts the chat platform to the rest of the pipeline. It
// defines a platform-neutral peer and reaction model plus a Connector for
// the small set of outbound operations the bot needs.
package telegram

import (
	"encoding/json"
	"fmt"

	"github.com/go-telegram/bot/models"
)

// Offset applied when mapping a channel/supergroup id into the canonical
// chat-id space shared with groups and private chats.
const channelIDOffset = int64(1_000_000_000_000)

// Peer identifies where an update originated. Exactly one concrete variant
// exists per peer kind; decoding an unknown kind is an error rather than a
// silent zero value.
type Peer interface {
	// ResolveChatID maps the peer into the canonical signed chat-id space:
	// private chats are positive, basic groups are negated, and channels or
	// supergroups are offset into their own negative range.
	ResolveChatID() int64
}

// PeerUser is a private (direct message) peer.
type PeerUser struct {
	UserID int64 `json:"user_id"`
}

// ResolveChatID implements Peer.
func (p PeerUser) ResolveChatID() int64 { return p.UserID }

// PeerChat is a basic group peer. The raw id is positive on the wire.
type PeerChat struct {
	ChatID int64 `json:"chat_id"`
}

// ResolveChatID implements Peer.
func (p PeerChat) ResolveChatID() int64 { return -p.ChatID }

// PeerChannel is a channel or supergroup peer. The raw id is positive on
// the wire.
type PeerChannel struct {
	ChannelID int64 `json:"channel_id"`
}

// ResolveChatID implements Peer.
func (p PeerChannel) ResolveChatID() int64 { return -channelIDOffset - p.ChannelID }

// DecodePeer decodes a tagged peer object of the form
// {"_": "peerChannel", "channel_id": 123}. Unknown tags fail decoding.
func DecodePeer(raw json.RawMessage) (Peer, error) {
	var tag struct {
		Kind string `json:"_"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("failed to decode peer tag: %w", err)
	}

	switch tag.Kind {
	case "peerUser":
		var p PeerUser
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode peerUser: %w", err)
		}
		return p, nil
	case "peerChat":
		var p PeerChat
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode peerChat: %w", err)
		}
		return p, nil
	case "peerChannel":
		var p PeerChannel
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode peerChannel: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown peer kind %q", tag.Kind)
	}
}

// RecentReaction records a single user's reaction on a message.
type RecentReaction struct {
	UserID int64
	Emoji  string
}

// ReactionCount is the aggregate count of one emoji on a message.
type ReactionCount struct {
	Emoji string
	Count int
}

// MessageReactions carries both the aggregate counts and the per-user recent
// reactions for a message. Recent is what trigger detection inspects;
// Results is informational.
type MessageReactions struct {
	Results []ReactionCount
	Recent  []RecentReaction
}

// ReactionUpdate is a platform-neutral view of a reaction change event.
type ReactionUpdate struct {
	Peer      Peer
	MessageID int64
	ActorID   int64
	Reactions MessageReactions
}

// FromBotUpdate converts a Bot API reaction update into the neutral model.
// Anonymous reactions (no user attached) and custom-emoji reactions produce
// no recent entries and therefore never trigger dispatch.
func FromBotUpdate(update *models.MessageReactionUpdated) ReactionUpdate {
	out := ReactionUpdate{
		Peer:      peerFromChat(&update.Chat),
		MessageID: int64(update.MessageID),
	}
	if update.User == nil {
		return out
	}
	out.ActorID = update.User.ID

	for _, rt := range update.NewReaction {
		if rt.ReactionTypeEmoji == nil {
			continue
		}
		emoji := rt.ReactionTypeEmoji.Emoji
		out.Reactions.Recent = append(out.Reactions.Recent, RecentReaction{
			UserID: update.User.ID,
			Emoji:  emoji,
		})
		out.Reactions.Results = append(out.Reactions.Results, ReactionCount{Emoji: emoji, Count: 1})
	}
	return out
}

// peerFromChat inverts the Bot API chat-id encoding back into a raw peer.
func peerFromChat(chat *models.Chat) Peer {
	switch string(chat.Type) {
	case "group":
		return PeerChat{ChatID: -chat.ID}
	case "supergroup", "channel":
		return PeerChannel{ChannelID: -(chat.ID + channelIDOffset)}
	default:
		return PeerUser{UserID: chat.ID}
	}
}
