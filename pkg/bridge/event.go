package bridge

import (
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
)

// DefaultGroupTitle is used when no group title is configured.
const DefaultGroupTitle = "Group {chat_id}"

// EventBuilder turns validated payloads into synthetic updates shaped exactly
// like the ones the platform delivers.
type EventBuilder struct {
	ids IDAllocator
}

func NewEventBuilder(ids IDAllocator) *EventBuilder {
	return &EventBuilder{ids: ids}
}

func (b *EventBuilder) Build(msg ExternalMessage, display DisplayOptions) telego.Update {
	chat := telego.Chat{ID: msg.ChatID}
	if msg.IsGroup() {
		chat.Type = groupChatType(msg.ChatID)
		chat.Title = display.groupTitle(msg.ChatID)
	} else {
		chat.Type = telego.ChatTypePrivate
		chat.FirstName = msg.SenderName
	}
	topic := msg.ThreadID != nil && msg.IsGroup()
	if topic {
		chat.IsForum = true
	}

	from := &telego.User{
		ID:        msg.SenderID,
		FirstName: msg.SenderName,
	}
	if msg.SenderUsername != "" {
		from.Username = msg.SenderUsername
	}

	message := &telego.Message{
		MessageID: msg.MessageID,
		From:      from,
		Date:      msg.Timestamp,
		Chat:      chat,
		Text:      msg.Text,
	}
	if msg.ThreadID != nil {
		message.MessageThreadID = *msg.ThreadID
		message.IsTopicMessage = topic
	}
	if msg.ReplyToMessageID != nil {
		// minimal stand-in, the referenced message is not fetched
		message.ReplyToMessage = &telego.Message{
			MessageID: *msg.ReplyToMessageID,
			Date:      msg.Timestamp,
			Chat:      chat,
		}
	}

	return telego.Update{
		UpdateID: b.ids.Next(),
		Message:  message,
	}
}

// groupChatType mirrors the platform convention: supergroup ids carry a -100
// prefix, basic groups are plain negative numbers.
func groupChatType(chatID int64) string {
	if strings.HasPrefix(strconv.FormatInt(chatID, 10), "-100") {
		return telego.ChatTypeSupergroup
	}
	return telego.ChatTypeGroup
}

func (d DisplayOptions) groupTitle(chatID int64) string {
	tmpl := d.GroupTitle
	if tmpl == "" {
		tmpl = DefaultGroupTitle
	}
	return strings.ReplaceAll(tmpl, "{chat_id}", strconv.FormatInt(chatID, 10))
}
