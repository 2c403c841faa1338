package main

import (
	"fmt"
	"strings"

	"github.com/hangr-app/hangr"
)

// formatUpdate renders an update as one line of terminal output.
func formatUpdate(u hangr.Update) string {
	switch u := u.(type) {
	case hangr.Connected:
		return "connected"
	case hangr.Reconnecting:
		if u.Delay == 0 {
			return "disconnected"
		}
		return fmt.Sprintf("disconnected, retrying in %s", u.Delay)
	case hangr.LoggedOut:
		return fmt.Sprintf("logged out: %v (run 'hangr login <token>')", u.Reason)
	case hangr.SelfInfoUpdate:
		return "signed in as " + entityName(u.Info.SelfEntity)
	case hangr.RecentConversations:
		return fmt.Sprintf("%d conversation(s)%s", len(u.Conversations), conversationNames(u.Conversations))
	case hangr.CaughtUp:
		return fmt.Sprintf("caught up on %d conversation(s)", len(u.Conversations))
	case hangr.GotNewEvents:
		return fmt.Sprintf("new events in %d conversation(s)", len(u.Conversations))
	case hangr.GotEntities:
		names := make([]string, 0, len(u.Entities))
		for _, e := range u.Entities {
			names = append(names, entityName(e))
		}
		return "entities: " + strings.Join(names, ", ")
	case hangr.GotConversation:
		n := 0
		if u.State != nil {
			n = len(u.State.Events)
		}
		return fmt.Sprintf("[%s] loaded %d event(s)", u.ConversationID(), n)
	case hangr.Received:
		return fmt.Sprintf("[%s] %s: %s", u.ConversationID(), u.Event.SenderID.ChatID, eventText(u.Event))
	case hangr.Sent:
		return fmt.Sprintf("[%s] me: %s", u.ConversationID(), eventText(u.Event))
	case hangr.Focus:
		return fmt.Sprintf("[%s] %s %s", u.ConversationID(), u.Data.Participant.ChatID, strings.ToLower(string(u.Data.Status)))
	case hangr.Typing:
		return fmt.Sprintf("[%s] %s %s", u.ConversationID(), u.Data.Participant.ChatID, strings.ToLower(string(u.Data.Status)))
	case hangr.Watermark:
		return fmt.Sprintf("[%s] %s read up to %s", u.ConversationID(), u.Data.Participant.ChatID, u.Data.LatestReadTimestamp.Time().Format("15:04:05"))
	case hangr.Delete:
		return fmt.Sprintf("[%s] event %s deleted", u.ConversationID(), u.EventID)
	default:
		return string(u.Kind())
	}
}

func entityName(e hangr.Entity) string {
	if e.Properties.DisplayName != "" {
		return e.Properties.DisplayName
	}
	return e.ID.ChatID
}

func conversationNames(states []*hangr.ConversationState) string {
	var names []string
	for _, s := range states {
		if s.Conversation != nil && s.Conversation.Name != "" {
			names = append(names, s.Conversation.Name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	return ": " + strings.Join(names, ", ")
}

func eventText(e hangr.Event) string {
	if e.Message == nil {
		return "(" + string(e.Category) + ")"
	}
	var b strings.Builder
	for _, s := range e.Message.Segments {
		b.WriteString(s.Text)
	}
	if len(e.Message.Attachments) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "[%d attachment(s)]", len(e.Message.Attachments))
	}
	return b.String()
}
