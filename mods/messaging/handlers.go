package messaging

import (
	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
)

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getInt(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// errThreadDepthExceeded is the mod-specific error code a rejected
// reply carries (scenario 3: a reply to a level-4 message fails with
// this code, not the generic ModRejected).
const errThreadDepthExceeded event.ErrorCode = "thread_depth_exceeded"

func respond(success bool, code event.ErrorCode, message string, data map[string]any) modpipeline.Result {
	return modpipeline.Result{
		Verdict: modpipeline.Respond,
		Response: &event.EventResponse{
			Success:   success,
			Message:   message,
			ErrorCode: code,
			Data:      data,
		},
	}
}

func (m *Mod) handleChannelJoin(e *event.Event) modpipeline.Result {
	channel := getString(e.Payload, "channel")
	if channel == "" {
		return respond(false, event.ErrInvalidEvent, "channel is required", nil)
	}
	m.mu.Lock()
	if m.members[channel] == nil {
		m.members[channel] = make(map[string]struct{})
	}
	m.members[channel][e.SourceID] = struct{}{}
	if m.channels[channel] == nil {
		m.channels[channel] = newConversation()
	}
	m.mu.Unlock()
	return respond(true, "", "joined", nil)
}

func (m *Mod) handleChannelLeave(e *event.Event) modpipeline.Result {
	channel := getString(e.Payload, "channel")
	m.mu.Lock()
	if members, ok := m.members[channel]; ok {
		delete(members, e.SourceID)
	}
	m.mu.Unlock()
	return respond(true, "", "left", nil)
}

func (m *Mod) handleChannelMessage(e *event.Event) modpipeline.Result {
	channel := getString(e.Payload, "channel")
	text := getString(e.Payload, "text")
	if channel == "" || text == "" {
		return respond(false, event.ErrInvalidEvent, "channel and text are required", nil)
	}

	m.mu.Lock()
	conv, ok := m.channels[channel]
	if !ok {
		conv = newConversation()
		m.channels[channel] = conv
	}
	msg := &storedMessage{
		MessageID:   e.EventID,
		FromAgentID: e.SourceID,
		Text:        text,
		ThreadLevel: 0,
		QuotedText:  quotedText(conv, getString(e.Payload, "quote_message_id")),
		Timestamp:   e.Timestamp,
	}
	conv.append(msg)
	members := m.members[channel]
	recipients := make([]string, 0, len(members))
	for id := range members {
		if id != e.SourceID {
			recipients = append(recipients, id)
		}
	}
	m.mu.Unlock()

	if m.deps.Emit != nil {
		for _, id := range recipients {
			m.deps.Emit(&event.Event{
				EventName:       eventPrefix + "channel_message.notification",
				SourceID:        e.SourceID,
				SourceType:      event.SourceMod,
				DestinationID:   "agent:" + id,
				RelevantMod:     m.Name(),
				RelevantAgentID: id,
				Payload:         map[string]any{"channel": channel, "from_agent_id": e.SourceID, "text": text, "message_id": msg.MessageID},
			})
		}
	}
	return respond(true, "", "posted", map[string]any{"message_id": msg.MessageID})
}

func (m *Mod) handleDirectMessage(e *event.Event) modpipeline.Result {
	to := getString(e.Payload, "to_agent_id")
	text := getString(e.Payload, "text")
	if to == "" || text == "" {
		return respond(false, event.ErrInvalidEvent, "to_agent_id and text are required", nil)
	}

	key := directKey(e.SourceID, to)
	m.mu.Lock()
	conv, ok := m.directs[key]
	if !ok {
		conv = newConversation()
		m.directs[key] = conv
	}
	msg := &storedMessage{
		MessageID:   e.EventID,
		FromAgentID: e.SourceID,
		Text:        text,
		Timestamp:   e.Timestamp,
	}
	conv.append(msg)
	m.mu.Unlock()

	if m.deps.Emit != nil {
		m.deps.Emit(&event.Event{
			EventName:       eventPrefix + "direct_message.delivered",
			SourceID:        "messaging",
			SourceType:      event.SourceMod,
			DestinationID:   "agent:" + to,
			RelevantMod:     m.Name(),
			RelevantAgentID: to,
			Payload:         map[string]any{"from_agent_id": e.SourceID, "text": text, "message_id": msg.MessageID},
		})
	}
	return respond(true, "", "sent", map[string]any{"message_id": msg.MessageID})
}

func (m *Mod) resolveConversation(e *event.Event) (*conversation, string, bool) {
	if channel := getString(e.Payload, "channel"); channel != "" {
		m.mu.Lock()
		defer m.mu.Unlock()
		conv, ok := m.channels[channel]
		return conv, channel, ok
	}
	if to := getString(e.Payload, "to_agent_id"); to != "" {
		key := directKey(e.SourceID, to)
		m.mu.Lock()
		defer m.mu.Unlock()
		conv, ok := m.directs[key]
		return conv, key, ok
	}
	return nil, "", false
}

func (m *Mod) handleReply(e *event.Event) modpipeline.Result {
	parentID := getString(e.Payload, "reply_to")
	text := getString(e.Payload, "text")
	if parentID == "" || text == "" {
		return respond(false, event.ErrInvalidEvent, "reply_to and text are required", nil)
	}

	conv, _, ok := m.resolveConversation(e)
	if !ok {
		return respond(false, event.ErrInvalidEvent, "no channel or to_agent_id named an existing conversation", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	level, allowed := conv.replyLevel(parentID)
	if !allowed {
		return respond(false, errThreadDepthExceeded, "could not add reply - max nesting level reached", nil)
	}
	msg := &storedMessage{
		MessageID:   e.EventID,
		FromAgentID: e.SourceID,
		Text:        text,
		ReplyTo:     parentID,
		ThreadLevel: level,
		QuotedText:  quotedText(conv, parentID),
		Timestamp:   e.Timestamp,
	}
	conv.append(msg)
	return respond(true, "", "replied", map[string]any{"message_id": msg.MessageID, "thread_level": level})
}

// handleReaction implements add/remove/toggle (spec.md §4.8), grounded
// on _process_reaction_message (original_source .../thread_messaging/mod.py:1185):
// "toggle" resolves to remove if the source already reacted, add
// otherwise, then thread.reaction.notification is emitted to every
// other participant in the conversation the message belongs to.
func (m *Mod) handleReaction(e *event.Event) modpipeline.Result {
	messageID := getString(e.Payload, "message_id")
	emoji := getString(e.Payload, "emoji")
	if messageID == "" || emoji == "" {
		return respond(false, event.ErrInvalidEvent, "message_id and emoji are required", nil)
	}
	action := getString(e.Payload, "action")
	if action == "" {
		action = "add"
	}
	channel, to := getString(e.Payload, "channel"), getString(e.Payload, "to_agent_id")

	conv, _, ok := m.resolveConversation(e)
	if !ok {
		return respond(false, event.ErrInvalidEvent, "no channel or to_agent_id named an existing conversation", nil)
	}

	m.mu.Lock()
	msg, ok := conv.byID(messageID)
	if !ok {
		m.mu.Unlock()
		return respond(false, event.ErrInvalidEvent, "message not found", nil)
	}
	if msg.Reactions == nil {
		msg.Reactions = make(map[string][]string)
	}
	hasReacted := false
	for _, id := range msg.Reactions[emoji] {
		if id == e.SourceID {
			hasReacted = true
			break
		}
	}
	if action == "toggle" {
		if hasReacted {
			action = "remove"
		} else {
			action = "add"
		}
	}
	switch action {
	case "add":
		if !hasReacted {
			msg.Reactions[emoji] = append(msg.Reactions[emoji], e.SourceID)
		}
	case "remove":
		if hasReacted {
			kept := msg.Reactions[emoji][:0]
			for _, id := range msg.Reactions[emoji] {
				if id != e.SourceID {
					kept = append(kept, id)
				}
			}
			msg.Reactions[emoji] = kept
		}
	default:
		m.mu.Unlock()
		return respond(false, event.ErrInvalidEvent, "action must be add, remove, or toggle", nil)
	}
	total := len(msg.Reactions[emoji])

	var notify []string
	switch {
	case channel != "":
		for id := range m.members[channel] {
			if id != e.SourceID {
				notify = append(notify, id)
			}
		}
	case to != "":
		if to != e.SourceID {
			notify = append(notify, to)
		}
		if msg.FromAgentID != e.SourceID && msg.FromAgentID != to {
			notify = append(notify, msg.FromAgentID)
		}
	}
	m.mu.Unlock()

	if m.deps.Emit != nil {
		for _, id := range notify {
			m.deps.Emit(&event.Event{
				EventName:       eventPrefix + "reaction.notification",
				SourceID:        e.SourceID,
				SourceType:      event.SourceMod,
				DestinationID:   "agent:" + id,
				RelevantMod:     m.Name(),
				RelevantAgentID: id,
				Payload: map[string]any{
					"message_id":      messageID,
					"emoji":           emoji,
					"reacting_agent":  e.SourceID,
					"action":          action,
					"total_reactions": total,
				},
			})
		}
	}
	return respond(true, "", action+"ed", map[string]any{"message_id": messageID, "action": action, "total_reactions": total})
}

func (m *Mod) handleHistoryGet(e *event.Event) modpipeline.Result {
	conv, _, ok := m.resolveConversation(e)
	if !ok {
		return respond(true, "", "no history", map[string]any{"messages": []any{}, "total": 0, "has_more": false})
	}
	offset := getInt(e.Payload, "offset", 0)
	limit := getInt(e.Payload, "limit", 50)
	switch {
	case limit < 1:
		limit = 1
	case limit > 500:
		limit = 500
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs, total, hasMore := conv.page(offset, limit)
	return respond(true, "", "ok", map[string]any{"messages": msgs, "total": total, "has_more": hasMore})
}

func (m *Mod) handleChannelInfo(e *event.Event) modpipeline.Result {
	channel := getString(e.Payload, "channel")
	if channel == "" {
		return respond(false, event.ErrInvalidEvent, "channel is required", nil)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.members[channel]
	conv := m.channels[channel]
	messageCount := 0
	if conv != nil {
		messageCount = len(conv.Messages)
	}
	memberList := make([]string, 0, len(members))
	for id := range members {
		memberList = append(memberList, id)
	}
	return respond(true, "", "ok", map[string]any{
		"channel":       channel,
		"members":       memberList,
		"message_count": messageCount,
	})
}

// quotedText builds the "<author>: <first 100 chars>" snippet spec.md
// §4.8 attaches to a reply or post that quotes an earlier message.
func quotedText(conv *conversation, quoteID string) string {
	if quoteID == "" {
		return ""
	}
	msg, ok := conv.byID(quoteID)
	if !ok {
		return ""
	}
	return msg.FromAgentID + ": " + truncateQuote(msg.Text)
}

func truncateQuote(text string) string {
	const maxLen = 100
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
