package forum

import (
	"time"

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

func (m *Mod) handleThreadCreate(e *event.Event) modpipeline.Result {
	title := getString(e.Payload, "title")
	text := getString(e.Payload, "text")
	if title == "" || text == "" {
		return respond(false, event.ErrInvalidEvent, "title and text are required", nil)
	}

	threadID := newID()
	opening := &Post{
		PostID:    newID(),
		ThreadID:  threadID,
		AuthorID:  e.SourceID,
		Text:      text,
		Timestamp: time.Now(),
		Votes:     make(map[string]int),
	}
	thread := &Thread{ThreadID: threadID, Title: title, Opening: opening}

	m.mu.Lock()
	m.threads[threadID] = thread
	m.indexPost(opening)
	m.mu.Unlock()

	return respond(true, "", "created", map[string]any{"thread_id": threadID, "post_id": opening.PostID})
}

func (m *Mod) handleReplyPost(e *event.Event) modpipeline.Result {
	threadID := getString(e.Payload, "thread_id")
	text := getString(e.Payload, "text")
	if threadID == "" || text == "" {
		return respond(false, event.ErrInvalidEvent, "thread_id and text are required", nil)
	}

	m.mu.Lock()
	thread, ok := m.threads[threadID]
	if !ok {
		m.mu.Unlock()
		return respond(false, event.ErrInvalidEvent, "thread not found: "+threadID, nil)
	}
	reply := &Post{
		PostID:    newID(),
		ThreadID:  threadID,
		AuthorID:  e.SourceID,
		Text:      text,
		ReplyTo:   getString(e.Payload, "reply_to"),
		Timestamp: time.Now(),
		Votes:     make(map[string]int),
	}
	thread.Replies = append(thread.Replies, reply)
	m.indexPost(reply)
	m.mu.Unlock()

	if m.deps.Emit != nil {
		m.deps.Emit(&event.Event{
			EventName:  eventPrefix + "reply.posted",
			SourceID:   "forum",
			SourceType: event.SourceMod,
			Payload:    map[string]any{"thread_id": threadID, "post_id": reply.PostID, "author_id": e.SourceID},
		})
	}

	return respond(true, "", "posted", map[string]any{"post_id": reply.PostID})
}

func (m *Mod) handleVoteCast(e *event.Event) modpipeline.Result {
	postID := getString(e.Payload, "post_id")
	direction := getInt(e.Payload, "direction", 0)
	if postID == "" || (direction != 1 && direction != -1) {
		return respond(false, event.ErrInvalidEvent, "post_id and direction (1 or -1) are required", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[postID]
	if !ok {
		return respond(false, event.ErrInvalidEvent, "post not found: "+postID, nil)
	}
	post.Votes[e.SourceID] = direction
	return respond(true, "", "voted", map[string]any{"post_id": postID, "score": post.score()})
}

func (m *Mod) handleThreadList(e *event.Event) modpipeline.Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]map[string]any, 0, len(m.threads))
	for id, t := range m.threads {
		score := 0
		if t.Opening != nil {
			score = t.Opening.score()
		}
		out = append(out, map[string]any{
			"thread_id":    id,
			"title":        t.Title,
			"reply_count":  len(t.Replies),
			"opening_score": score,
		})
	}
	return respond(true, "", "ok", map[string]any{"threads": out})
}
