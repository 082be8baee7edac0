package wiki

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

func (m *Mod) handleGet(e *event.Event) modpipeline.Result {
	title := getString(e.Payload, "title")
	if title == "" {
		return respond(false, event.ErrInvalidEvent, "title is required", nil)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	page, ok := m.pages[title]
	if !ok || page.current() == nil {
		return respond(false, event.ErrInvalidEvent, "page not found: "+title, nil)
	}
	rev := page.current()
	return respond(true, "", "ok", map[string]any{
		"title":     title,
		"content":   rev.Content,
		"author_id": rev.AuthorID,
		"version":   len(page.Revisions),
		"timestamp": rev.Timestamp,
	})
}

func (m *Mod) handlePut(e *event.Event) modpipeline.Result {
	title := getString(e.Payload, "title")
	content := getString(e.Payload, "content")
	if title == "" {
		return respond(false, event.ErrInvalidEvent, "title is required", nil)
	}

	rev := &Revision{
		Content:   content,
		AuthorID:  e.SourceID,
		Timestamp: time.Now(),
		Comment:   getString(e.Payload, "comment"),
	}

	m.mu.Lock()
	page, ok := m.pages[title]
	if !ok {
		page = &Page{Title: title}
		m.pages[title] = page
	}
	page.Revisions = append(page.Revisions, rev)
	version := len(page.Revisions)
	m.mu.Unlock()

	if m.deps.Emit != nil {
		m.deps.Emit(&event.Event{
			EventName:  eventPrefix + "page.updated",
			SourceID:   "wiki",
			SourceType: event.SourceMod,
			Payload:    map[string]any{"title": title, "author_id": e.SourceID, "version": version},
		})
	}

	return respond(true, "", "saved", map[string]any{"title": title, "version": version})
}

func (m *Mod) handleHistory(e *event.Event) modpipeline.Result {
	title := getString(e.Payload, "title")
	if title == "" {
		return respond(false, event.ErrInvalidEvent, "title is required", nil)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	page, ok := m.pages[title]
	if !ok {
		return respond(false, event.ErrInvalidEvent, "page not found: "+title, nil)
	}

	total := len(page.Revisions)
	offset := getInt(e.Payload, "offset", 0)
	limit := getInt(e.Payload, "limit", 50)
	start := clamp(total-offset-limit, 0, total)
	end := clamp(total-offset, 0, total)

	revs := make([]*Revision, 0, end-start)
	for i := end - 1; i >= start; i-- {
		revs = append(revs, page.Revisions[i])
	}
	return respond(true, "", "ok", map[string]any{"title": title, "revisions": revs, "total": total})
}

func (m *Mod) handleList(e *event.Event) modpipeline.Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	titles := make([]map[string]any, 0, len(m.pages))
	for title, page := range m.pages {
		rev := page.current()
		if rev == nil {
			continue
		}
		titles = append(titles, map[string]any{
			"title":   title,
			"version": len(page.Revisions),
			"updated": rev.Timestamp,
		})
	}
	return respond(true, "", "ok", map[string]any{"pages": titles})
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
