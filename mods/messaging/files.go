package messaging

import (
	"encoding/base64"
	"time"

	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
)

// File payloads carry content as base64 text, since the normalized
// event payload is protobuf-Struct representable (structpb has no
// raw-bytes type).
func (m *Mod) handleFileUpload(e *event.Event) modpipeline.Result {
	name := getString(e.Payload, "name")
	encoded := getString(e.Payload, "data_base64")
	if name == "" || encoded == "" {
		return respond(false, event.ErrInvalidEvent, "name and data_base64 are required", nil)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return respond(false, event.ErrInvalidEvent, "data_base64 is not valid base64", nil)
	}

	f := &storedFile{
		FileID:      e.EventID,
		Name:        name,
		ContentType: getString(e.Payload, "content_type"),
		Data:        data,
		UploadedBy:  e.SourceID,
		UploadedAt:  time.Now(),
	}
	m.mu.Lock()
	m.files[f.FileID] = f
	m.mu.Unlock()

	return respond(true, "", "uploaded", map[string]any{"file_id": f.FileID, "size": len(data)})
}

func (m *Mod) handleFileDownload(e *event.Event) modpipeline.Result {
	fileID := getString(e.Payload, "file_id")
	if fileID == "" {
		return respond(false, event.ErrInvalidEvent, "file_id is required", nil)
	}
	m.mu.RLock()
	f, ok := m.files[fileID]
	m.mu.RUnlock()
	if !ok {
		return respond(false, event.ErrInvalidEvent, "File not found", map[string]any{"error": "File not found"})
	}
	return respond(true, "", "ok", map[string]any{
		"name":         f.Name,
		"content_type": f.ContentType,
		"data_base64":  base64.StdEncoding.EncodeToString(f.Data),
		"uploaded_by":  f.UploadedBy,
	})
}
