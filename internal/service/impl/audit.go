package impl

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mfa/internal/domain"
	"mfa/internal/service"
	"mfa/internal/store"
)

// AuditRecorder appends audit events off the request path. A write failure is
// logged and dropped; the verification outcome never depends on it.
type AuditRecorder struct {
	Store   *store.Store
	Timeout time.Duration
}

func NewAuditRecorder(st *store.Store) *AuditRecorder {
	return &AuditRecorder{Store: st, Timeout: 5 * time.Second}
}

func (a *AuditRecorder) Record(eventType string, userID *domain.UserID, success bool, meta service.RequestMeta, extra map[string]any) {
	if a == nil || a.Store == nil {
		return
	}
	var payload []byte
	if len(extra) > 0 {
		b, err := json.Marshal(extra)
		if err != nil {
			slog.Warn("audit metadata marshal failed", "event", eventType, "error", err)
		} else {
			payload = b
		}
	}
	ev := &domain.AuditLog{
		ID:        uuid.New(),
		UserID:    userID,
		EventType: eventType,
		Success:   success,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Metadata:  payload,
		CreatedAt: time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.Timeout)
		defer cancel()
		if err := a.Store.Audit().Append(ctx, ev); err != nil {
			slog.Warn("audit append failed", "event", eventType, "error", err)
		}
	}()
}
