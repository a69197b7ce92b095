// Package audit records what happened. Writes are best-effort: a failed
// append is reported but never undoes the mutation it describes.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"norruva.org/internal/domain"
	"norruva.org/internal/ids"
	"norruva.org/internal/obs"
	"norruva.org/internal/store"
)

var (
	ErrEmptyAction  = errors.New("audit action is required")
	ErrUnknownActor = errors.New("audit actor does not exist")
)

// Failure describes an audit event that could not be recorded.
type Failure struct {
	Action   string
	EntityID string
	UserID   string
	Err      error
	At       time.Time
}

// Logger appends audit entries and mirrors them to the structured log.
type Logger struct {
	logs  store.AuditLogRepository
	users store.UserRepository
	sink  chan<- Failure
	now   func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithErrorSink delivers failures to ch without blocking; a full channel
// drops the notification.
func WithErrorSink(ch chan<- Failure) Option {
	return func(l *Logger) { l.sink = ch }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// NewLogger constructs a Logger. users may be nil, in which case actor ids
// are not checked.
func NewLogger(logs store.AuditLogRepository, users store.UserRepository, opts ...Option) *Logger {
	l := &Logger{
		logs:  logs,
		users: users,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log appends an entry for action on entityID by userID. An empty userID is
// recorded as the guest actor. Callers that have already committed a
// mutation ignore the returned error; it is reported through the sink too.
func (l *Logger) Log(ctx context.Context, action, entityID string, details map[string]any, userID string) (domain.AuditLog, error) {
	action = strings.TrimSpace(action)
	if userID == "" {
		userID = domain.ActorGuest
	}
	entry := domain.AuditLog{
		ID:        ids.WithPrefix(ids.PrefixAuditLog),
		UserID:    userID,
		Action:    action,
		EntityID:  entityID,
		Details:   maps.Clone(details),
		CreatedAt: l.now(),
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	if action == "" {
		return entry, l.fail(entry, ErrEmptyAction)
	}
	if err := l.checkActor(ctx, userID); err != nil {
		return entry, l.fail(entry, err)
	}
	if err := l.logs.AppendAuditLog(ctx, entry); err != nil {
		return entry, l.fail(entry, fmt.Errorf("append audit log: %w", err))
	}
	l.mirror(ctx, entry)
	return entry, nil
}

func (l *Logger) checkActor(ctx context.Context, userID string) error {
	if userID == domain.ActorSystem || userID == domain.ActorGuest || l.users == nil {
		return nil
	}
	if _, err := l.users.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownActor, userID)
		}
		return err
	}
	return nil
}

func (l *Logger) fail(entry domain.AuditLog, err error) error {
	obs.AuditWriteFailures.Inc()
	obs.Error("audit write failed", err, map[string]any{
		"action":    entry.Action,
		"entity_id": entry.EntityID,
		"user_id":   entry.UserID,
	})
	if l.sink != nil {
		select {
		case l.sink <- Failure{Action: entry.Action, EntityID: entry.EntityID, UserID: entry.UserID, Err: err, At: entry.CreatedAt}:
		default:
		}
	}
	return err
}

// mirror writes the entry as a JSON line enriched with request context.
func (l *Logger) mirror(ctx context.Context, entry domain.AuditLog) {
	line := map[string]any{
		"ts":        entry.CreatedAt.Format(time.RFC3339Nano),
		"type":      "audit",
		"event":     entry.Action,
		"id":        entry.ID,
		"entity_id": entry.EntityID,
		"user_id":   entry.UserID,
		"fields":    entry.Details,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		line["request_id"] = rid
	}
	data, err := json.Marshal(line)
	if err != nil {
		obs.Error("audit mirror marshal failed", err, map[string]any{"action": entry.Action})
		return
	}
	obs.Logger().Println(string(data))
}
