// Package workflow moves product passports through their review lifecycle.
// Every operation locates the product, checks permission, mutates, then
// audits. Oracle calls run as detached tasks guarded by the isProcessing and
// isMinting flags, which are always cleared when the task ends.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"norruva.org/internal/audit"
	"norruva.org/internal/auth"
	"norruva.org/internal/compliance"
	"norruva.org/internal/credits"
	"norruva.org/internal/domain"
	"norruva.org/internal/obs"
	"norruva.org/internal/oracle"
	"norruva.org/internal/ratelimit"
	"norruva.org/internal/store"
	"norruva.org/internal/stream"
	"norruva.org/internal/tasks"
	"norruva.org/internal/validation"
)

// RecycleCreditAmount is granted to the actor of every MarkAsRecycled.
const RecycleCreditAmount = 10

var (
	ErrNotFound          = store.ErrNotFound
	ErrInvalidTransition = errors.New("invalid workflow transition")
	ErrBusy              = errors.New("product has a background task in flight")
	ErrNoCompliancePath  = errors.New("no compliance path applies")
)

// ValidationError carries field-level problems with the caller's input.
type ValidationError = validation.Error

// Notifier fans an event out to webhook subscribers.
type Notifier interface {
	Publish(ctx context.Context, event string, payload map[string]any)
}

// EventPublisher receives lifecycle events for live subscribers.
type EventPublisher interface {
	Publish(evt stream.Event)
}

// Deps are the engine's collaborators. Notifier and Events are optional.
type Deps struct {
	Products  store.ProductRepository
	Companies store.CompanyRepository
	Paths     store.CompliancePathRepository
	Audit     *audit.Logger
	Executor  *tasks.Executor
	Scorer    oracle.Scorer
	Anchorer  oracle.Anchorer
	Issuer    oracle.CredentialIssuer
	Evaluator *compliance.Evaluator
	Credits   credits.Service
	Notifier  Notifier
	Events    EventPublisher
}

// Engine implements the product workflow.
type Engine struct {
	Deps
	validate *validation.Validator
	now      func() time.Time
}

// New checks that every required collaborator is present.
func New(d Deps) (*Engine, error) {
	required := []struct {
		name    string
		missing bool
	}{
		{"products", d.Products == nil},
		{"companies", d.Companies == nil},
		{"paths", d.Paths == nil},
		{"audit", d.Audit == nil},
		{"executor", d.Executor == nil},
		{"scorer", d.Scorer == nil},
		{"anchorer", d.Anchorer == nil},
		{"issuer", d.Issuer == nil},
		{"evaluator", d.Evaluator == nil},
		{"credits", d.Credits == nil},
	}
	for _, r := range required {
		if r.missing {
			return nil, fmt.Errorf("workflow: missing %s dependency", r.name)
		}
	}
	return &Engine{Deps: d, validate: validation.New(), now: func() time.Time { return time.Now().UTC() }}, nil
}

// load is the existence check every mutation performs before permission.
func (e *Engine) load(ctx context.Context, id string) (*domain.Product, error) {
	p, err := e.Products.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// authorize loads id and checks action against it.
func (e *Engine) authorize(ctx context.Context, actor *domain.User, action auth.Action, id string) (*domain.Product, error) {
	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := auth.CheckPermission(actor, action, auth.ProductResource(p)); err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Engine) record(ctx context.Context, action string, p *domain.Product, details map[string]any, userID string) {
	e.Audit.Log(ctx, action, p.ID, details, userID)
	if e.Events != nil {
		e.Events.Publish(stream.Event{
			Name:      action,
			EntityID:  p.ID,
			CompanyID: p.CompanyID,
			Data:      details,
			Timestamp: e.now(),
		})
	}
}

func (e *Engine) notify(ctx context.Context, event string, payload map[string]any) {
	if e.Notifier != nil {
		e.Notifier.Publish(ctx, event, payload)
	}
}

// observe counts op by outcome and returns err unchanged.
func observe(op string, err error) error {
	obs.WorkflowTransitions.WithLabelValues(op, Outcome(err)).Inc()
	return err
}

// Outcome classifies err for metrics and transport mapping.
func Outcome(err error) string {
	var permErr *auth.PermissionError
	var valErr *ValidationError
	var rlErr *ratelimit.Error
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &permErr):
		return "denied"
	case errors.As(err, &valErr):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.As(err, &rlErr):
		return "rate_limited"
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrBusy):
		return "conflict"
	default:
		return "error"
	}
}

func transition(from any, op string) error {
	return fmt.Errorf("%w: cannot %s from %v", ErrInvalidTransition, op, from)
}

func actorID(u *domain.User) string {
	if u == nil {
		return domain.ActorGuest
	}
	return u.ID
}
