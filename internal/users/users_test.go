package users

import (
	"context"
	"errors"
	"testing"

	"norruva.org/internal/audit"
	"norruva.org/internal/auth"
	"norruva.org/internal/domain"
	"norruva.org/internal/store"
	"norruva.org/internal/validation"
)

func ptr(s string) *string { return &s }

func newService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	for _, u := range []*domain.User{
		{ID: "usr_1", Email: "a@x.io", FullName: "A", CompanyID: "cmp_a", Roles: []domain.Role{domain.RoleSupplier}},
		{ID: "usr_2", Email: "b@x.io", FullName: "B", CompanyID: "cmp_a", Roles: []domain.Role{domain.RoleAuditor}},
		{ID: "usr_admin", CompanyID: "cmp_z", Roles: []domain.Role{domain.RoleAdmin}},
	} {
		if err := mem.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	return NewService(mem, audit.NewLogger(mem, mem)), mem
}

func TestUpdateOwnProfile(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	self, _ := mem.GetUser(ctx, "usr_1")

	got, err := svc.UpdateProfile(ctx, self, "usr_1", ProfileUpdate{FullName: ptr(" Alice ")})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if got.FullName != "Alice" || got.Email != "a@x.io" {
		t.Fatalf("unexpected user %+v", got)
	}
	logs, _ := mem.ListAuditLogs(ctx, store.AuditFilter{ActionPrefix: "user.updated"})
	if len(logs) != 1 || logs[0].EntityID != "usr_1" {
		t.Fatalf("expected user.updated, got %+v", logs)
	}
}

func TestUpdateOtherProfileDenied(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	self, _ := mem.GetUser(ctx, "usr_1")
	var permErr *auth.PermissionError
	if _, err := svc.UpdateProfile(ctx, self, "usr_2", ProfileUpdate{FullName: ptr("x")}); !errors.As(err, &permErr) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	admin, _ := mem.GetUser(ctx, "usr_admin")
	if _, err := svc.UpdateProfile(ctx, admin, "usr_2", ProfileUpdate{FullName: ptr("Bee")}); err != nil {
		t.Fatalf("admin edit: %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, admin, "usr_missing", ProfileUpdate{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateProfileValidates(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	self, _ := mem.GetUser(ctx, "usr_1")
	var ve *validation.Error
	if _, err := svc.UpdateProfile(ctx, self, "usr_1", ProfileUpdate{Email: ptr("not-an-email"), FullName: ptr("  ")}); !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(ve.Fields["email"]) == 0 || len(ve.Fields["fullName"]) == 0 {
		t.Fatalf("unexpected fields %v", ve.Fields)
	}
}
