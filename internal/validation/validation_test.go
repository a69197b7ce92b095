package validation

import (
	"errors"
	"strings"
	"testing"
)

type item struct {
	Name  string  `json:"name" validate:"notblank,max=5"`
	Share float64 `json:"share" validate:"gte=0,lte=100"`
}

type form struct {
	Email string `json:"email" validate:"omitempty,email"`
	Items []item `json:"items" validate:"dive"`
}

func TestStructReportsJSONPaths(t *testing.T) {
	v := New()
	err := v.Struct(form{Email: "nope", Items: []item{{Name: "  ", Share: 120}}})
	var ve *Error
	if !errors.As(err, &ve) {
		t.Fatalf("expected *Error, got %v", err)
	}
	for _, f := range []string{"email", "items[0].name", "items[0].share"} {
		if len(ve.Fields[f]) == 0 {
			t.Fatalf("missing field %q in %v", f, ve.Fields)
		}
	}
	if !strings.HasPrefix(ve.Error(), "validation failed: email:") {
		t.Fatalf("unexpected message %q", ve.Error())
	}
}

func TestStructAcceptsValid(t *testing.T) {
	if err := New().Struct(form{Email: "a@b.io", Items: []item{{Name: "ok"}}}); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestOrNil(t *testing.T) {
	var e Error
	if e.OrNil() != nil {
		t.Fatalf("empty error should be nil")
	}
	e.Add("x", "bad")
	if e.OrNil() == nil {
		t.Fatalf("non-empty error should not be nil")
	}
}
