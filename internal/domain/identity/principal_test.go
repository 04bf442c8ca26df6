package identity

import (
	"context"
	"testing"
)

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"":                 RoleActor,
		"Actor":            RoleActor,
		"casting-director": RoleCastingDirector,
		"CASTING_DIRECTOR": RoleCastingDirector,
		"producer":         RoleProducer,
		"admin":            RoleAdmin,
		"superuser":        RoleActor,
	}
	for raw, want := range cases {
		if got := ParseRole(raw); got != want {
			t.Fatalf("ParseRole(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected no principal")
	}
	ctx := WithPrincipal(context.Background(), Principal{ID: "user-1", Role: RoleAdmin})
	p, ok := FromContext(ctx)
	if !ok || p.ID != "user-1" || !p.IsAdmin() {
		t.Fatalf("unexpected principal %+v", p)
	}
}
