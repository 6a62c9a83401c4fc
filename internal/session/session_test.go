package session

import (
	"context"
	"testing"

	"github.com/bigkaa/cdrcore/internal/domain/rbac"
)

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Fatal("ожидался nil без сессии")
	}

	s := &Session{Subject: "u-1", UserName: "jdoe", Role: rbac.RoleManager}
	ctx := WithSession(context.Background(), s)
	got := FromContext(ctx)
	if got == nil || got.UserName != "jdoe" {
		t.Fatalf("FromContext() = %+v", got)
	}
}

func TestCan(t *testing.T) {
	var nilSession *Session
	if nilSession.Can(rbac.ActionViewQueue) {
		t.Error("nil-сессия не должна иметь прав")
	}

	reader := &Session{Role: rbac.RoleReadonly}
	if !reader.Can(rbac.ActionViewQueue) {
		t.Error("readonly должен видеть очередь")
	}
	if reader.Can(rbac.ActionManageQueue) {
		t.Error("readonly не должен менять очередь")
	}
}

func TestSystem(t *testing.T) {
	s := System("ImportUser")
	if s.UserName != "ImportUser" || s.Role != rbac.RoleAdmin {
		t.Errorf("System() = %+v", s)
	}
	if !s.Can(rbac.ActionLoadPartners) {
		t.Error("системная сессия должна загружать реестр партнёров")
	}
}
