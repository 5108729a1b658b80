// ABOUTME: Tests for AuthContext propagation through context.Context
// ABOUTME: Covers attached and missing auth values

package auth

import (
	"context"
	"testing"
)

func TestFromContext_Present(t *testing.T) {
	ctx := WithAuth(context.Background(), &AuthContext{Subject: "client-1"})

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("FromContext() returned nil")
	}
	if got.Subject != "client-1" {
		t.Errorf("Subject = %q, want %q", got.Subject, "client-1")
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
}
