package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/model"
)

const validUUID = "3f2c1b0a-9d8e-4f7a-b6c5-d4e3f2a1b0c9"

// --- ParseRecord ---

func TestParseRecordValid(t *testing.T) {
	data := []byte(`
agent_id: ` + validUUID + `
name: doc-writer
role: developer
capability_tags: [docs, markdown]
`)
	id, err := ParseRecord(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.AgentID != validUUID || id.Name != "doc-writer" || id.Role != model.RoleDeveloper {
		t.Errorf("unexpected record: %+v", id)
	}
	if len(id.CapabilityTags) != 2 {
		t.Errorf("expected 2 capability tags, got %d", len(id.CapabilityTags))
	}
}

func TestParseRecordAbsentIsNoIdentity(t *testing.T) {
	for _, data := range []string{"", "   \n", "{}"} {
		_, err := ParseRecord([]byte(data))
		if !errors.Is(err, ErrNoIdentity) {
			t.Errorf("ParseRecord(%q) = %v, want ErrNoIdentity", data, err)
		}
	}
}

func TestParseRecordMalformedAgentIDIsHardRejection(t *testing.T) {
	data := []byte("agent_id: not-a-uuid\nname: x\nrole: developer\n")
	_, err := ParseRecord(data)
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestParseRecordMissingAgentIDTolerated(t *testing.T) {
	id, err := ParseRecord([]byte("name: helper\nrole: analyst\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.AgentID != "" {
		t.Errorf("expected empty agent_id, got %q", id.AgentID)
	}
}

// --- Validate ---

func TestValidateUnknownRoleIsWarningOnly(t *testing.T) {
	id := &AgentIdentity{Name: "x", Role: "wizard"}
	r := Validate(id)
	if !r.Valid {
		t.Fatalf("expected valid with warnings, got errors: %v", r.Errors)
	}
	found := false
	for _, w := range r.Warnings {
		if strings.Contains(w, "wizard") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a warning naming the unknown role, got %v", r.Warnings)
	}
}

func TestValidateMissingNameIsError(t *testing.T) {
	r := Validate(&AgentIdentity{Role: model.RoleTester})
	if r.Valid {
		t.Error("expected invalid report for missing name")
	}
}

func TestValidateMissingTagsIsWarning(t *testing.T) {
	r := Validate(&AgentIdentity{Name: "x", Role: model.RoleTester})
	if !r.Valid {
		t.Fatal("expected valid")
	}
	if len(r.Warnings) == 0 {
		t.Error("expected warnings for missing optional fields")
	}
}

// --- Tokens ---

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner([]byte("test-secret-0123456789"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestTokenRoundTrip(t *testing.T) {
	s := newTestSigner(t)
	id := &AgentIdentity{AgentID: validUUID, Name: "doc-writer", Role: model.RoleDeveloper}

	tok, err := s.IssueToken(id, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := s.VerifyToken(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.AgentID != validUUID || claims.Name != "doc-writer" || claims.Role != model.RoleDeveloper {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		t.Error("expected iat and exp to be set")
	}
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	s := newTestSigner(t)
	id := &AgentIdentity{Name: "x", Role: model.RoleTester}

	tok, err := s.IssueToken(id, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := s.VerifyToken(tok); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestVerifyTokenRejectsBadSignature(t *testing.T) {
	s := newTestSigner(t)
	other, _ := NewSigner([]byte("a-different-secret"))
	tok, err := other.IssueToken(&AgentIdentity{Name: "x", Role: model.RoleTester}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.VerifyToken(tok); err == nil {
		t.Error("expected token signed with another secret to be rejected")
	}
}

func TestVerifyTokenRejectsMalformed(t *testing.T) {
	s := newTestSigner(t)
	for _, tok := range []string{"", "garbage", "a.b.c"} {
		if _, err := s.VerifyToken(tok); err == nil {
			t.Errorf("expected malformed token %q to be rejected", tok)
		}
	}
}

func TestIssueTokenRejectsNonPositiveTTL(t *testing.T) {
	s := newTestSigner(t)
	if _, err := s.IssueToken(&AgentIdentity{Name: "x"}, 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}

// --- Resolver ---

func writeRecord(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestResolveFromSource(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "doc-writer", "agent_id: "+validUUID+"\nname: doc-writer\nrole: developer\n")

	r, err := NewResolver(NewDirSource(dir), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	id, err := r.Resolve(context.Background(), "doc-writer")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.Role != model.RoleDeveloper {
		t.Errorf("expected developer role, got %q", id.Role)
	}
}

func TestResolveEmptyNameIsSystemCaller(t *testing.T) {
	r, err := NewResolver(NewDirSource(t.TempDir()), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	id, err := r.Resolve(context.Background(), "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.Name != SystemAgentName {
		t.Errorf("expected system identity, got %q", id.Name)
	}
	if id.AgentID != "" {
		t.Errorf("system identity must not carry an agent_id, got %q", id.AgentID)
	}
}

func TestResolveMissingRecord(t *testing.T) {
	r, err := NewResolver(NewDirSource(t.TempDir()), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Resolve(context.Background(), "ghost"); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("expected ErrNoIdentity, got %v", err)
	}
}

func TestResolveCacheHitAfterColdLoad(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "cached", "name: cached\nrole: tester\n")

	r, err := NewResolver(NewDirSource(dir), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Resolve(context.Background(), "cached"); err != nil {
		t.Fatal(err)
	}
	r.cache.Wait()

	// Remove the backing file; a cache hit must not touch the source.
	os.Remove(filepath.Join(dir, "cached.yaml"))

	start := time.Now()
	id, err := r.Resolve(context.Background(), "cached")
	if err != nil {
		t.Fatalf("expected cache hit, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		t.Errorf("cache hit took %v, expected < 1ms", elapsed)
	}
	if id.Name != "cached" {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "agent-a", "name: agent-a\nrole: tester\n")

	r, err := NewResolver(NewDirSource(dir), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Resolve(context.Background(), "agent-a"); err != nil {
		t.Fatal(err)
	}
	r.cache.Wait()

	writeRecord(t, dir, "agent-a", "name: agent-a\nrole: reviewer\n")
	r.Invalidate("agent-a")
	r.cache.Wait()

	id, err := r.Resolve(context.Background(), "agent-a")
	if err != nil {
		t.Fatal(err)
	}
	if id.Role != model.RoleReviewer {
		t.Errorf("expected reloaded role reviewer, got %q", id.Role)
	}
}

func TestDirSourceRejectsTraversal(t *testing.T) {
	src := NewDirSource(t.TempDir())
	for _, name := range []string{"../etc/passwd", "a/../../b", "bad name"} {
		if _, err := src.Load(context.Background(), name); err == nil {
			t.Errorf("expected traversal name %q to be rejected", name)
		}
	}
}
