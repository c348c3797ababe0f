package credential

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testScopes() map[string]map[string]string {
	return map[string]map[string]string{
		"registry": {"username": "ci-bot", "password": "hunter2"},
		"cluster":  {"token": "abc123"},
	}
}

func TestLease_ExposesScopedEnv(t *testing.T) {
	broker := NewFileBroker(testScopes())

	cred, err := broker.Lease(context.Background(), "registry", time.Minute)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if cred.Scope != "registry" {
		t.Errorf("expected scope=registry, got %q", cred.Scope)
	}
	if cred.Env["LOCKSTEP_CRED_USERNAME"] != "ci-bot" {
		t.Errorf("expected username env, got %v", cred.Env)
	}
	if cred.Env["LOCKSTEP_CRED_PASSWORD"] != "hunter2" {
		t.Errorf("expected password env, got %v", cred.Env)
	}
	if !broker.Valid(cred.LeaseID) {
		t.Error("fresh lease must be valid")
	}
}

func TestLease_UnknownScope(t *testing.T) {
	broker := NewFileBroker(testScopes())

	_, err := broker.Lease(context.Background(), "vault", time.Minute)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestLease_IndependentLeasesPerCaller(t *testing.T) {
	broker := NewFileBroker(testScopes())

	first, err := broker.Lease(context.Background(), "registry", time.Minute)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	second, err := broker.Lease(context.Background(), "registry", time.Minute)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if first.LeaseID == second.LeaseID {
		t.Error("concurrent requesters must receive independent leases")
	}

	broker.Revoke(first.LeaseID)
	if broker.Valid(first.LeaseID) {
		t.Error("revoked lease must be invalid")
	}
	if !broker.Valid(second.LeaseID) {
		t.Error("revoking one lease must not affect another")
	}
}

func TestLease_Expiry(t *testing.T) {
	broker := NewFileBroker(testScopes())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	broker.SetClock(func() time.Time { return current })

	cred, err := broker.Lease(context.Background(), "cluster", 30*time.Second)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if !broker.Valid(cred.LeaseID) {
		t.Error("lease must be valid before expiry")
	}

	current = base.Add(time.Minute)
	if broker.Valid(cred.LeaseID) {
		t.Error("lease must be invalid after expiry")
	}
}

func TestLease_CanceledContext(t *testing.T) {
	broker := NewFileBroker(testScopes())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := broker.Lease(ctx, "registry", time.Minute)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on canceled context, got %v", err)
	}
}

func TestLoadSecrets(t *testing.T) {
	scopes, err := LoadSecrets([]byte("registry:\n  username: ci-bot\n  password: hunter2\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if scopes["registry"]["username"] != "ci-bot" {
		t.Errorf("unexpected scopes %v", scopes)
	}
}

func TestMergeEnvSecrets(t *testing.T) {
	scopes := MergeEnvSecrets(
		map[string]map[string]string{"registry": {"username": "from-file"}},
		"LOCKSTEP_SECRET",
		[]string{
			"LOCKSTEP_SECRET_REGISTRY_USERNAME=from-env",
			"LOCKSTEP_SECRET_CLUSTER_TOKEN=tok",
			"UNRELATED=x",
			"LOCKSTEP_SECRET_MALFORMED=y",
		},
	)

	if scopes["registry"]["username"] != "from-env" {
		t.Errorf("environment must win over file, got %q", scopes["registry"]["username"])
	}
	if scopes["cluster"]["token"] != "tok" {
		t.Errorf("expected cluster token from env, got %v", scopes["cluster"])
	}
	if _, ok := scopes["malformed"]; ok {
		t.Error("malformed env entries must be ignored")
	}
}
