package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrUnavailable marks a lease request the broker cannot satisfy. The engine
// treats it as a stage failure, never a silent skip.
var ErrUnavailable = errors.New("credential unavailable")

// Credential is a short-lived, scoped lease. It is handed to exactly one
// stage invocation and never persisted in run state.
type Credential struct {
	LeaseID   string
	Scope     string
	Env       map[string]string
	ExpiresAt time.Time
}

// Broker supplies scoped short-lived credentials to stages.
type Broker interface {
	// Lease issues an independent lease for the scope; concurrent callers
	// for the same scope each get their own.
	Lease(ctx context.Context, scope string, ttl time.Duration) (*Credential, error)
	// Revoke invalidates a lease. Revoking an unknown lease is a no-op.
	Revoke(leaseID string)
	// Valid reports whether a lease is still live (issued, unexpired,
	// unrevoked).
	Valid(leaseID string) bool
}

// FileBroker issues leases from a static secrets map loaded from YAML
// and/or the process environment.
type FileBroker struct {
	mu     sync.Mutex
	scopes map[string]map[string]string
	leases map[string]*Credential
	now    func() time.Time
}

// NewFileBroker creates a broker over the given scope → key/value secrets.
func NewFileBroker(scopes map[string]map[string]string) *FileBroker {
	if scopes == nil {
		scopes = make(map[string]map[string]string)
	}
	return &FileBroker{
		scopes: scopes,
		leases: make(map[string]*Credential),
		now:    time.Now,
	}
}

// SetClock overrides the broker's clock (for testing expiry).
func (b *FileBroker) SetClock(now func() time.Time) {
	b.now = now
}

// LoadSecrets parses a secrets YAML file of the form:
//
//	registry:
//	  username: ci-bot
//	  password: hunter2
//	cluster:
//	  token: abc123
func LoadSecrets(data []byte) (map[string]map[string]string, error) {
	var scopes map[string]map[string]string
	if err := yaml.Unmarshal(data, &scopes); err != nil {
		return nil, fmt.Errorf("parsing secrets YAML: %w", err)
	}
	return scopes, nil
}

// MergeEnvSecrets overlays secrets from environment variables of the form
// <prefix>_<SCOPE>_<KEY>=value onto scopes. Environment wins over file.
func MergeEnvSecrets(scopes map[string]map[string]string, prefix string, environ []string) map[string]map[string]string {
	if scopes == nil {
		scopes = make(map[string]map[string]string)
	}
	prefix = prefix + "_"
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		scope, secretKey, ok := strings.Cut(rest, "_")
		if !ok || scope == "" || secretKey == "" {
			continue
		}
		scope = strings.ToLower(scope)
		secretKey = strings.ToLower(secretKey)
		if scopes[scope] == nil {
			scopes[scope] = make(map[string]string)
		}
		scopes[scope][secretKey] = value
	}
	return scopes
}

// Lease issues a new lease for the scope, exposing each secret key as an
// environment variable LOCKSTEP_CRED_<KEY>.
func (b *FileBroker) Lease(ctx context.Context, scope string, ttl time.Duration) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	secrets, ok := b.scopes[scope]
	if !ok {
		return nil, fmt.Errorf("%w: scope %q not configured", ErrUnavailable, scope)
	}

	env := make(map[string]string, len(secrets))
	for key, value := range secrets {
		env["LOCKSTEP_CRED_"+strings.ToUpper(key)] = value
	}

	cred := &Credential{
		LeaseID:   uuid.NewString(),
		Scope:     scope,
		Env:       env,
		ExpiresAt: b.now().Add(ttl),
	}
	b.leases[cred.LeaseID] = cred
	return cred, nil
}

// Revoke invalidates a lease.
func (b *FileBroker) Revoke(leaseID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.leases, leaseID)
}

// Valid reports whether a lease is live.
func (b *FileBroker) Valid(leaseID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	cred, ok := b.leases[leaseID]
	if !ok {
		return false
	}
	return b.now().Before(cred.ExpiresAt)
}
