package webauthn

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/descope/virtualwebauthn"
	"github.com/go-webauthn/webauthn/protocol"

	apperrors "github.com/ferrogym/ferrogym/internal/platform/errors"
	"github.com/ferrogym/ferrogym/internal/services/auth/principal"
	"github.com/ferrogym/ferrogym/internal/services/auth/storage"
	"github.com/ferrogym/ferrogym/internal/services/auth/storage/sqlite"
)

func testEngineConfig() Config {
	return Config{
		RPDisplayName: "FerroGym Test",
		RPID:          "gym.example",
		RPOrigins:     []string{"https://gym.example"},
	}.withDefaults()
}

func newTestEngine(t *testing.T, clock func() time.Time) (*Engine, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	engine, err := NewEngine(testEngineConfig(), store)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine.WithClock(clock), store
}

func testRelyingParty() virtualwebauthn.RelyingParty {
	cfg := testEngineConfig()
	return virtualwebauthn.RelyingParty{
		Name:   cfg.RPDisplayName,
		ID:     cfg.RPID,
		Origin: cfg.RPOrigins[0],
	}
}

// attest runs the authenticator side of a registration ceremony.
func attest(t *testing.T, rp virtualwebauthn.RelyingParty, authenticator virtualwebauthn.Authenticator, credential virtualwebauthn.Credential, optionsJSON []byte) []byte {
	t.Helper()
	var creation protocol.CredentialCreation
	if err := json.Unmarshal(optionsJSON, &creation); err != nil {
		t.Fatalf("decode creation options: %v", err)
	}
	inner, err := json.Marshal(creation.Response)
	if err != nil {
		t.Fatalf("encode creation options: %v", err)
	}
	parsed, err := virtualwebauthn.ParseAttestationOptions(string(inner))
	if err != nil {
		t.Fatalf("parse attestation options: %v", err)
	}
	return []byte(virtualwebauthn.CreateAttestationResponse(rp, authenticator, credential, *parsed))
}

// assert runs the authenticator side of a login ceremony.
func assert(t *testing.T, rp virtualwebauthn.RelyingParty, authenticator virtualwebauthn.Authenticator, credential virtualwebauthn.Credential, optionsJSON []byte) []byte {
	t.Helper()
	var assertion protocol.CredentialAssertion
	if err := json.Unmarshal(optionsJSON, &assertion); err != nil {
		t.Fatalf("decode assertion options: %v", err)
	}
	inner, err := json.Marshal(assertion.Response)
	if err != nil {
		t.Fatalf("encode assertion options: %v", err)
	}
	parsed, err := virtualwebauthn.ParseAssertionOptions(string(inner))
	if err != nil {
		t.Fatalf("parse assertion options: %v", err)
	}
	return []byte(virtualwebauthn.CreateAssertionResponse(rp, authenticator, credential, *parsed))
}

func register(t *testing.T, engine *Engine, rp virtualwebauthn.RelyingParty, authenticator virtualwebauthn.Authenticator, credential virtualwebauthn.Credential, email string) principal.Principal {
	t.Helper()
	ctx := context.Background()
	_, optionsJSON, err := engine.BeginRegistration(ctx, principal.CreateInput{Email: email})
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	response := attest(t, rp, authenticator, credential, optionsJSON)
	actor, credentialID, err := engine.FinishRegistration(ctx, email, response)
	if err != nil {
		t.Fatalf("finish registration: %v", err)
	}
	if credentialID == "" {
		t.Fatal("expected a credential id")
	}
	return actor
}

func TestRegistrationCeremony(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	engine, store := newTestEngine(t, func() time.Time { return now })
	ctx := context.Background()

	rp := testRelyingParty()
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	actor, optionsJSON, err := engine.BeginRegistration(ctx, principal.CreateInput{Email: "ada@gym.example", DisplayName: "Ada"})
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	if actor.Active {
		t.Fatal("expected principal to start inactive")
	}

	response := attest(t, rp, authenticator, credential, optionsJSON)
	registered, credentialID, err := engine.FinishRegistration(ctx, "ada@gym.example", response)
	if err != nil {
		t.Fatalf("finish registration: %v", err)
	}
	if !registered.Active {
		t.Fatal("expected principal activated by first credential")
	}

	stored, err := store.GetCredential(ctx, credentialID)
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if stored.PrincipalID != registered.ID {
		t.Fatalf("credential owned by %q, want %q", stored.PrincipalID, registered.ID)
	}

	// Challenge was consumed by the first finish.
	if _, _, err := engine.FinishRegistration(ctx, "ada@gym.example", response); apperrors.GetCode(err) != apperrors.CodeBadChallenge {
		t.Fatalf("expected bad challenge on replay, got %v", err)
	}
}

func TestRegistrationExpiredChallenge(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := now
	engine, _ := newTestEngine(t, func() time.Time { return clock })
	ctx := context.Background()

	rp := testRelyingParty()
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	_, optionsJSON, err := engine.BeginRegistration(ctx, principal.CreateInput{Email: "ada@gym.example"})
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	response := attest(t, rp, authenticator, credential, optionsJSON)

	clock = now.Add(6 * time.Minute)
	if _, _, err := engine.FinishRegistration(ctx, "ada@gym.example", response); apperrors.GetCode(err) != apperrors.CodeChallengeExpired {
		t.Fatalf("expected challenge expired, got %v", err)
	}
}

func TestRegistrationRejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, func() time.Time { return time.Now().UTC() })
	ctx := context.Background()

	evil := testRelyingParty()
	evil.Origin = "https://evil.example"
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	_, optionsJSON, err := engine.BeginRegistration(ctx, principal.CreateInput{Email: "ada@gym.example"})
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	response := attest(t, evil, authenticator, credential, optionsJSON)
	if _, _, err := engine.FinishRegistration(ctx, "ada@gym.example", response); apperrors.GetCode(err) != apperrors.CodeBadOrigin {
		t.Fatalf("expected bad origin, got %v", err)
	}
}

func TestRegistrationExcludesExistingCredentials(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, func() time.Time { return time.Now().UTC() })
	ctx := context.Background()

	rp := testRelyingParty()
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	register(t, engine, rp, authenticator, credential, "ada@gym.example")

	_, optionsJSON, err := engine.BeginRegistration(ctx, principal.CreateInput{Email: "ada@gym.example"})
	if err != nil {
		t.Fatalf("begin second registration: %v", err)
	}
	var creation protocol.CredentialCreation
	if err := json.Unmarshal(optionsJSON, &creation); err != nil {
		t.Fatalf("decode creation options: %v", err)
	}
	if len(creation.Response.CredentialExcludeList) != 1 {
		t.Fatalf("expected one excluded credential, got %d", len(creation.Response.CredentialExcludeList))
	}
}

func TestLoginCeremony(t *testing.T) {
	t.Parallel()

	engine, store := newTestEngine(t, func() time.Time { return time.Now().UTC() })
	ctx := context.Background()

	rp := testRelyingParty()
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	registered := register(t, engine, rp, authenticator, credential, "ada@gym.example")
	authenticator.AddCredential(credential)

	optionsJSON, err := engine.BeginLogin(ctx, "ada@gym.example")
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}
	credential.Counter++
	response := assert(t, rp, authenticator, credential, optionsJSON)

	actor, err := engine.FinishLogin(ctx, response)
	if err != nil {
		t.Fatalf("finish login: %v", err)
	}
	if actor.ID != registered.ID {
		t.Fatalf("logged in as %q, want %q", actor.ID, registered.ID)
	}

	listed, err := store.ListCredentials(ctx, registered.ID)
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one credential, got %d", len(listed))
	}
	if listed[0].Counter != credential.Counter {
		t.Fatalf("stored counter %d, want %d", listed[0].Counter, credential.Counter)
	}
	if listed[0].LastUsedAt == nil {
		t.Fatal("expected last used timestamp after login")
	}
}

func TestDiscoverableLogin(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, func() time.Time { return time.Now().UTC() })
	ctx := context.Background()

	rp := testRelyingParty()
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	registered := register(t, engine, rp, authenticator, credential, "ada@gym.example")

	optionsJSON, err := engine.BeginLogin(ctx, "")
	if err != nil {
		t.Fatalf("begin discoverable login: %v", err)
	}
	var assertion protocol.CredentialAssertion
	if err := json.Unmarshal(optionsJSON, &assertion); err != nil {
		t.Fatalf("decode assertion options: %v", err)
	}
	if len(assertion.Response.AllowedCredentials) != 0 {
		t.Fatalf("expected empty allow list, got %d entries", len(assertion.Response.AllowedCredentials))
	}

	discoverable := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: []byte(registered.ID),
	})
	discoverable.AddCredential(credential)
	credential.Counter++
	response := assert(t, rp, discoverable, credential, optionsJSON)

	actor, err := engine.FinishLogin(ctx, response)
	if err != nil {
		t.Fatalf("finish discoverable login: %v", err)
	}
	if actor.ID != registered.ID {
		t.Fatalf("logged in as %q, want %q", actor.ID, registered.ID)
	}
}

func TestLoginUnknownEmailStillReturnsOptions(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, func() time.Time { return time.Now().UTC() })

	optionsJSON, err := engine.BeginLogin(context.Background(), "nobody@gym.example")
	if err != nil {
		t.Fatalf("begin login for unknown email: %v", err)
	}
	var assertion protocol.CredentialAssertion
	if err := json.Unmarshal(optionsJSON, &assertion); err != nil {
		t.Fatalf("decode assertion options: %v", err)
	}
	if len(assertion.Response.AllowedCredentials) != 0 {
		t.Fatal("unknown email must not leak an allow list")
	}
}

func TestLoginUnknownCredential(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, func() time.Time { return time.Now().UTC() })
	ctx := context.Background()

	rp := testRelyingParty()
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	register(t, engine, rp, authenticator, credential, "ada@gym.example")
	authenticator.AddCredential(credential)

	optionsJSON, err := engine.BeginLogin(ctx, "ada@gym.example")
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}
	// Answer with a credential the server never saw.
	stranger := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	authenticator.AddCredential(stranger)
	response := assert(t, rp, authenticator, stranger, optionsJSON)

	if _, err := engine.FinishLogin(ctx, response); apperrors.GetCode(err) != apperrors.CodeCredentialUnknown {
		t.Fatalf("expected credential unknown, got %v", err)
	}
}

func TestLoginCounterRegressionRevokesCredential(t *testing.T) {
	t.Parallel()

	engine, store := newTestEngine(t, func() time.Time { return time.Now().UTC() })
	ctx := context.Background()

	rp := testRelyingParty()
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	registered := register(t, engine, rp, authenticator, credential, "ada@gym.example")
	authenticator.AddCredential(credential)

	credential.Counter = 10
	optionsJSON, err := engine.BeginLogin(ctx, "ada@gym.example")
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}
	if _, err := engine.FinishLogin(ctx, assert(t, rp, authenticator, credential, optionsJSON)); err != nil {
		t.Fatalf("first login: %v", err)
	}

	// A lower counter means another device holds a copy of the key.
	credential.Counter = 3
	optionsJSON, err = engine.BeginLogin(ctx, "ada@gym.example")
	if err != nil {
		t.Fatalf("begin replayed login: %v", err)
	}
	if _, err := engine.FinishLogin(ctx, assert(t, rp, authenticator, credential, optionsJSON)); apperrors.GetCode(err) != apperrors.CodeCloneDetected {
		t.Fatalf("expected clone detected, got %v", err)
	}

	listed, err := store.ListCredentials(ctx, registered.ID)
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected cloned credential revoked, found %d", len(listed))
	}
	var hasAudit bool
	if record := findAudit(t, store, registered.ID); record != nil {
		hasAudit = record.Kind == "credential_clone_detected"
	}
	if !hasAudit {
		t.Fatal("expected a clone audit record")
	}
}

func TestLoginStalledCounterRevokesCredential(t *testing.T) {
	t.Parallel()

	engine, store := newTestEngine(t, func() time.Time { return time.Now().UTC() })
	ctx := context.Background()

	rp := testRelyingParty()
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	registered := register(t, engine, rp, authenticator, credential, "ada@gym.example")
	authenticator.AddCredential(credential)

	credential.Counter = 7
	optionsJSON, err := engine.BeginLogin(ctx, "ada@gym.example")
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}
	if _, err := engine.FinishLogin(ctx, assert(t, rp, authenticator, credential, optionsJSON)); err != nil {
		t.Fatalf("first login: %v", err)
	}

	// A counter that fails to advance is treated like a regression.
	optionsJSON, err = engine.BeginLogin(ctx, "ada@gym.example")
	if err != nil {
		t.Fatalf("begin repeated login: %v", err)
	}
	if _, err := engine.FinishLogin(ctx, assert(t, rp, authenticator, credential, optionsJSON)); apperrors.GetCode(err) != apperrors.CodeCloneDetected {
		t.Fatalf("expected clone detected, got %v", err)
	}

	listed, err := store.ListCredentials(ctx, registered.ID)
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected stalled credential revoked, found %d", len(listed))
	}
}

func TestBeginRegistrationValidatesEmail(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, func() time.Time { return time.Now().UTC() })

	_, _, err := engine.BeginRegistration(context.Background(), principal.CreateInput{Email: "not-an-email"})
	if !errors.Is(err, principal.ErrInvalidEmail) {
		t.Fatalf("expected invalid email, got %v", err)
	}
}

// findAudit reads the newest audit row for a principal straight from the
// database; the storage interface has no list operation on purpose.
func findAudit(t *testing.T, store *sqlite.Store, principalID string) *storage.AuditRecord {
	t.Helper()
	row := store.DB().QueryRow(`
SELECT id, principal_id, kind, detail FROM security_audit
WHERE principal_id = ? ORDER BY created_at DESC LIMIT 1
`, principalID)
	var record storage.AuditRecord
	if err := row.Scan(&record.ID, &record.PrincipalID, &record.Kind, &record.Detail); err != nil {
		return nil
	}
	return &record
}
