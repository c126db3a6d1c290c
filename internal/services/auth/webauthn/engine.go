package webauthn

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/ferrogym/ferrogym/internal/platform/errors"
	"github.com/ferrogym/ferrogym/internal/platform/id"
	"github.com/ferrogym/ferrogym/internal/services/auth/principal"
	"github.com/ferrogym/ferrogym/internal/services/auth/storage"
)

// Engine runs passkey registration and login ceremonies against the auth
// store. Challenges are single-use rows; go-webauthn session data rides along
// with the challenge so a finish call needs no other server state.
type Engine struct {
	cfg   Config
	web   *webauthn.WebAuthn
	store storage.AuthStore
	clock func() time.Time
	newID func() (string, error)
}

// NewEngine builds a ceremony engine from relying party configuration.
func NewEngine(cfg Config, store storage.AuthStore) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("auth store is required")
	}
	cfg = cfg.withDefaults()
	web, err := cfg.provider()
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return &Engine{
		cfg:   cfg,
		web:   web,
		store: store,
		clock: func() time.Time { return time.Now().UTC() },
		newID: id.NewID,
	}, nil
}

// WithClock overrides the engine clock.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	if clock != nil {
		e.clock = clock
	}
	return e
}

// ceremonyUser adapts a principal and its stored credentials to the
// webauthn.User interface.
type ceremonyUser struct {
	principal   principal.Principal
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.principal.ID)
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.principal.Email
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.principal.DisplayName
}

func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// BeginRegistration starts a registration ceremony for an email. Unknown
// emails get a new inactive principal; activation happens when the first
// credential verifies.
func (e *Engine) BeginRegistration(ctx context.Context, input principal.CreateInput) (principal.Principal, json.RawMessage, error) {
	if e == nil || e.store == nil {
		return principal.Principal{}, nil, errors.New("ceremony engine is not configured")
	}
	normalized, err := principal.NormalizeCreateInput(input)
	if err != nil {
		return principal.Principal{}, nil, err
	}

	actor, err := e.lookupOrCreatePrincipal(ctx, normalized)
	if err != nil {
		return principal.Principal{}, nil, err
	}
	user, err := e.loadCeremonyUser(ctx, actor)
	if err != nil {
		return principal.Principal{}, nil, err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithCredentialParameters(e.cfg.credentialParameters()),
		webauthn.WithConveyancePreference(e.cfg.Attestation),
	}
	if len(user.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(user.credentials).CredentialDescriptors()))
	}

	creation, session, err := e.web.BeginRegistration(user, options...)
	if err != nil {
		return principal.Principal{}, nil, fmt.Errorf("begin registration: %w", err)
	}
	if err := e.storeChallenge(ctx, storage.PurposeRegistration, actor.ID, session); err != nil {
		return principal.Principal{}, nil, err
	}

	optionsJSON, err := json.Marshal(creation)
	if err != nil {
		return principal.Principal{}, nil, fmt.Errorf("encode registration options: %w", err)
	}
	return actor, optionsJSON, nil
}

// FinishRegistration verifies an attestation response and persists the new
// credential. The first verified credential activates the principal.
func (e *Engine) FinishRegistration(ctx context.Context, email string, responseJSON []byte) (principal.Principal, string, error) {
	if e == nil || e.store == nil {
		return principal.Principal{}, "", errors.New("ceremony engine is not configured")
	}
	if len(responseJSON) == 0 {
		return principal.Principal{}, "", apperrors.New(apperrors.CodeBadChallenge, "credential response is required")
	}

	record, err := e.store.GetPrincipalByEmail(ctx, principal.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return principal.Principal{}, "", apperrors.New(apperrors.CodeBadChallenge, "no registration in progress for this email")
		}
		return principal.Principal{}, "", fmt.Errorf("get principal: %w", err)
	}
	actor := principalFromRecord(record)

	parsed, err := protocol.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return principal.Principal{}, "", apperrors.Wrap(apperrors.CodeAttestationInvalid, "parse credential response", err)
	}

	session, err := e.takeSession(ctx, actor.ID, storage.PurposeRegistration, parsed.Response.CollectedClientData.Challenge)
	if err != nil {
		return principal.Principal{}, "", err
	}

	authData := parsed.Response.AttestationObject.AuthData
	if err := e.checkCeremony(parsed.Response.CollectedClientData.Origin, authData.RPIDHash, authData.Flags); err != nil {
		return principal.Principal{}, "", err
	}
	if err := e.checkAlgorithm(authData.AttData.CredentialPublicKey); err != nil {
		return principal.Principal{}, "", err
	}

	user, err := e.loadCeremonyUser(ctx, actor)
	if err != nil {
		return principal.Principal{}, "", err
	}
	credential, err := e.web.CreateCredential(user, session, parsed)
	if err != nil {
		return principal.Principal{}, "", apperrors.Wrap(apperrors.CodeAttestationInvalid, "verify attestation", err)
	}

	credentialID, err := e.persistNewCredential(ctx, actor.ID, *credential)
	if err != nil {
		return principal.Principal{}, "", err
	}

	if !actor.Active {
		if err := e.store.SetPrincipalActive(ctx, actor.ID, true); err != nil {
			return principal.Principal{}, "", fmt.Errorf("activate principal: %w", err)
		}
		actor.Active = true
	}
	return actor, credentialID, nil
}

// BeginLogin starts an assertion ceremony. With an email the options carry
// the principal's credential allow list; without one the ceremony is
// discoverable. Unknown emails fall back to discoverable options so the
// endpoint never reveals which emails exist.
func (e *Engine) BeginLogin(ctx context.Context, email string) (json.RawMessage, error) {
	if e == nil || e.store == nil {
		return nil, errors.New("ceremony engine is not configured")
	}

	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
		hint      string
	)

	normalized := principal.NormalizeEmail(email)
	if normalized != "" {
		record, err := e.store.GetPrincipalByEmail(ctx, normalized)
		if err == nil && record.Active {
			user, loadErr := e.loadCeremonyUser(ctx, principalFromRecord(record))
			if loadErr != nil {
				return nil, loadErr
			}
			if len(user.credentials) > 0 {
				assertion, session, err = e.web.BeginLogin(user)
				if err != nil {
					return nil, fmt.Errorf("begin login: %w", err)
				}
				hint = record.ID
			}
		} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("get principal: %w", err)
		}
	}
	if assertion == nil {
		var err error
		assertion, session, err = e.web.BeginDiscoverableLogin()
		if err != nil {
			return nil, fmt.Errorf("begin discoverable login: %w", err)
		}
	}

	if err := e.storeChallenge(ctx, storage.PurposeAssertion, hint, session); err != nil {
		return nil, err
	}
	optionsJSON, err := json.Marshal(assertion)
	if err != nil {
		return nil, fmt.Errorf("encode login options: %w", err)
	}
	return optionsJSON, nil
}

// FinishLogin verifies an assertion response and returns the owning
// principal. A signature counter that went backward, or a library clone
// warning, revokes the credential.
func (e *Engine) FinishLogin(ctx context.Context, responseJSON []byte) (principal.Principal, error) {
	if e == nil || e.store == nil {
		return principal.Principal{}, errors.New("ceremony engine is not configured")
	}
	if len(responseJSON) == 0 {
		return principal.Principal{}, apperrors.New(apperrors.CodeBadChallenge, "credential response is required")
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return principal.Principal{}, apperrors.Wrap(apperrors.CodeSignatureInvalid, "parse credential response", err)
	}

	credentialID := encodeCredentialID(parsed.RawID)
	stored, err := e.store.GetCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return principal.Principal{}, apperrors.New(apperrors.CodeCredentialUnknown, "credential is not registered")
		}
		return principal.Principal{}, fmt.Errorf("get credential: %w", err)
	}

	record, err := e.store.GetPrincipal(ctx, stored.PrincipalID)
	if err != nil {
		return principal.Principal{}, fmt.Errorf("get principal: %w", err)
	}
	actor := principalFromRecord(record)
	if !actor.Active {
		return principal.Principal{}, apperrors.New(apperrors.CodePrincipalInactive, "principal is deactivated")
	}

	session, err := e.takeLoginSession(ctx, actor.ID, parsed.Response.CollectedClientData.Challenge)
	if err != nil {
		return principal.Principal{}, err
	}

	authData := parsed.Response.AuthenticatorData
	if err := e.checkCeremony(parsed.Response.CollectedClientData.Origin, authData.RPIDHash, authData.Flags); err != nil {
		return principal.Principal{}, err
	}

	credential, err := e.validateAssertion(ctx, actor, session, parsed)
	if err != nil {
		return principal.Principal{}, apperrors.Wrap(apperrors.CodeSignatureInvalid, "verify assertion", err)
	}
	// CloneWarning fires when a nonzero counter fails to advance, so an
	// equal re-send revokes just like a regression.
	if credential.Authenticator.CloneWarning {
		return principal.Principal{}, e.cloneDetected(ctx, actor.ID, credentialID, "authenticator clone warning")
	}

	now := e.clock().UTC()
	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return principal.Principal{}, fmt.Errorf("encode credential: %w", err)
	}
	if err := e.store.UpdateCredentialCounter(ctx, credentialID, credential.Authenticator.SignCount, string(credentialJSON)); err != nil {
		if errors.Is(err, storage.ErrCounterRegression) {
			return principal.Principal{}, e.cloneDetected(ctx, actor.ID, credentialID, "signature counter went backward")
		}
		return principal.Principal{}, fmt.Errorf("update credential counter: %w", err)
	}
	if err := e.store.TouchCredentialUsed(ctx, credentialID, now); err != nil {
		return principal.Principal{}, fmt.Errorf("touch credential: %w", err)
	}
	return actor, nil
}

// validateAssertion picks the validation path matching how the ceremony
// began. Discoverable sessions carry no user id.
func (e *Engine) validateAssertion(ctx context.Context, actor principal.Principal, session webauthn.SessionData, parsed *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	if len(session.UserID) == 0 {
		handler := func(_, userHandle []byte) (webauthn.User, error) {
			principalID := strings.TrimSpace(string(userHandle))
			if principalID == "" {
				principalID = actor.ID
			}
			record, err := e.store.GetPrincipal(ctx, principalID)
			if err != nil {
				return nil, err
			}
			return e.loadCeremonyUser(ctx, principalFromRecord(record))
		}
		_, credential, err := e.web.ValidatePasskeyLogin(handler, session, parsed)
		return credential, err
	}

	user, err := e.loadCeremonyUser(ctx, actor)
	if err != nil {
		return nil, err
	}
	return e.web.ValidateLogin(user, session, parsed)
}

// checkCeremony enforces origin, rpId, and flag requirements shared by both
// ceremonies so failures map to precise codes instead of one opaque error.
func (e *Engine) checkCeremony(origin string, rpIDHash []byte, flags protocol.AuthenticatorFlags) error {
	if !e.cfg.allowsOrigin(origin) {
		return apperrors.WithMetadata(apperrors.CodeBadOrigin, "origin is not allowed", map[string]string{"origin": origin})
	}
	expected := sha256.Sum256([]byte(e.cfg.RPID))
	if subtle.ConstantTimeCompare(expected[:], rpIDHash) != 1 {
		return apperrors.New(apperrors.CodeRPIDMismatch, "rpId hash does not match")
	}
	if !flags.HasUserPresent() {
		return apperrors.New(apperrors.CodeUserVerificationRequired, "user presence flag is not set")
	}
	if e.cfg.UserVerification == protocol.VerificationRequired && !flags.HasUserVerified() {
		return apperrors.New(apperrors.CodeUserVerificationRequired, "user verification is required")
	}
	return nil
}

// checkAlgorithm rejects credentials negotiated outside the configured COSE
// algorithm list.
func (e *Engine) checkAlgorithm(credentialPublicKey []byte) error {
	key, err := webauthncose.ParsePublicKey(credentialPublicKey)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeAttestationInvalid, "parse credential public key", err)
	}
	var alg int64
	switch k := key.(type) {
	case webauthncose.EC2PublicKeyData:
		alg = k.Algorithm
	case webauthncose.RSAPublicKeyData:
		alg = k.Algorithm
	case webauthncose.OKPPublicKeyData:
		alg = k.Algorithm
	default:
		return apperrors.New(apperrors.CodeUnsupportedAlgorithm, "unknown credential key type")
	}
	if !e.cfg.allowsAlgorithm(webauthncose.COSEAlgorithmIdentifier(alg)) {
		return apperrors.WithMetadata(apperrors.CodeUnsupportedAlgorithm, "credential algorithm is not allowed", map[string]string{"alg": fmt.Sprintf("%d", alg)})
	}
	return nil
}

func (e *Engine) lookupOrCreatePrincipal(ctx context.Context, input principal.CreateInput) (principal.Principal, error) {
	record, err := e.store.GetPrincipalByEmail(ctx, input.Email)
	if err == nil {
		return principalFromRecord(record), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return principal.Principal{}, fmt.Errorf("get principal: %w", err)
	}

	actor, err := principal.Create(input, e.clock, e.newID)
	if err != nil {
		return principal.Principal{}, err
	}
	if err := e.store.PutPrincipal(ctx, recordFromPrincipal(actor)); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost a create race; the winner's row is authoritative.
			record, getErr := e.store.GetPrincipalByEmail(ctx, input.Email)
			if getErr != nil {
				return principal.Principal{}, fmt.Errorf("get principal after conflict: %w", getErr)
			}
			return principalFromRecord(record), nil
		}
		return principal.Principal{}, fmt.Errorf("put principal: %w", err)
	}
	return actor, nil
}

func (e *Engine) loadCeremonyUser(ctx context.Context, actor principal.Principal) (*ceremonyUser, error) {
	records, err := e.store.ListCredentials(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(record.CredentialJSON), &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return &ceremonyUser{principal: actor, credentials: credentials}, nil
}

func (e *Engine) storeChallenge(ctx context.Context, purpose, principalHint string, session *webauthn.SessionData) error {
	if session == nil {
		return errors.New("session data is required")
	}
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session data: %w", err)
	}
	now := e.clock().UTC()
	record := storage.ChallengeRecord{
		Challenge:     session.Challenge,
		Purpose:       purpose,
		PrincipalHint: principalHint,
		SessionJSON:   string(sessionJSON),
		IssuedAt:      now,
		ExpiresAt:     now.Add(e.cfg.ChallengeTTL),
	}
	if err := e.store.PutChallenge(ctx, record); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	return nil
}

// takeSession consumes a challenge row and decodes its ceremony session. The
// take is unconditional so an expired nonce still burns; expiry is reported
// separately from an unknown nonce.
func (e *Engine) takeSession(ctx context.Context, principalHint, purpose, challenge string) (webauthn.SessionData, error) {
	record, err := e.store.TakeChallenge(ctx, principalHint, purpose, challenge, time.Time{})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return webauthn.SessionData{}, apperrors.New(apperrors.CodeBadChallenge, "challenge is unknown or already used")
		}
		return webauthn.SessionData{}, fmt.Errorf("take challenge: %w", err)
	}
	if !record.ExpiresAt.After(e.clock().UTC()) {
		return webauthn.SessionData{}, apperrors.New(apperrors.CodeChallengeExpired, "challenge is expired")
	}
	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(record.SessionJSON), &session); err != nil {
		return webauthn.SessionData{}, fmt.Errorf("decode session data: %w", err)
	}
	return session, nil
}

// takeLoginSession tries the principal-scoped row first, then the
// discoverable row stored without a hint.
func (e *Engine) takeLoginSession(ctx context.Context, principalID, challenge string) (webauthn.SessionData, error) {
	session, err := e.takeSession(ctx, principalID, storage.PurposeAssertion, challenge)
	if err == nil || apperrors.GetCode(err) != apperrors.CodeBadChallenge {
		return session, err
	}
	return e.takeSession(ctx, "", storage.PurposeAssertion, challenge)
}

func (e *Engine) persistNewCredential(ctx context.Context, principalID string, credential webauthn.Credential) (string, error) {
	credentialID := encodeCredentialID(credential.ID)
	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return "", fmt.Errorf("encode credential: %w", err)
	}
	transports := make([]string, 0, len(credential.Transport))
	for _, transport := range credential.Transport {
		transports = append(transports, string(transport))
	}
	record := storage.CredentialRecord{
		CredentialID:   credentialID,
		PrincipalID:    principalID,
		CredentialJSON: string(credentialJSON),
		Counter:        credential.Authenticator.SignCount,
		Transports:     transports,
		CreatedAt:      e.clock().UTC(),
	}
	if err := e.store.PutCredential(ctx, record); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return "", apperrors.New(apperrors.CodeCredentialExists, "credential id is already registered")
		}
		return "", fmt.Errorf("store credential: %w", err)
	}
	return credentialID, nil
}

// cloneDetected revokes the credential and records the event. Failing to
// revoke is worse than failing the login, so revoke errors surface first.
func (e *Engine) cloneDetected(ctx context.Context, principalID, credentialID, detail string) error {
	if err := e.store.RevokeCredential(ctx, credentialID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("revoke cloned credential: %w", err)
	}
	auditID, err := e.newID()
	if err == nil {
		_ = e.store.PutAuditRecord(ctx, storage.AuditRecord{
			ID:          auditID,
			PrincipalID: principalID,
			Kind:        "credential_clone_detected",
			Detail:      fmt.Sprintf("credential %s: %s", credentialID, detail),
			CreatedAt:   e.clock().UTC(),
		})
	}
	return apperrors.New(apperrors.CodeCloneDetected, "credential appears to be cloned")
}

func principalFromRecord(record storage.PrincipalRecord) principal.Principal {
	return principal.Principal{
		ID:          record.ID,
		Email:       record.Email,
		DisplayName: record.DisplayName,
		Role:        principal.Role(record.Role),
		Active:      record.Active,
		CreatedAt:   record.CreatedAt,
	}
}

func recordFromPrincipal(actor principal.Principal) storage.PrincipalRecord {
	return storage.PrincipalRecord{
		ID:          actor.ID,
		Email:       actor.Email,
		DisplayName: actor.DisplayName,
		Role:        string(actor.Role),
		Active:      actor.Active,
		CreatedAt:   actor.CreatedAt,
	}
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
