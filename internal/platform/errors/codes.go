// Package errors provides structured error handling with machine-readable codes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Authentication errors
	CodeAuthRequired Code = "AUTH_REQUIRED"
	CodeInvalidToken Code = "INVALID_TOKEN"
	CodeTokenExpired Code = "TOKEN_EXPIRED"
	CodeTokenRevoked Code = "TOKEN_REVOKED"

	// WebAuthn ceremony errors
	CodeBadChallenge             Code = "BAD_CHALLENGE"
	CodeChallengeExpired         Code = "CHALLENGE_EXPIRED"
	CodeBadOrigin                Code = "BAD_ORIGIN"
	CodeRPIDMismatch             Code = "RP_ID_MISMATCH"
	CodeUserVerificationRequired Code = "USER_VERIFICATION_REQUIRED"
	CodeUnsupportedAlgorithm     Code = "UNSUPPORTED_ALGORITHM"
	CodeAttestationInvalid       Code = "ATTESTATION_INVALID"
	CodeSignatureInvalid         Code = "SIGNATURE_INVALID"
	CodeCloneDetected            Code = "CLONE_DETECTED"
	CodeCredentialExists         Code = "CREDENTIAL_EXISTS"
	CodeCredentialUnknown        Code = "CREDENTIAL_UNKNOWN"

	// Authorization errors
	CodePolicyDenied Code = "POLICY_DENIED"

	// Principal errors
	CodePrincipalEmailEmpty   Code = "PRINCIPAL_EMAIL_EMPTY"
	CodePrincipalEmailInvalid Code = "PRINCIPAL_EMAIL_INVALID"
	CodePrincipalInvalidRole  Code = "PRINCIPAL_INVALID_ROLE"
	CodePrincipalInactive     Code = "PRINCIPAL_INACTIVE"

	// Storage errors
	CodeNotFound    Code = "NOT_FOUND"
	CodeConflict    Code = "CONFLICT"
	CodeStorageBusy Code = "STORAGE_BUSY"
)

// HTTPStatus maps an error code to the HTTP status surfaced to clients.
// Ceremony failures are client errors, auth failures are 401, and storage
// contention is 503 once retries are exhausted.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeAuthRequired, CodeInvalidToken, CodeTokenExpired, CodeTokenRevoked:
		return http.StatusUnauthorized
	case CodeBadChallenge, CodeChallengeExpired, CodeBadOrigin, CodeRPIDMismatch,
		CodeUserVerificationRequired, CodeUnsupportedAlgorithm, CodeAttestationInvalid,
		CodeSignatureInvalid, CodeCloneDetected, CodeCredentialExists:
		return http.StatusBadRequest
	case CodePrincipalEmailEmpty, CodePrincipalEmailInvalid, CodePrincipalInvalidRole:
		return http.StatusBadRequest
	case CodePrincipalInactive:
		return http.StatusForbidden
	case CodeCredentialUnknown, CodeNotFound:
		return http.StatusNotFound
	case CodePolicyDenied:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeStorageBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
