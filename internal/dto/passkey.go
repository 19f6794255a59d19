package dto

// Binary WebAuthn fields cross the wire base64url-encoded without padding,
// matching what browsers produce from ArrayBuffers.

type PasskeyChallengeResponse struct {
	ChallengeID string `json:"challengeId"`
	Challenge   string `json:"challenge"`
	RPID        string `json:"rpId"`
	ExpiresAt   string `json:"expiresAt"`
}

type PasskeyRegisterRequest struct {
	ChallengeID       string `json:"challengeId"`
	ClientDataJSON    string `json:"clientDataJson"`
	AttestationObject string `json:"attestationObject"`
	Transports        string `json:"transports,omitempty"`
}

type PasskeyRegisterResponse struct {
	CredentialID string `json:"credentialId"`
	DeviceType   string `json:"deviceType"`
	BackedUp     bool   `json:"backedUp"`
}

type PasskeyAssertRequest struct {
	ChallengeID       string `json:"challengeId"`
	CredentialID      string `json:"credentialId"`
	ClientDataJSON    string `json:"clientDataJson"`
	AuthenticatorData string `json:"authenticatorData"`
	Signature         string `json:"signature"`
	UserHandle        string `json:"userHandle,omitempty"`
}

type PasskeyAssertResponse struct {
	Verified     bool   `json:"verified"`
	UserID       string `json:"userId"`
	SessionToken string `json:"sessionToken,omitempty"`
}

type PasskeyCredentialResponse struct {
	CredentialID string `json:"credentialId"`
	DeviceType   string `json:"deviceType"`
	BackedUp     bool   `json:"backedUp"`
	Transports   string `json:"transports,omitempty"`
	CreatedAt    string `json:"createdAt"`
	LastUsedAt   string `json:"lastUsedAt,omitempty"`
}

type PasskeyListResponse struct {
	Credentials []PasskeyCredentialResponse `json:"credentials"`
}
