package dto

// RecoveryRegenerateRequest carries a current TOTP code; regeneration is
// a sensitive action and requires fresh proof of possession.
type RecoveryRegenerateRequest struct {
	Code string `json:"code"`
}

type RecoveryRegenerateResponse struct {
	RecoveryCodes []string `json:"recoveryCodes"`
}

type RecoveryVerifyRequest struct {
	Code string `json:"code"`
}

type RecoveryVerifyResponse struct {
	Verified  bool `json:"verified"`
	Remaining int  `json:"remaining"`
}
