package dto

type TOTPSetupResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioningUri"`
	QRPNG           string `json:"qrPng,omitempty"`
}

type TOTPVerifyRequest struct {
	Code string `json:"code"`
}

// BackupCodes is present only on the verification that enables the
// enrollment; that is the single time the plaintext leaves the service.
type TOTPVerifyResponse struct {
	Verified    bool     `json:"verified"`
	Enabled     bool     `json:"enabled"`
	BackupCodes []string `json:"backupCodes,omitempty"`
}

type TOTPDisableRequest struct {
	Code string `json:"code"`
}
