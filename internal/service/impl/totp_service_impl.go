package impl

import (
	"bytes"
	"context"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"time"

	"mfa/internal/domain"
	"mfa/internal/dto"
	"mfa/internal/observability/metrics"
	"mfa/internal/rate"
	"mfa/internal/replay"
	"mfa/internal/security/ctime"
	"mfa/internal/security/secretbox"
	"mfa/internal/security/totp"
	"mfa/internal/service"
	"mfa/internal/store"
)

type TOTPServiceImpl struct {
	Store   *store.Store
	Box     *secretbox.Box
	Limiter rate.Limiter
	Audit   *AuditRecorder

	Issuer     string
	DriftSteps int
	MaxFailed  int
	Lockout    time.Duration

	// Now is the clock; tests pin it.
	Now func() time.Time
}

func NewTOTPServiceImpl(st *store.Store, box *secretbox.Box, limiter rate.Limiter, audit *AuditRecorder, issuer string, driftSteps, maxFailed int, lockout time.Duration) *TOTPServiceImpl {
	return &TOTPServiceImpl{
		Store:      st,
		Box:        box,
		Limiter:    limiter,
		Audit:      audit,
		Issuer:     issuer,
		DriftSteps: driftSteps,
		MaxFailed:  maxFailed,
		Lockout:    lockout,
		Now:        time.Now,
	}
}

var _ service.TOTPService = (*TOTPServiceImpl)(nil)

func (s *TOTPServiceImpl) allow(ctx context.Context, userID domain.UserID, action string, meta service.RequestMeta) error {
	res, err := s.Limiter.Allow(ctx, rate.Key(meta.IP, userID.String()), action)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if !res.Allowed {
		metrics.RateLimitedTotal.WithLabelValues(action).Inc()
		return &domain.RateLimitedError{RetryAfter: res.RetryAfter}
	}
	return nil
}

func (s *TOTPServiceImpl) Setup(ctx context.Context, userID domain.UserID, meta service.RequestMeta) (*dto.TOTPSetupResponse, error) {
	if err := s.allow(ctx, userID, domain.EventTOTPSetup, meta); err != nil {
		return nil, err
	}

	existing, err := s.Store.TOTP().GetByUser(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	if existing != nil && existing.IsEnabled {
		return nil, domain.ErrAlreadyConfigured
	}

	raw, b32, err := totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	sealed, err := s.Box.Seal(raw)
	if err != nil {
		return nil, err
	}

	key, err := totp.ProvisioningKey(s.Issuer, userID.String(), raw)
	if err != nil {
		return nil, err
	}
	var qr string
	if img, err := key.Image(256, 256); err == nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err == nil {
			qr = base64.StdEncoding.EncodeToString(buf.Bytes())
		}
	}

	now := s.Now().UTC()
	err = s.Store.WithTx(ctx, func(tx *store.Store) error {
		e := &domain.TOTPEnrollment{
			UserID:    userID,
			Secret:    sealed,
			IsEnabled: false,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if existing != nil {
			e.CreatedAt = existing.CreatedAt
		}
		if err := tx.TOTP().Upsert(ctx, e); err != nil {
			return err
		}
		// Codes from an abandoned earlier setup would otherwise linger.
		return tx.RecoveryCodes().DeleteByUser(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}

	s.Audit.Record(domain.EventTOTPSetup, &userID, true, meta, nil)
	return &dto.TOTPSetupResponse{
		Secret:          b32,
		ProvisioningURI: key.URL(),
		QRPNG:           qr,
	}, nil
}

func (s *TOTPServiceImpl) Verify(ctx context.Context, userID domain.UserID, code string, meta service.RequestMeta) (*dto.TOTPVerifyResponse, error) {
	if err := s.allow(ctx, userID, domain.EventTOTPVerify, meta); err != nil {
		return nil, err
	}
	enabling, err := s.checkCode(ctx, userID, code, meta, domain.EventTOTPVerify)
	if err != nil {
		return nil, err
	}
	resp := &dto.TOTPVerifyResponse{Verified: true, Enabled: true}
	if enabling {
		metrics.VerificationsTotal.WithLabelValues("totp_enroll", "success").Inc()
		// The enabling verification is the one moment the recovery codes
		// exist in plaintext.
		codes, err := s.issueRecoveryCodes(ctx, userID)
		if err != nil {
			return nil, err
		}
		resp.BackupCodes = codes
	} else {
		metrics.VerificationsTotal.WithLabelValues("totp", "success").Inc()
	}
	return resp, nil
}

func (s *TOTPServiceImpl) issueRecoveryCodes(ctx context.Context, userID domain.UserID) ([]string, error) {
	codes, err := GenerateRecoveryCodes(RecoveryCodeCount)
	if err != nil {
		return nil, err
	}
	hashes := make([][]byte, len(codes))
	for i, c := range codes {
		hashes[i] = HashRecoveryCode(NormalizeRecoveryCode(c))
	}
	if err := s.Store.RecoveryCodes().ReplaceAll(ctx, userID, hashes); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	return codes, nil
}

func (s *TOTPServiceImpl) Disable(ctx context.Context, userID domain.UserID, code string, meta service.RequestMeta) error {
	if err := s.allow(ctx, userID, domain.EventTOTPDisable, meta); err != nil {
		return err
	}
	enr, err := s.Store.TOTP().GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return domain.ErrNotConfigured
		}
		return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	if !enr.IsEnabled {
		return domain.ErrNotConfigured
	}
	if _, err := s.checkCode(ctx, userID, code, meta, domain.EventTOTPDisable); err != nil {
		return err
	}
	err = s.Store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.TOTP().Delete(ctx, userID); err != nil {
			return err
		}
		return tx.RecoveryCodes().DeleteByUser(ctx, userID)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	s.Audit.Record(domain.EventTOTPDisable, &userID, true, meta, nil)
	return nil
}

// checkCode runs the full verification pipeline for a current TOTP code:
// state checks, format prevalidation, code match across the drift window, and
// the replay-guarded counter consumption. It reports whether this success
// flipped a pending enrollment to enabled.
func (s *TOTPServiceImpl) checkCode(ctx context.Context, userID domain.UserID, code string, meta service.RequestMeta, event string) (enabling bool, err error) {
	now := s.Now().UTC()

	enr, err := s.Store.TOTP().GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return false, domain.ErrNotConfigured
		}
		return false, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	if enr.Locked(now) {
		return false, &domain.LockedError{Until: *enr.LockedUntil}
	}
	if !totp.WellFormed(code) {
		s.Audit.Record(event, &userID, false, meta, map[string]any{"reason": "malformed"})
		return false, domain.ErrInvalidInput
	}

	secret, err := s.Box.Open(enr.Secret)
	if err != nil {
		return false, fmt.Errorf("%w: unseal: %v", domain.ErrStorageFailure, err)
	}
	b32 := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret)

	ok, matched, err := totp.Verify(b32, code, now, s.DriftSteps)
	if err != nil {
		return false, domain.ErrInvalidInput
	}
	if !ok {
		return false, s.recordFailure(ctx, userID, meta, event, "totp")
	}

	enabling = !enr.IsEnabled
	err = s.Store.TOTP().ConsumeCounter(ctx, userID, matched, replay.ReuseWindow, enabling)
	if err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			s.Audit.Record(event, &userID, false, meta, map[string]any{"reason": "replay"})
			metrics.VerificationsTotal.WithLabelValues("totp", "replay").Inc()
			return false, domain.ErrReplayDetected
		}
		return false, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	s.Audit.Record(event, &userID, true, meta, nil)
	return enabling, nil
}

func (s *TOTPServiceImpl) recordFailure(ctx context.Context, userID domain.UserID, meta service.RequestMeta, event, flow string) error {
	count, err := s.Store.TOTP().RecordFailure(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	metrics.VerificationsTotal.WithLabelValues(flow, "failure").Inc()
	if count >= s.MaxFailed {
		until := s.Now().UTC().Add(s.Lockout)
		if err := s.Store.TOTP().SetLock(ctx, userID, until); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
		}
		metrics.LockoutsTotal.WithLabelValues(flow).Inc()
		s.Audit.Record(event, &userID, false, meta, map[string]any{"reason": "locked", "failed_attempts": count})
		return &domain.LockedError{Until: until}
	}
	s.Audit.Record(event, &userID, false, meta, map[string]any{"failed_attempts": count})
	return domain.ErrVerificationFailed
}

func (s *TOTPServiceImpl) RegenerateRecoveryCodes(ctx context.Context, userID domain.UserID, code string, meta service.RequestMeta) (*dto.RecoveryRegenerateResponse, error) {
	if err := s.allow(ctx, userID, domain.EventRecoveryRegenerate, meta); err != nil {
		return nil, err
	}
	enr, err := s.Store.TOTP().GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, domain.ErrNotConfigured
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	if !enr.IsEnabled {
		return nil, domain.ErrNotConfigured
	}
	if _, err := s.checkCode(ctx, userID, code, meta, domain.EventRecoveryRegenerate); err != nil {
		return nil, err
	}

	codes, err := s.issueRecoveryCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.Audit.Record(domain.EventRecoveryRegenerate, &userID, true, meta, nil)
	return &dto.RecoveryRegenerateResponse{RecoveryCodes: codes}, nil
}

func (s *TOTPServiceImpl) VerifyRecoveryCode(ctx context.Context, userID domain.UserID, code string, meta service.RequestMeta) (*dto.RecoveryVerifyResponse, error) {
	if err := s.allow(ctx, userID, domain.EventRecoveryVerify, meta); err != nil {
		return nil, err
	}
	now := s.Now().UTC()

	enr, err := s.Store.TOTP().GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, domain.ErrNotConfigured
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	if enr.Locked(now) {
		return nil, &domain.LockedError{Until: *enr.LockedUntil}
	}

	normalized := NormalizeRecoveryCode(code)
	if !WellFormedRecoveryCode(normalized) {
		s.Audit.Record(domain.EventRecoveryVerify, &userID, false, meta, map[string]any{"reason": "malformed"})
		return nil, domain.ErrInvalidInput
	}
	hash := HashRecoveryCode(normalized)

	all, err := s.Store.RecoveryCodes().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}

	// Scan the whole batch even after a hit so timing does not narrow down
	// which slot matched.
	var matched *domain.RecoveryCode
	usedHit := false
	unused := 0
	for i := range all {
		rc := &all[i]
		hit := ctime.Equal(hash, rc.CodeHash)
		if rc.UsedAt == nil {
			unused++
			if hit && matched == nil {
				matched = rc
			}
		} else if hit {
			usedHit = true
		}
	}
	if matched == nil {
		if usedHit {
			s.Audit.Record(domain.EventRecoveryVerify, &userID, false, meta, map[string]any{"reason": "replay"})
			metrics.VerificationsTotal.WithLabelValues("recovery", "replay").Inc()
			return nil, domain.ErrReplayDetected
		}
		return nil, s.recordFailure(ctx, userID, meta, domain.EventRecoveryVerify, "recovery")
	}

	if err := s.Store.RecoveryCodes().Consume(ctx, matched.ID); err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			s.Audit.Record(domain.EventRecoveryVerify, &userID, false, meta, map[string]any{"reason": "replay"})
			metrics.VerificationsTotal.WithLabelValues("recovery", "replay").Inc()
			return nil, domain.ErrReplayDetected
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	if err := s.Store.TOTP().ClearFailures(ctx, userID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}

	metrics.VerificationsTotal.WithLabelValues("recovery", "success").Inc()
	s.Audit.Record(domain.EventRecoveryVerify, &userID, true, meta, map[string]any{"remaining": unused - 1})
	return &dto.RecoveryVerifyResponse{Verified: true, Remaining: unused - 1}, nil
}
