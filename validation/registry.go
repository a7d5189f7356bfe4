// Package validation issues per-address signing challenges and tracks whether
// they were answered in time. A VALID record authorizes exactly one star.
package validation

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"star-notary/logger"
	"star-notary/models"
	"star-notary/repository"
	"star-notary/signature"
)

const (
	DefaultWindow = 300 * time.Second
	challengeTag  = "starRegistry"
)

var (
	ErrNotFound = repository.ErrNotFound
	// ErrNotAuthorized means the address has no VALID record to redeem
	ErrNotAuthorized = errors.New("address is not authorized to register a star")
)

type Registry struct {
	repo     repository.ValidationRepositoryInterface
	verifier signature.Verifier
	window   time.Duration
	now      func() time.Time
	locks    *keyedMutex
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry builds a registry. A non-positive window falls back to DefaultWindow.
func NewRegistry(repo repository.ValidationRepositoryInterface, verifier signature.Verifier, window time.Duration, opts ...Option) *Registry {
	if window <= 0 {
		window = DefaultWindow
	}
	r := &Registry{
		repo:     repo,
		verifier: verifier,
		window:   window,
		now:      time.Now,
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) expired(rec *models.ValidationRecord, nowMs int64) bool {
	return nowMs-rec.RequestTimeStamp > r.window.Milliseconds()
}

// remaining is only meaningful for unexpired records
func (r *Registry) remaining(rec *models.ValidationRecord, nowMs int64) int64 {
	return (r.window.Milliseconds() - (nowMs - rec.RequestTimeStamp)) / 1000
}

// RequestValidation returns the live challenge for address, or issues a new
// one if there is none or the old one expired. Repeated requests narrow the
// remaining window without resetting the challenge.
func (r *Registry) RequestValidation(address string) (*models.ValidationRecord, error) {
	unlock := r.locks.Lock(address)
	defer unlock()

	nowMs := r.now().UnixMilli()
	rec, err := r.repo.GetValidation(address)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return nil, err
	case !r.expired(rec, nowMs):
		rec.ValidationWindow = r.remaining(rec, nowMs)
		return rec, nil
	}

	rec = &models.ValidationRecord{
		Address:          address,
		RequestTimeStamp: nowMs,
		Message:          fmt.Sprintf("%s:%d:%s", address, nowMs, challengeTag),
		ValidationWindow: int64(r.window / time.Second),
		SignatureState:   models.SignaturePending,
	}
	if err := r.repo.PutValidation(rec); err != nil {
		return nil, err
	}
	logger.Logger.Info("Validation requested",
		zap.String("address", address), zap.String("message", rec.Message))
	return rec, nil
}

// VerifySignature checks sig against the pending challenge of address.
// An address that is already VALID stays valid without re-verification.
func (r *Registry) VerifySignature(address, sig string) (*models.VerifyResult, error) {
	unlock := r.locks.Lock(address)
	defer unlock()

	rec, err := r.repo.GetValidation(address)
	if err != nil {
		return nil, err
	}
	if rec.SignatureState == models.SignatureValid {
		return &models.VerifyResult{RegisterStar: true, Status: rec}, nil
	}

	nowMs := r.now().UnixMilli()
	registerStar := false
	if r.expired(rec, nowMs) {
		logger.Logger.Info("Validation window expired", zap.String("address", address))
	} else {
		rec.ValidationWindow = r.remaining(rec, nowMs)
		ok, err := r.verifier.Verify(rec.Message, address, sig)
		if err != nil {
			logger.Logger.Debug("Signature verification failed",
				zap.String("address", address), zap.Error(err))
			ok = false
		}
		registerStar = ok
	}

	rec.SignatureState = models.SignatureInvalid
	if registerStar {
		rec.SignatureState = models.SignatureValid
	}
	if err := r.repo.PutValidation(rec); err != nil {
		return nil, err
	}
	logger.Logger.Info("Signature checked",
		zap.String("address", address), zap.Bool("registerStar", registerStar))
	return &models.VerifyResult{RegisterStar: registerStar, Status: rec}, nil
}

// ConsumeValidation deletes the record for address unconditionally
func (r *Registry) ConsumeValidation(address string) error {
	unlock := r.locks.Lock(address)
	defer unlock()
	return r.repo.DeleteValidation(address)
}

// Lookup returns the stored record for address without touching it
func (r *Registry) Lookup(address string) (*models.ValidationRecord, error) {
	unlock := r.locks.Lock(address)
	defer unlock()
	return r.repo.GetValidation(address)
}

// Redeem runs register while holding the address lock, provided the address
// is VALID, and consumes the record once register succeeds. Two concurrent
// redeems for one address can therefore not both register.
func (r *Registry) Redeem(address string, register func() error) error {
	unlock := r.locks.Lock(address)
	defer unlock()

	rec, err := r.repo.GetValidation(address)
	if err != nil {
		return err
	}
	if rec.SignatureState != models.SignatureValid {
		return ErrNotAuthorized
	}
	if err := register(); err != nil {
		return err
	}
	if err := r.repo.DeleteValidation(address); err != nil {
		logger.Logger.Error("Failed to consume validation",
			zap.String("address", address), zap.Error(err))
		return err
	}
	return nil
}
