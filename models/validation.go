package models

import "fmt"

// SignatureState tracks where an address is in the validation flow
type SignatureState int

const (
	SignaturePending SignatureState = iota
	SignatureValid
	SignatureInvalid
)

func (s SignatureState) String() string {
	switch s {
	case SignaturePending:
		return "pending"
	case SignatureValid:
		return "valid"
	case SignatureInvalid:
		return "invalid"
	}
	return fmt.Sprintf("SignatureState(%d)", int(s))
}

func (s SignatureState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SignatureState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending", "":
		*s = SignaturePending
	case "valid":
		*s = SignatureValid
	case "invalid":
		*s = SignatureInvalid
	default:
		return fmt.Errorf("unknown signature state %q", text)
	}
	return nil
}

// ValidationRecord is the per-address challenge. RequestTimeStamp is in unix
// milliseconds, ValidationWindow is the remaining budget in seconds.
type ValidationRecord struct {
	Address          string         `json:"walletAddress"`
	RequestTimeStamp int64          `json:"requestTimeStamp"`
	Message          string         `json:"message"`
	ValidationWindow int64          `json:"validationWindow"`
	SignatureState   SignatureState `json:"messageSignature"`
}

// VerifyResult is what a signature check hands back to the caller
type VerifyResult struct {
	RegisterStar bool              `json:"registerStar"`
	Status       *ValidationRecord `json:"status"`
}
