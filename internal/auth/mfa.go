package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// totpPeriod is the TOTP step length in seconds.
const totpPeriod = 30

// MFAService handles TOTP generation and validation.
type MFAService struct {
	issuer string
}

func NewMFAService(issuer string) *MFAService {
	return &MFAService{
		issuer: issuer,
	}
}

// GenerateSecret creates a new TOTP secret for the account. The key's URL
// (otpauth://...) is what enrollment UIs render as a QR code.
func (s *MFAService) GenerateSecret(accountName string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp key: %w", err)
	}
	return key, nil
}

// ValidateCode checks the code against the secret with a ±1 step window for
// clock drift.
func (s *MFAService) ValidateCode(code string, secret string) bool {
	return s.ValidateCodeAt(code, secret, time.Now())
}

// ValidateCodeAt is ValidateCode pinned to a reference time, for tests.
func (s *MFAService) ValidateCodeAt(code string, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period: totpPeriod,
		Skew:   1,
		Digits: otp.DigitsSix,
	})
	return err == nil && ok
}

// SameStep reports whether two instants fall into the same TOTP step. A code
// accepted at lastUsed must not be accepted again within the step, which
// frustrates replay of an intercepted code.
func SameStep(lastUsed, now time.Time) bool {
	return lastUsed.Unix()/totpPeriod == now.Unix()/totpPeriod
}

// GenerateBackupCodes creates cryptographically secure recovery codes.
// Returns the raw codes; the caller hashes them before storage.
// Format: XXXX-XXXX, charset without I/O/0/1 confusion.
func (s *MFAService) GenerateBackupCodes(count int) ([]string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codes := make([]string, count)

	for i := 0; i < count; i++ {
		code := make([]byte, 8)
		for j := 0; j < 8; j++ {
			num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
			if err != nil {
				return nil, fmt.Errorf("crypto/rand failed: %w", err)
			}
			code[j] = chars[num.Int64()]
		}
		codes[i] = string(code[:4]) + "-" + string(code[4:])
	}
	return codes, nil
}

// GenerateCode produces the current code for a secret (testing/dev helper).
func (s *MFAService) GenerateCode(secret string) (string, error) {
	return totp.GenerateCode(secret, time.Now())
}
