// Package backup generates and redeems single-use backup codes.
package backup

import (
	"context"
	"crypto/rand"
	"strings"

	"github.com/edline/otpgate/internal/domain/repository"
	tokens "github.com/edline/otpgate/internal/security/token"
)

// alphabet avoids easily-confused characters (no I, O, 0, 1).
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the length of a generated backup code.
const CodeLength = 10

// DefaultCount is the batch size minted at enrollment.
const DefaultCount = 10

// Vault mints and consumes backup codes through the principal repository.
type Vault struct {
	repo repository.PrincipalRepository
}

// New creates a Vault.
func New(repo repository.PrincipalRepository) *Vault {
	return &Vault{repo: repo}
}

// Generate mints count single-use codes for the principal, replacing any
// previously generated unconsumed set, and returns the plaintexts. This
// is the only time the plaintexts exist; only hashes are stored.
func (v *Vault) Generate(ctx context.Context, principalID string, count int) ([]string, error) {
	if count <= 0 {
		count = DefaultCount
	}
	plain := make([]string, count)
	hashes := make([]string, count)
	for i := 0; i < count; i++ {
		code, err := randomCode()
		if err != nil {
			return nil, err
		}
		plain[i] = code
		hashes[i] = tokens.SHA256Base64URL(code)
	}
	if err := v.repo.SetBackupCodes(ctx, principalID, hashes); err != nil {
		return nil, err
	}
	return plain, nil
}

// Consume redeems a code. Returns true exactly once per issued code; a
// consumed, unknown or malformed code returns false. Atomicity is the
// repository's conditional update.
func (v *Vault) Consume(ctx context.Context, principalID, submitted string) (bool, error) {
	code := strings.ToUpper(strings.Join(strings.Fields(submitted), ""))
	if len(code) != CodeLength {
		return false, nil
	}
	return v.repo.ConsumeBackupCode(ctx, principalID, tokens.SHA256Base64URL(code))
}

func randomCode() (string, error) {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, CodeLength)
	for i, c := range b {
		out[i] = alphabet[int(c)%len(alphabet)]
	}
	return string(out), nil
}
