package registry

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// CodeAlphabet is the character set of referral codes.
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultCodeLength is the fixed length of generated referral codes.
const DefaultCodeLength = 8

// DefaultCodeAttempts bounds the regenerate-on-collision loop.
const DefaultCodeAttempts = 10

// CodeGenerator produces candidate referral codes.
type CodeGenerator interface {
	Generate(length int) (string, error)
}

// RandomCodes draws codes uniformly from CodeAlphabet using crypto/rand.
type RandomCodes struct{}

// Generate returns a random code of the given length.
func (RandomCodes) Generate(length int) (string, error) {
	max := big.NewInt(int64(len(CodeAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate referral code: %w", err)
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode canonicalizes user-supplied codes: trimmed and upper case.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code is made only of CodeAlphabet characters
// and has the given length.
func ValidCode(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(CodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
