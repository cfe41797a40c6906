package giftcards

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// codeAlphabet excludes 0, O, 1 and I.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode returns a code shaped GC-XXXX-XXXX-XXXX.
func GenerateCode() (string, error) {
	var b strings.Builder
	b.WriteString("GC")
	max := big.NewInt(int64(len(codeAlphabet)))
	for group := 0; group < 3; group++ {
		b.WriteByte('-')
		for i := 0; i < 4; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", err
			}
			b.WriteByte(codeAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

// NormalizeCode upper-cases and trims a gift-card code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
