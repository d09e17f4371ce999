package schedule

import (
	"crypto/rand"
	"math/big"
)

const (
	CredentialLength   = 10
	credentialAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateCredential returns CredentialLength characters drawn uniformly
// from [a-zA-Z0-9].
func GenerateCredential() (string, error) {
	limit := big.NewInt(int64(len(credentialAlphabet)))
	b := make([]byte, CredentialLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = credentialAlphabet[n.Int64()]
	}
	return string(b), nil
}
