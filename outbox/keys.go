package outbox

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
)

// marshalPrivateKey/parsePrivateKey carry a sender's RSA private key through
// the MQ payload as PKCS1 PEM — the same encoding klistr's
// internal/ap/keys.go LoadOrGenerateKeyPair uses on disk.
func marshalPrivateKey(priv *rsa.PrivateKey) (string, error) {
	if priv == nil {
		return "", errors.New("outbox: nil private key")
	}
	der := x509.MarshalPKCS1PrivateKey(priv)
	block := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
	return string(block), nil
}

func parsePrivateKey(s string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, errors.New("outbox: invalid PEM block")
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}
