package httpsig

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gofedhttpsig "github.com/go-fed/httpsig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return priv, string(block)
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	priv, pubPEM := mustKeyPair(t)
	body := []byte(`{"type":"Create"}`)

	req := httptest.NewRequest(http.MethodPost, "https://example.org/users/alice/inbox", nil)
	req.Host = "example.org"

	digest, err := ComputeDigest(body, "SHA-256")
	require.NoError(t, err)
	req.Header.Set("Digest", digest)

	kp := KeyPair{KeyID: "https://example.org/users/bob#main-key", PrivateKey: priv}
	require.NoError(t, Sign(req, kp, body))

	resolver := staticResolver{kp.KeyID: pubPEM}
	v := &Verifier{}
	keyID, err := v.Verify(context.Background(), req, body, resolver)
	require.NoError(t, err)
	assert.Equal(t, kp.KeyID, keyID)
}

func TestVerifyRejectsClockSkew(t *testing.T) {
	priv, pubPEM := mustKeyPair(t)
	body := []byte(`{}`)

	req := httptest.NewRequest(http.MethodPost, "https://example.org/users/alice/inbox", nil)
	req.Host = "example.org"
	kp := KeyPair{KeyID: "https://example.org/users/bob#main-key", PrivateKey: priv}
	require.NoError(t, Sign(req, kp, body))
	req.Header.Set("Date", time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat))

	resolver := staticResolver{kp.KeyID: pubPEM}
	v := &Verifier{}
	_, err := v.Verify(context.Background(), req, body, resolver)
	assert.ErrorIs(t, err, ErrClockSkew)
}

func TestVerifyNoSignatureHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "https://example.org/inbox", nil)
	v := &Verifier{}
	_, err := v.Verify(context.Background(), req, nil, staticResolver{})
	assert.ErrorIs(t, err, ErrNoSignatureHeader)
}

func TestVerifyRejectsMissingDigestHeaderWhenBodyPresent(t *testing.T) {
	priv, pubPEM := mustKeyPair(t)
	body := []byte(`{"type":"Create"}`)

	req := httptest.NewRequest(http.MethodPost, "https://example.org/users/alice/inbox", nil)
	req.Host = "example.org"
	kp := KeyPair{KeyID: "https://example.org/users/bob#main-key", PrivateKey: priv}
	require.NoError(t, Sign(req, kp, body))
	req.Header.Del("Digest")

	resolver := staticResolver{kp.KeyID: pubPEM}
	v := &Verifier{}
	_, err := v.Verify(context.Background(), req, body, resolver)
	assert.ErrorIs(t, err, ErrMissingDigest)
}

func TestVerifyRejectsSignatureNotCoveringDigest(t *testing.T) {
	priv, pubPEM := mustKeyPair(t)
	body := []byte(`{"type":"Create"}`)

	req := httptest.NewRequest(http.MethodPost, "https://example.org/users/alice/inbox", nil)
	req.Host = "example.org"

	digest, err := ComputeDigest(body, "SHA-256")
	require.NoError(t, err)
	req.Header.Set("Digest", digest)

	signer, _, err := gofedhttpsig.NewSigner(
		[]gofedhttpsig.Algorithm{gofedhttpsig.RSA_SHA256},
		gofedhttpsig.DigestSha256,
		[]string{gofedhttpsig.RequestTarget, "host", "date"},
		gofedhttpsig.Signature,
		0,
	)
	require.NoError(t, err)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	kp := KeyPair{KeyID: "https://example.org/users/bob#main-key", PrivateKey: priv}
	require.NoError(t, signer.SignRequest(kp.PrivateKey, kp.KeyID, req, nil))

	resolver := staticResolver{kp.KeyID: pubPEM}
	v := &Verifier{}
	_, err = v.Verify(context.Background(), req, body, resolver)
	assert.ErrorIs(t, err, ErrMissingDigest)
}

func TestVerifyDigestMismatch(t *testing.T) {
	err := VerifyDigest([]byte("tampered"), "SHA-256=bm90LXRoZS1yaWdodC1kaWdlc3Q=")
	assert.Error(t, err)
}

func TestVerifyDigestUnknownAlgorithmSkipped(t *testing.T) {
	err := VerifyDigest([]byte("anything"), "CRC32=deadbeef")
	assert.NoError(t, err)
}

func TestValidateKeyRejectsWeakKey(t *testing.T) {
	weak, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	err = ValidateKey(&weak.PublicKey)
	assert.ErrorIs(t, err, ErrKeyTooWeak)
}

type staticResolver map[string]string

func (s staticResolver) ResolveKey(_ context.Context, keyID string) (string, error) {
	pem, ok := s[keyID]
	if !ok {
		return "", io.EOF
	}
	return pem, nil
}

func TestKeyCacheCoalescesConcurrentLookups(t *testing.T) {
	var calls int32
	fetch := func(_ context.Context, keyID string) (string, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return "pem-for-" + keyID, nil
	}
	cache := NewKeyCache(fetch, time.Minute)

	const n = 20
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			pem, err := cache.ResolveKey(context.Background(), "key-1")
			require.NoError(t, err)
			results <- pem
		}()
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, "pem-for-key-1", <-results)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestKeyCacheInvalidate(t *testing.T) {
	var calls int32
	fetch := func(_ context.Context, keyID string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "pem", nil
	}
	cache := NewKeyCache(fetch, time.Minute)

	_, err := cache.ResolveKey(context.Background(), "key-1")
	require.NoError(t, err)
	cache.Invalidate("key-1")
	_, err = cache.ResolveKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
