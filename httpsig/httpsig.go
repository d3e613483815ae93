// Package httpsig wraps go-fed/httpsig (the same signer/verifier the
// teacher repo uses in internal/ap/client.go) with the pieces the
// federation engine needs above it: digest computation, a configurable
// clock-skew window, and resolution of a keyId into a public key via a
// pluggable KeyResolver instead of a single hardcoded actor fetch.
package httpsig

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gofedhttpsig "github.com/go-fed/httpsig"
)

// DefaultMaxSkew is how far a request's Date header may drift from the
// verifying server's clock before verification fails outright, before any
// cryptographic work happens — ported from klistr's maxDateSkew constant in
// internal/ap/client.go. spec.md §9 leaves the exact window an open
// question; this package exposes it as a configurable field (Verifier.MaxSkew)
// rather than a hardcoded constant, so an application can widen it for
// federating with clock-drifted peers.
const DefaultMaxSkew = 30 * time.Second

var (
	// ErrClockSkew is returned when a request's Date header is farther from
	// now than the configured MaxSkew.
	ErrClockSkew = errors.New("httpsig: request date outside allowed clock skew")

	// ErrNoSignatureHeader is returned when a request carries neither
	// Signature nor Authorization headers.
	ErrNoSignatureHeader = errors.New("httpsig: no Signature header present")

	// ErrMissingDigest is returned when a request carries a body but no
	// Digest header, or when the Signature doesn't list "digest" among its
	// covered headers — either way the body itself is unsigned.
	ErrMissingDigest = errors.New("httpsig: body present but Digest header missing or unsigned")

	// ErrKeyTooWeak is returned by ValidateKey for RSA keys under 2048 bits.
	ErrKeyTooWeak = errors.New("httpsig: key does not meet minimum strength")
)

// signatureAlgorithm and digestAlgorithm fix the suite this package speaks:
// RSASSA-PKCS1-v1.5 with SHA-256, matching klistr's DeliverActivity and the
// draft-cavage-12 defaults most of the fediverse still interoperates on.
var (
	signatureAlgorithm = gofedhttpsig.RSA_SHA256
	digestAlgorithm    = gofedhttpsig.DigestSha256
	signedHeaders      = []string{gofedhttpsig.RequestTarget, "host", "date", "digest"}
)

// KeyPair is a local actor's signing identity: its keyId (an IRI, typically
// "<actor>#main-key") and RSA private key.
type KeyPair struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

// Sign attaches Signature, Digest, Date, and Host headers to req on behalf
// of kp, covering body via the SHA-256 digest. req.Body must already be set;
// body is also passed explicitly since go-fed/httpsig needs it to compute
// the digest.
func Sign(req *http.Request, kp KeyPair, body []byte) error {
	signer, _, err := gofedhttpsig.NewSigner(
		[]gofedhttpsig.Algorithm{signatureAlgorithm},
		digestAlgorithm,
		signedHeaders,
		gofedhttpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("httpsig: build signer: %w", err)
	}
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	if req.Header.Get("Host") == "" && req.Host != "" {
		req.Header.Set("Host", req.Host)
	}
	// go-fed/httpsig computes Digest itself from body and refuses to sign
	// when a Digest header is already present, so any preset one is dropped.
	if body != nil {
		req.Header.Del("Digest")
	}
	return signer.SignRequest(kp.PrivateKey, kp.KeyID, req, body)
}

// KeyResolver resolves a keyId (as carried in the Signature header) to the
// PEM-encoded public key that should verify it. KeyCache implements it
// around an application-supplied KeyFetcher.
type KeyResolver interface {
	ResolveKey(ctx context.Context, keyID string) (pem string, err error)
}

// Verifier checks inbound request signatures.
type Verifier struct {
	// MaxSkew bounds how far apart the Date header and now may be. Zero
	// means DefaultMaxSkew.
	MaxSkew time.Duration
	// Now is used in place of time.Now when set, for deterministic tests.
	Now func() time.Time
}

func (v *Verifier) maxSkew() time.Duration {
	if v.MaxSkew > 0 {
		return v.MaxSkew
	}
	return DefaultMaxSkew
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Verify validates req's Digest and Signature headers (a non-empty body
// requires a Digest header that the Signature covers),
// resolving the signer's public key through resolver. It returns the keyId
// that signed the request on success.
//
// The Date check runs before any crypto per klistr's VerifySignature — a
// stale or future-dated request is rejected cheaply without ever touching
// the network for the actor's key.
func (v *Verifier) Verify(ctx context.Context, req *http.Request, body []byte, resolver KeyResolver) (keyID string, err error) {
	if req.Header.Get("Signature") == "" && req.Header.Get("Authorization") == "" {
		return "", ErrNoSignatureHeader
	}

	if dateHeader := req.Header.Get("Date"); dateHeader != "" {
		reqDate, parseErr := http.ParseTime(dateHeader)
		if parseErr == nil {
			skew := v.now().Sub(reqDate)
			if skew < 0 {
				skew = -skew
			}
			if skew > v.maxSkew() {
				return "", fmt.Errorf("%w: %s", ErrClockSkew, dateHeader)
			}
		}
	}

	// spec.md §4.3 steps 1 and 5: a body-bearing request whose Digest is
	// absent, or whose Signature doesn't actually cover the Digest header,
	// leaves the body unsigned — an attacker could sign only
	// "(request-target) host date" and swap in any payload. Reject outright
	// rather than only checking the digest when it happens to be there.
	digestHeader := req.Header.Get("Digest")
	if len(body) > 0 {
		if digestHeader == "" || !signedHeadersInclude(req, "digest") {
			return "", ErrMissingDigest
		}
	}
	if digestHeader != "" {
		if err := VerifyDigest(body, digestHeader); err != nil {
			return "", err
		}
	}

	verifier, err := gofedhttpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("httpsig: parse signature: %w", err)
	}
	keyID = verifier.KeyId()

	pemStr, err := resolver.ResolveKey(ctx, keyID)
	if err != nil {
		return "", fmt.Errorf("httpsig: resolve key %q: %w", keyID, err)
	}
	pubKey, err := ParsePublicKeyPEM(pemStr)
	if err != nil {
		return "", fmt.Errorf("httpsig: parse key %q: %w", keyID, err)
	}
	if err := ValidateKey(pubKey); err != nil {
		return "", err
	}

	algo, err := detectAlgorithm(req)
	if err != nil {
		algo = signatureAlgorithm
	}
	if err := verifier.Verify(pubKey, algo); err != nil {
		return "", fmt.Errorf("httpsig: signature verification failed: %w", err)
	}
	return keyID, nil
}

// detectAlgorithm is a small concession to interoperability: some
// implementations sign with RSA_SHA512. go-fed/httpsig needs the caller to
// name the algorithm it verifies with, so inspect the advertised
// "algorithm=" parameter rather than hardcoding RSA_SHA256 unconditionally.
func detectAlgorithm(req *http.Request) (gofedhttpsig.Algorithm, error) {
	sigHeader := req.Header.Get("Signature")
	if sigHeader == "" {
		sigHeader = req.Header.Get("Authorization")
	}
	if contains(sigHeader, `algorithm="rsa-sha512"`) {
		return gofedhttpsig.RSA_SHA512, nil
	}
	return signatureAlgorithm, nil
}

// signedHeadersInclude reports whether name appears in the incoming
// Signature/Authorization header's headers="..." parameter — the list of
// headers the signer actually claims to have covered. Presence of a Digest
// header means nothing on its own if the signature never committed to it.
func signedHeadersInclude(req *http.Request, name string) bool {
	sigHeader := req.Header.Get("Signature")
	if sigHeader == "" {
		sigHeader = req.Header.Get("Authorization")
	}
	start := indexOf(sigHeader, `headers="`)
	if start < 0 {
		// draft-cavage-12 default when headers= is omitted is "(created)"
		// or "date" alone, never digest, so treat absence as uncovered.
		return false
	}
	start += len(`headers="`)
	end := indexOf(sigHeader[start:], `"`)
	if end < 0 {
		return false
	}
	list := sigHeader[start : start+end]
	for _, h := range strings.Fields(list) {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// ParsePublicKeyPEM decodes a PKIX-encoded RSA public key PEM block, the
// format actors publish in their publicKey.publicKeyPem field.
func ParsePublicKeyPEM(s string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, errors.New("httpsig: invalid PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("httpsig: parse PKIX public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("httpsig: not an RSA public key")
	}
	return rsaPub, nil
}

// ValidateKey enforces the minimum key strength spec.md §4.3 requires:
// RSA keys of at least 2048 bits.
func ValidateKey(pub *rsa.PublicKey) error {
	if pub.N.BitLen() < 2048 {
		return ErrKeyTooWeak
	}
	return nil
}

// hashFunc names SHA-256, the hash behind signatureAlgorithm and
// digestAlgorithm. Nothing in this package reads it: outgoing digests come
// from digestAlgorithm (via go-fed/httpsig) and ComputeDigest.
var hashFunc = crypto.SHA256
