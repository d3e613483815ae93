package httpsig

import (
	"crypto/sha1"  //nolint:gosec // "sha" digest algorithm per spec.md §4.3 is SHA-1, kept for interop only
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"
)

// ComputeDigest returns the RFC 3230-style Digest header value for body
// using algo ("SHA-256" by default). Supported algorithms per spec.md §4.3:
// "SHA-1" (legacy, read-compat only), "SHA-256", "SHA-512".
func ComputeDigest(body []byte, algo string) (string, error) {
	h, name, err := newDigestHash(algo)
	if err != nil {
		return "", err
	}
	h.Write(body)
	return fmt.Sprintf("%s=%s", name, base64.StdEncoding.EncodeToString(h.Sum(nil))), nil
}

func newDigestHash(algo string) (hash.Hash, string, error) {
	switch strings.ToUpper(algo) {
	case "", "SHA-256":
		return sha256.New(), "SHA-256", nil
	case "SHA-512":
		return sha512.New(), "SHA-512", nil
	case "SHA-1", "SHA":
		return sha1.New(), "SHA-1", nil //nolint:gosec
	default:
		return nil, "", fmt.Errorf("httpsig: unsupported digest algorithm %q", algo)
	}
}

// VerifyDigest recomputes body's digest against digestHeader, which per
// RFC 3230 may carry multiple comma-separated "algo=value" entries (e.g.
// "sha-256=X,sha-512=Y"). spec.md §4.3 step 2 requires accepting the
// request if ANY supported algorithm's digest matches; unrecognized
// algorithms in the list are skipped rather than rejected, same as klistr's
// client.go VerifyDigest. Only when every entry is either unrecognized or
// mismatched (and at least one was recognized) is the request rejected.
func VerifyDigest(body []byte, digestHeader string) error {
	sawSupported := false
	for _, entry := range strings.Split(digestHeader, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		algo, want := parts[0], parts[1]

		h, _, err := newDigestHash(algo)
		if err != nil {
			// Unrecognized algorithm: nothing to check against, not a failure.
			continue
		}
		sawSupported = true
		h.Write(body)
		got := base64.StdEncoding.EncodeToString(h.Sum(nil))
		if got == want {
			return nil
		}
	}
	if !sawSupported {
		return nil
	}
	return fmt.Errorf("httpsig: no supported digest algorithm matched %q", digestHeader)
}
