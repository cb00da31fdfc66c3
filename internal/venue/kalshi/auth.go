package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// signer produces the RSA-PSS request signatures Kalshi requires. The signed
// string is timestamp + method + path (path without query), SHA-256 digested.
type signer struct {
	keyID string
	key   *rsa.PrivateKey
}

// newSigner accepts the private key as raw PEM, base64-wrapped PEM, or a
// path to a PEM file.
func newSigner(keyID, keyMaterial string) (*signer, error) {
	if keyID == "" || keyMaterial == "" {
		return nil, fmt.Errorf("missing kalshi credentials")
	}

	pemBytes, err := resolveKeyMaterial(keyMaterial)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in kalshi private key")
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS1 key: %w", err)
		}
	default:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS8 key: %w", err)
		}
		var ok bool
		key, ok = parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("kalshi private key is not RSA")
		}
	}

	return &signer{keyID: keyID, key: key}, nil
}

func resolveKeyMaterial(material string) ([]byte, error) {
	if strings.Contains(material, "-----BEGIN") {
		return []byte(material), nil
	}

	// Base64-wrapped PEM, the convenient form for env vars.
	decoded, err := base64.StdEncoding.DecodeString(material)
	if err == nil && strings.Contains(string(decoded), "-----BEGIN") {
		return decoded, nil
	}

	data, err := os.ReadFile(material)
	if err != nil {
		return nil, fmt.Errorf("kalshi key is neither PEM, base64 PEM, nor a readable file: %w", err)
	}
	return data, nil
}

// sign returns the signature for one request at the given timestamp.
func (s *signer) sign(timestampMs int64, method, path string) (string, error) {
	msg := strconv.FormatInt(timestampMs, 10) + method + path
	digest := sha256.Sum256([]byte(msg))

	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sig), nil
}

// headers returns the three auth headers for a request.
func (s *signer) headers(method, path string) (http.Header, error) {
	ts := time.Now().UnixMilli()
	sig, err := s.sign(ts, method, path)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("KALSHI-ACCESS-KEY", s.keyID)
	h.Set("KALSHI-ACCESS-SIGNATURE", sig)
	h.Set("KALSHI-ACCESS-TIMESTAMP", strconv.FormatInt(ts, 10))
	return h, nil
}
