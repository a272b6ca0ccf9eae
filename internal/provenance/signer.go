package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/soulvan/soulvan-backend/internal/domain"
)

// Attestation binds an artifact digest to the submitter that produced it.
// The signature is a compact JWT so any holder of the shared secret can
// verify provenance offline.
type Attestation struct {
	ArtifactSHA256 string
	Signature      string
}

type Claims struct {
	ArtifactSHA256 string `json:"artifact_sha256"`
	Submitter      string `json:"submitter"`
	Kind           string `json:"kind"`
	jwt.RegisteredClaims
}

type Signer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewSigner(secret, issuer string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("provenance: signing secret is required")
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = "soulvan"
	}
	return &Signer{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// HashArtifact computes the SHA-256 digest of the artifact file, streaming
// so large renders and replays do not load into memory.
func HashArtifact(artifactRef string) (string, error) {
	if strings.TrimSpace(artifactRef) == "" {
		return "", fmt.Errorf("%w: empty artifact ref", domain.ErrInvalidArtifact)
	}
	f, err := os.Open(artifactRef)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidArtifact, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: read artifact: %v", domain.ErrInvalidArtifact, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Sign hashes the artifact and issues the attestation token. Callers are
// expected to reject re-signing before reaching here; Sign itself is pure
// over its inputs and will happily sign the same artifact twice.
func (s *Signer) Sign(artifactRef, submitter, kind string) (Attestation, error) {
	digest, err := HashArtifact(artifactRef)
	if err != nil {
		return Attestation{}, err
	}
	return s.SignDigest(digest, submitter, kind)
}

// SignDigest issues the attestation for a digest computed elsewhere, e.g.
// when the artifact bytes already passed through the audit stage.
func (s *Signer) SignDigest(digest, submitter, kind string) (Attestation, error) {
	if strings.TrimSpace(digest) == "" {
		return Attestation{}, fmt.Errorf("%w: empty digest", domain.ErrInvalidArtifact)
	}
	claims := Claims{
		ArtifactSHA256: digest,
		Submitter:      submitter,
		Kind:           kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(s.now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return Attestation{}, fmt.Errorf("provenance: sign: %w", err)
	}
	return Attestation{ArtifactSHA256: digest, Signature: signed}, nil
}

// Verify parses the attestation token and returns its claims. It fails on
// bad signatures, wrong algorithms, and digest mismatch when expectedDigest
// is non-empty.
func (s *Signer) Verify(signature, expectedDigest string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(signature, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("provenance: verify: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("provenance: invalid token")
	}
	if expectedDigest != "" && claims.ArtifactSHA256 != expectedDigest {
		return nil, fmt.Errorf("provenance: digest mismatch")
	}
	return claims, nil
}
