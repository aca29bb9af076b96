package fetch

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Supported checksum algorithms.
const (
	AlgorithmSHA1   = "sha1"
	AlgorithmBLAKE3 = "blake3"
)

var (
	// ErrChecksumMismatch is returned when downloaded content does not match
	// the expected hash.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrUnsupportedAlgorithm is returned for a validator naming an unknown
	// algorithm.
	ErrUnsupportedAlgorithm = errors.New("unsupported checksum algorithm")
)

// Validator describes the expected checksum of a downloaded file.
type Validator struct {
	Algorithm string `json:"algorithm"`
	Hash      string `json:"hash"`
}

// NewHash returns a fresh hash for the validator's algorithm.
func (v *Validator) NewHash() (hash.Hash, error) {
	switch strings.ToLower(v.Algorithm) {
	case AlgorithmSHA1:
		return sha1.New(), nil
	case AlgorithmBLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, v.Algorithm)
	}
}

// Check compares a computed digest against the expected hash.
func (v *Validator) Check(sum []byte) error {
	got := hex.EncodeToString(sum)
	if !strings.EqualFold(got, v.Hash) {
		return fmt.Errorf("%w: %s expected %s, got %s", ErrChecksumMismatch, v.Algorithm, v.Hash, got)
	}
	return nil
}

// VerifyFile hashes the file at path and checks it.
func (v *Validator) VerifyFile(path string) error {
	h, err := v.NewHash()
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return v.Check(h.Sum(nil))
}
