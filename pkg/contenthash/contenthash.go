// Package contenthash computes the content digests the diff engine uses to
// decide whether two files are byte-identical.
//
// MD5 is the default algorithm: cheap, streamable, and good enough for
// equality comparison (this is not a security boundary). SHA-256 is
// available for callers that want collision resistance. A third,
// provider-specific flavor (QuickXorHash, see pkg/quickxorhash) is kept
// for trees backed by a cloud provider that already exposes that digest,
// so files can be compared without a local re-hash.
package contenthash

import (
	"crypto/md5"  //nolint:gosec // used for content-equality, not security
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/treesync/treesync/pkg/quickxorhash"
)

// Algorithm identifies a supported content-hash function.
type Algorithm string

const (
	// MD5 is the default algorithm: fast, streamable, ample for equality
	// checks between file contents.
	MD5 Algorithm = "md5"

	// SHA256 trades speed for collision resistance.
	SHA256 Algorithm = "sha256"

	// QuickXor is the provider-specific rolling hash some cloud backends
	// (e.g. OneDrive) expose natively, letting a comparison skip a local
	// re-hash of the remote content.
	QuickXor Algorithm = "quickxor"
)

// newHash returns a fresh hash.Hash for the given algorithm.
func newHash(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case MD5, "":
		return md5.New(), nil //nolint:gosec // content-equality only
	case SHA256:
		return sha256.New(), nil
	case QuickXor:
		return quickxorhash.New(), nil
	default:
		return nil, fmt.Errorf("contenthash: unknown algorithm %q", algo)
	}
}

// Encoding controls how a digest is rendered to its string form.
type Encoding int

const (
	// Hex renders the digest as lowercase hexadecimal (MD5, SHA-256).
	Hex Encoding = iota
	// Base64 renders the digest as standard base64 (QuickXorHash, matching
	// the form OneDrive's API returns).
	Base64
)

func defaultEncoding(algo Algorithm) Encoding {
	if algo == QuickXor {
		return Base64
	}

	return Hex
}

func encode(sum []byte, enc Encoding) string {
	if enc == Base64 {
		return base64.StdEncoding.EncodeToString(sum)
	}

	return hex.EncodeToString(sum)
}

// Sum streams r through the given algorithm and returns the encoded digest.
func Sum(r io.Reader, algo Algorithm) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("contenthash: hashing stream: %w", err)
	}

	return encode(h.Sum(nil), defaultEncoding(algo)), nil
}

// SumFile opens path and computes its digest under the given algorithm.
func SumFile(path string, algo Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("contenthash: opening %s: %w", path, err)
	}
	defer f.Close()

	sum, err := Sum(f, algo)
	if err != nil {
		return "", fmt.Errorf("contenthash: %s: %w", path, err)
	}

	return sum, nil
}

// Multi computes several algorithms in a single pass over r, avoiding
// repeated reads of large files when a caller needs more than one digest
// (for example MD5 for equality plus QuickXor to match a cloud provider's
// native field without a second read).
func Multi(r io.Reader, algos []Algorithm) (map[Algorithm]string, error) {
	if len(algos) == 0 {
		return map[Algorithm]string{}, nil
	}

	hashes := make(map[Algorithm]hash.Hash, len(algos))
	writers := make([]io.Writer, 0, len(algos))

	for _, algo := range algos {
		h, err := newHash(algo)
		if err != nil {
			return nil, err
		}

		hashes[algo] = h
		writers = append(writers, h)
	}

	mw := io.MultiWriter(writers...)
	if _, err := io.Copy(mw, r); err != nil {
		return nil, fmt.Errorf("contenthash: hashing stream: %w", err)
	}

	out := make(map[Algorithm]string, len(algos))
	for _, algo := range algos {
		out[algo] = encode(hashes[algo].Sum(nil), defaultEncoding(algo))
	}

	return out, nil
}

// MultiFile is the file-backed convenience wrapper around Multi.
func MultiFile(path string, algos []Algorithm) (map[Algorithm]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("contenthash: opening %s: %w", path, err)
	}
	defer f.Close()

	sums, err := Multi(f, algos)
	if err != nil {
		return nil, fmt.Errorf("contenthash: %s: %w", path, err)
	}

	return sums, nil
}
