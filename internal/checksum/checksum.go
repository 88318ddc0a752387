package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// ChunkSize is the read buffer used while hashing. Memory use per hash is
// bounded by this value regardless of input size.
const ChunkSize = 64 * 1024

// Algorithm names a supported digest algorithm.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// DefaultAlgorithm is used when a repository is created without an explicit
// algorithm.
const DefaultAlgorithm = SHA256

// hexLen is the hex length of every supported digest (both are 256-bit).
const hexLen = 64

// domainRepository separates repository checksums from file digests.
const domainRepository = "filing-cabinet/repository/v1"

// ErrUnknownAlgorithm is returned for algorithm names the engine cannot hash.
var ErrUnknownAlgorithm = errors.New("unknown checksum algorithm")

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case SHA256, BLAKE3:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, string(a))
	}
}

// Digest is a content digest in "<algorithm>:<hex>" form.
type Digest string

// ParseDigest validates s and returns it as a Digest. Hex is lowercased.
func ParseDigest(s string) (Digest, error) {
	algo, hexPart, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return "", fmt.Errorf("malformed digest %q: missing algorithm prefix", s)
	}
	a, err := ParseAlgorithm(algo)
	if err != nil {
		return "", fmt.Errorf("malformed digest %q: %w", s, err)
	}
	hexPart = strings.ToLower(hexPart)
	if len(hexPart) != hexLen {
		return "", fmt.Errorf("malformed digest %q: want %d hex characters, got %d", s, hexLen, len(hexPart))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return "", fmt.Errorf("malformed digest %q: %w", s, err)
	}
	return Digest(string(a) + ":" + hexPart), nil
}

// Algorithm returns the algorithm prefix of d.
func (d Digest) Algorithm() Algorithm {
	algo, _, _ := strings.Cut(string(d), ":")
	return Algorithm(algo)
}

// Hex returns the hex part of d.
func (d Digest) Hex() string {
	_, h, _ := strings.Cut(string(d), ":")
	return h
}

// Short returns an abbreviated form for display.
func (d Digest) Short() string {
	h := d.Hex()
	if len(h) > 12 {
		h = h[:12]
	}
	return string(d.Algorithm()) + ":" + h
}

func (d Digest) String() string {
	return string(d)
}

// Engine computes digests with a fixed algorithm.
type Engine struct {
	algo Algorithm
}

// New returns an engine for algo.
func New(algo Algorithm) (*Engine, error) {
	if _, err := algo.newHash(); err != nil {
		return nil, err
	}
	return &Engine{algo: algo}, nil
}

// Algorithm returns the engine's algorithm.
func (e *Engine) Algorithm() Algorithm {
	return e.algo
}

// Sum consumes r to EOF and returns its digest and byte count.
// On any read error no digest is returned.
func (e *Engine) Sum(r io.Reader) (Digest, int64, error) {
	h, err := e.algo.newHash()
	if err != nil {
		return "", 0, err
	}
	buf := make([]byte, ChunkSize)
	n, err := io.CopyBuffer(h, onlyReader{r}, buf)
	if err != nil {
		return "", 0, fmt.Errorf("checksum: read: %w", err)
	}
	return e.digest(h.Sum(nil)), n, nil
}

// SumFile opens path and returns the digest of its content.
func (e *Engine) SumFile(path string) (Digest, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("checksum: %w", err)
	}
	defer f.Close()
	return e.Sum(f)
}

// SumBytes hashes an in-memory buffer.
func (e *Engine) SumBytes(b []byte) Digest {
	h, err := e.algo.newHash()
	if err != nil {
		panic(err) // algorithm validated in New
	}
	h.Write(b)
	return e.digest(h.Sum(nil))
}

func (e *Engine) digest(sum []byte) Digest {
	return Digest(string(e.algo) + ":" + hex.EncodeToString(sum))
}

// Combine returns a checksum over a set of digests. The input order does not
// matter; the set is sorted before hashing.
// Format: H(domain + 0x00 + d1 + "\n" + d2 + "\n" ...)
func Combine(algo Algorithm, digests []Digest) (Digest, error) {
	h, err := algo.newHash()
	if err != nil {
		return "", err
	}
	sorted := make([]string, len(digests))
	for i, d := range digests {
		sorted[i] = string(d)
	}
	sort.Strings(sorted)

	h.Write([]byte(domainRepository))
	h.Write([]byte{0x00})
	for _, d := range sorted {
		h.Write([]byte(d))
		h.Write([]byte{'\n'})
	}
	return Digest(string(algo) + ":" + hex.EncodeToString(h.Sum(nil))), nil
}

// onlyReader hides WriterTo/ReaderFrom so io.CopyBuffer always uses the
// bounded buffer.
type onlyReader struct {
	io.Reader
}
