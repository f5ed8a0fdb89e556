// Package checksum provides algorithm-tagged content digests used by the
// edit protocol to detect corruption independent of any transport.
package checksum

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"drift/internal/errors"
)

type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	MD5    Algorithm = "md5"
)

// Checksum is a digest tagged with the algorithm that produced it, rendered
// as "algo:hex". The zero value means "no checksum declared".
type Checksum struct {
	Algo Algorithm
	Hex  string
}

func (c Checksum) IsZero() bool {
	return c.Algo == "" && c.Hex == ""
}

func (c Checksum) String() string {
	if c.IsZero() {
		return ""
	}
	return string(c.Algo) + ":" + c.Hex
}

// Sum digests content with the default algorithm.
func Sum(content []byte) Checksum {
	h := sha256.Sum256(content)
	return Checksum{Algo: SHA256, Hex: hex.EncodeToString(h[:])}
}

// SumWith digests content with an explicit algorithm.
func SumWith(algo Algorithm, content []byte) (Checksum, error) {
	switch algo {
	case SHA256:
		return Sum(content), nil
	case MD5:
		h := md5.Sum(content)
		return Checksum{Algo: MD5, Hex: hex.EncodeToString(h[:])}, nil
	default:
		return Checksum{}, errors.Decode("unknown checksum algorithm %q", algo)
	}
}

// Parse reads an "algo:hex" string. A bare hex string is accepted as sha256
// for compatibility with stores that record raw digests.
func Parse(s string) (Checksum, error) {
	if s == "" {
		return Checksum{}, nil
	}

	algo := SHA256
	if i := strings.IndexByte(s, ':'); i >= 0 {
		algo = Algorithm(s[:i])
		s = s[i+1:]
	}

	if _, err := hex.DecodeString(s); err != nil {
		return Checksum{}, errors.Decode("malformed checksum %q", s)
	}

	switch algo {
	case SHA256:
		if len(s) != sha256.Size*2 {
			return Checksum{}, errors.Decode("sha256 checksum has length %d, want %d", len(s), sha256.Size*2)
		}
	case MD5:
		if len(s) != md5.Size*2 {
			return Checksum{}, errors.Decode("md5 checksum has length %d, want %d", len(s), md5.Size*2)
		}
	default:
		return Checksum{}, errors.Decode("unknown checksum algorithm %q", algo)
	}

	return Checksum{Algo: algo, Hex: s}, nil
}

// Verify checks content against the declared checksum. A zero checksum
// verifies anything.
func (c Checksum) Verify(content []byte) error {
	if c.IsZero() {
		return nil
	}

	actual, err := SumWith(c.Algo, content)
	if err != nil {
		return err
	}
	if actual.Hex != c.Hex {
		return errors.Checksum("expected %s, got %s", c.String(), actual.String())
	}
	return nil
}
