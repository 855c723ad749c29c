// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package compression handles the per-block compression negotiated in the UFDP handshake
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/pierrec/lz4/v4"
)

// Algorithm is a single compression algorithm. Its value is also its bit in a Set
type Algorithm uint8

const (
	None   Algorithm = 0x00
	Snappy Algorithm = 0x01
	Gzip   Algorithm = 0x04
	Lz4    Algorithm = 0x08
)

// preference lists the supported algorithms from most to least preferred
var preference = []Algorithm{Lz4, Snappy, Gzip}

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case Snappy:
		return "snappy"
	case Gzip:
		return "gzip"
	case Lz4:
		return "lz4"
	}
	return fmt.Sprintf("Algorithm(0x%02x)", uint8(a))
}

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported compression algorithm")
	// ErrIncompressible is returned when compressing would not make the block smaller
	ErrIncompressible = errors.New("block is incompressible")
	ErrTooLarge       = errors.New("decompressed block exceeds maximum size")
)

// Set is the compression bitmap carried in a handshake request
type Set uint8

// All is every algorithm this package implements
const All = Set(Snappy) | Set(Gzip) | Set(Lz4)

// NewSet builds a set from individual algorithms
func NewSet(algs ...Algorithm) Set {
	var s Set
	for _, a := range algs {
		s |= Set(a)
	}
	return s
}

// ParseSet parses a comma separated list of algorithm names
func ParseSet(s string) (Set, error) {
	var ret Set
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "", "none":
		case "snappy":
			ret |= Set(Snappy)
		case "gzip":
			ret |= Set(Gzip)
		case "lz4":
			ret |= Set(Lz4)
		default:
			return 0, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, name)
		}
	}
	return ret, nil
}

// Contains reports whether the algorithm is in the set
func (s Set) Contains(a Algorithm) bool {
	return a != None && Set(a)&s == Set(a)
}

// Negotiate returns the algorithms supported by both sides
func (s Set) Negotiate(other Set) Set {
	return s & other & All
}

// Preferred returns the best algorithm in the set, or None
func (s Set) Preferred() Algorithm {
	for _, a := range preference {
		if s.Contains(a) {
			return a
		}
	}
	return None
}

func (s Set) String() string {
	var names []string
	for _, a := range preference {
		if s.Contains(a) {
			names = append(names, a.String())
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Compress compresses a block. It returns ErrIncompressible when the result would not be
// smaller than the input, in which case the block should be sent as is.
func Compress(alg Algorithm, block []byte) ([]byte, error) {
	var out []byte
	switch alg {
	case Snappy:
		out = s2.EncodeSnappy(nil, block)
	case Gzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(block); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		out = buf.Bytes()
	case Lz4:
		dst := make([]byte, lz4.CompressBlockBound(len(block)))
		var c lz4.Compressor
		n, err := c.CompressBlock(block, dst)
		if err != nil {
			return nil, err
		}
		// A zero length means lz4 could not compress the input
		if n == 0 {
			return nil, ErrIncompressible
		}
		out = dst[:n]
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
	if len(out) >= len(block) {
		return nil, ErrIncompressible
	}
	return out, nil
}

// Decompress reverses Compress. The output may not exceed maxSize bytes.
func Decompress(alg Algorithm, data []byte, maxSize int) ([]byte, error) {
	switch alg {
	case None:
		if len(data) > maxSize {
			return nil, ErrTooLarge
		}
		return data, nil
	case Snappy:
		n, err := s2.DecodedLen(data)
		if err != nil {
			return nil, err
		}
		if n > maxSize {
			return nil, ErrTooLarge
		}
		return s2.Decode(nil, data)
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		out, err := io.ReadAll(io.LimitReader(r, int64(maxSize)+1))
		if err != nil {
			return nil, err
		}
		if len(out) > maxSize {
			return nil, ErrTooLarge
		}
		return out, nil
	case Lz4:
		dst := make([]byte, maxSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			if errors.Is(err, lz4.ErrInvalidSourceShortBuffer) {
				return nil, ErrTooLarge
			}
			return nil, err
		}
		return dst[:n], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
}
