// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

// Package passgen generates random passwords that cover every selected
// character group and estimates their strength.
package passgen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"sort"
)

const (
	MinLength     = 8
	MaxLength     = 128
	DefaultLength = 16

	MinQuantity     = 1
	MaxQuantity     = 50
	DefaultQuantity = 5
)

const (
	lower   = "abcdefghijklmnopqrstuvwxyz"
	upper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits  = "0123456789"
	symbols = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

	// Characters easily confused with each other
	similar = "Il1O0oS5Z2B8G6"
	// Punctuation that breaks quoting in shells and config files
	ambiguous = "{}[]()/\\'\"`~,;:.<>"
)

var (
	ErrNoCharsets = errors.New("no character sets selected")
	ErrTooShort   = errors.New("length too short for the required groups")
)

type Options struct {
	Lower            bool
	Upper            bool
	Digits           bool
	Symbols          bool
	ExcludeSimilar   bool
	ExcludeAmbiguous bool
}

// DefaultOptions matches the form defaults: letters and digits, no look-alikes.
func DefaultOptions() Options {
	return Options{
		Lower:          true,
		Upper:          true,
		Digits:         true,
		ExcludeSimilar: true,
	}
}

func without(set string, drop string) []rune {
	skip := make(map[rune]struct{}, len(drop))
	for _, r := range drop {
		skip[r] = struct{}{}
	}

	out := make([]rune, 0, len(set))
	for _, r := range set {
		if _, ok := skip[r]; !ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// BuildCharsets returns the enabled character groups and their sorted union.
func BuildCharsets(opts Options) (groups [][]rune, combined []rune) {
	letterDrop := ""
	if opts.ExcludeSimilar {
		letterDrop = similar
	}
	symbolDrop := ""
	if opts.ExcludeAmbiguous {
		symbolDrop = ambiguous
	}

	if opts.Lower {
		groups = append(groups, without(lower, letterDrop))
	}
	if opts.Upper {
		groups = append(groups, without(upper, letterDrop))
	}
	if opts.Digits {
		groups = append(groups, without(digits, letterDrop))
	}
	if opts.Symbols {
		groups = append(groups, without(symbols, symbolDrop))
	}

	seen := make(map[rune]struct{})
	for _, g := range groups {
		for _, r := range g {
			if _, ok := seen[r]; !ok {
				seen[r] = struct{}{}
				combined = append(combined, r)
			}
		}
	}
	sort.Slice(combined, func(i, j int) bool { return combined[i] < combined[j] })

	return groups, combined
}

func pick(src io.Reader, set []rune) (rune, error) {
	n, err := rand.Int(src, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}

// Generator draws from a cryptographic random source.
type Generator struct {
	Rand io.Reader
}

func (g Generator) source() io.Reader {
	if g.Rand == nil {
		return rand.Reader
	}
	return g.Rand
}

// Generate builds one password of length runes containing at least one
// character from every group.
func (g Generator) Generate(length int, groups [][]rune, combined []rune) (string, error) {
	if len(groups) == 0 || len(combined) == 0 {
		return "", ErrNoCharsets
	}
	if length < len(groups) {
		return "", fmt.Errorf("%w: length %d, %d groups", ErrTooShort, length, len(groups))
	}

	src := g.source()
	out := make([]rune, 0, length)

	for _, grp := range groups {
		if len(grp) == 0 {
			return "", ErrNoCharsets
		}
		r, err := pick(src, grp)
		if err != nil {
			return "", err
		}
		out = append(out, r)
	}

	for len(out) < length {
		r, err := pick(src, combined)
		if err != nil {
			return "", err
		}
		out = append(out, r)
	}

	// Fisher-Yates so the guaranteed characters are not at the front
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(src, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		k := j.Int64()
		out[i], out[k] = out[k], out[i]
	}

	return string(out), nil
}

// Generate uses crypto/rand.
func Generate(length int, groups [][]rune, combined []rune) (string, error) {
	return Generator{}.Generate(length, groups, combined)
}

// EntropyBits is length*log2(alphabet), zero for degenerate inputs.
func EntropyBits(length int, alphabet int) float64 {
	if length <= 0 || alphabet <= 1 {
		return 0
	}
	return float64(length) * math.Log2(float64(alphabet))
}

func StrengthLabel(bits float64) string {
	switch {
	case bits < 50:
		return "Weak"
	case bits < 80:
		return "Fair"
	case bits < 110:
		return "Strong"
	default:
		return "Very strong"
	}
}

// Batch is the result of one generator form submission.
type Batch struct {
	Passwords []string
	Alphabet  int
	Bits      float64
	Strength  string
}

// ClampLength and ClampQuantity keep form input inside the page limits.
func ClampLength(n int) int {
	if n == 0 {
		return DefaultLength
	}
	return clamp(n, MinLength, MaxLength)
}

func ClampQuantity(n int) int {
	if n == 0 {
		return DefaultQuantity
	}
	return clamp(n, MinQuantity, MaxQuantity)
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// NewBatch generates quantity passwords with the given options.
func NewBatch(length int, quantity int, opts Options) (Batch, error) {
	length = ClampLength(length)
	quantity = ClampQuantity(quantity)

	groups, combined := BuildCharsets(opts)
	if len(combined) == 0 {
		return Batch{}, ErrNoCharsets
	}

	batch := Batch{
		Alphabet: len(combined),
		Bits:     EntropyBits(length, len(combined)),
	}
	batch.Strength = StrengthLabel(batch.Bits)

	for i := 0; i < quantity; i++ {
		pw, err := Generate(length, groups, combined)
		if err != nil {
			return Batch{}, err
		}
		batch.Passwords = append(batch.Passwords, pw)
	}

	return batch, nil
}
