// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package passgen

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestBuildCharsets(t *testing.T) {
	groups, combined := BuildCharsets(DefaultOptions())

	if len(groups) != 3 {
		t.Fatal("expected 3 groups but got", len(groups))
	}
	for _, r := range combined {
		if strings.ContainsRune(similar, r) {
			t.Error("look-alike character", string(r), "not excluded")
		}
	}
	// 26-2 lower, 26-6 upper, 10-6 digits
	if len(groups[0]) != 24 || len(groups[1]) != 20 || len(groups[2]) != 4 {
		t.Error("unexpected group sizes", len(groups[0]), len(groups[1]), len(groups[2]))
	}
	if len(combined) != 48 {
		t.Error("expected 48 characters but got", len(combined))
	}
	for i := 1; i < len(combined); i++ {
		if combined[i-1] >= combined[i] {
			t.Fatal("combined alphabet is not sorted and unique")
		}
	}
}

func TestBuildCharsetsSymbols(t *testing.T) {
	groups, _ := BuildCharsets(Options{Symbols: true})
	if len(groups) != 1 || len(groups[0]) != 32 {
		t.Fatal("expected 32 symbols")
	}

	groups, _ = BuildCharsets(Options{Symbols: true, ExcludeAmbiguous: true})
	for _, r := range groups[0] {
		if strings.ContainsRune(ambiguous, r) {
			t.Error("ambiguous symbol", string(r), "not excluded")
		}
	}
}

func TestGenerateCoversGroups(t *testing.T) {
	groups, combined := BuildCharsets(Options{Lower: true, Upper: true, Digits: true, Symbols: true})

	for i := 0; i < 200; i++ {
		pw, err := Generate(4, groups, combined)
		if err != nil {
			t.Fatal(err)
		}
		if len([]rune(pw)) != 4 {
			t.Fatal("expected length 4 but got", pw)
		}
		for _, grp := range groups {
			if !strings.ContainsAny(pw, string(grp)) {
				t.Fatal("password", pw, "misses a group")
			}
		}
	}
}

func TestGenerateErrors(t *testing.T) {
	if _, err := Generate(16, nil, nil); !errors.Is(err, ErrNoCharsets) {
		t.Error("expected ErrNoCharsets but got", err)
	}

	groups, combined := BuildCharsets(Options{Lower: true, Upper: true, Digits: true})
	if _, err := Generate(2, groups, combined); !errors.Is(err, ErrTooShort) {
		t.Error("expected ErrTooShort but got", err)
	}
}

func TestEntropyBits(t *testing.T) {
	testData := []struct {
		length   int
		alphabet int
		exp      float64
	}{
		{16, 64, 96},
		{8, 2, 8},
		{0, 64, 0},
		{-1, 64, 0},
		{16, 1, 0},
		{10, 10, 10 * math.Log2(10)},
	}

	for _, td := range testData {
		res := EntropyBits(td.length, td.alphabet)
		if math.Abs(res-td.exp) > 1e-9 {
			t.Error("expected", td.exp, "but got", res, "(input:", td.length, td.alphabet, ")")
		}
	}
}

func TestStrengthLabel(t *testing.T) {
	testData := map[float64]string{
		0:     "Weak",
		49.9:  "Weak",
		50:    "Fair",
		79.99: "Fair",
		80:    "Strong",
		109:   "Strong",
		110:   "Very strong",
		300:   "Very strong",
	}

	for bits, exp := range testData {
		if res := StrengthLabel(bits); res != exp {
			t.Error("expected", exp, "but got", res, "(input:", bits, ")")
		}
	}
}

func TestNewBatchClamps(t *testing.T) {
	batch, err := NewBatch(500, 100, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Passwords) != MaxQuantity {
		t.Error("expected", MaxQuantity, "passwords but got", len(batch.Passwords))
	}
	if len(batch.Passwords[0]) != MaxLength {
		t.Error("expected length", MaxLength, "but got", len(batch.Passwords[0]))
	}

	batch, err = NewBatch(0, 0, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Passwords) != DefaultQuantity || len(batch.Passwords[0]) != DefaultLength {
		t.Error("expected defaults but got", len(batch.Passwords), len(batch.Passwords[0]))
	}

	if _, err := NewBatch(16, 1, Options{}); !errors.Is(err, ErrNoCharsets) {
		t.Error("expected ErrNoCharsets but got", err)
	}
}
