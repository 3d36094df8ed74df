// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package passwd

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndCheck(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=4$") {
		t.Error("unexpected hash format", hash)
	}

	data := Data{"admin": hash, "plain": "secret"}

	if !data.Check("admin", "correct horse") {
		t.Error("valid password rejected")
	}
	if data.Check("admin", "wrong") {
		t.Error("wrong password accepted")
	}
	if data.Check("plain", "secret") {
		t.Error("plain text password accepted")
	}
	if data.Check("nobody", "x") {
		t.Error("unknown user accepted")
	}
}

func TestParse(t *testing.T) {
	data, err := Parse("# admins\nadmin:$argon2id$x\n\nops:$2b$y\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 2 || data["ops"] != "$2b$y" {
		t.Error("unexpected data", data)
	}

	for _, bad := range []string{"admin", "admin:", "a:x\na:y"} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestVerifyRehashesBcrypt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwd")

	legacy, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("admin:"+string(legacy)+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	ok, err := Verify(path, "admin", "pw")
	if err != nil || !ok {
		t.Fatal("expected valid login", ok, err)
	}

	data, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(data["admin"], "$argon2id$") {
		t.Error("password was not rehashed")
	}
	if !HasUsers(path) {
		t.Error("expected users in file")
	}
}

func TestBruteForce(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bfp := NewBruteForceProtection(3, time.Minute)
	bfp.now = func() time.Time { return now }

	ip := net.ParseIP("192.0.2.10")

	for i := 0; i < 2; i++ {
		bfp.RecordFailure(ip)
	}
	if bfp.CheckBlocked(ip) {
		t.Fatal("blocked too early")
	}

	bfp.RecordFailure(ip)
	if !bfp.CheckBlocked(ip) {
		t.Fatal("expected lockout")
	}
	if left := bfp.RemainingLockout(ip); left != time.Minute {
		t.Error("unexpected remaining lockout", left)
	}

	now = now.Add(2 * time.Minute)
	if bfp.CheckBlocked(ip) {
		t.Error("lockout should have expired")
	}

	bfp.RecordFailure(ip)
	if bfp.CheckBlocked(ip) {
		t.Error("count should restart after lockout")
	}

	bfp.RecordSuccess(ip)
	now = now.Add(time.Hour)
	if n := bfp.Cleanup(time.Minute); n != 0 {
		t.Error("success should have removed the entry, cleanup removed", n)
	}
}
