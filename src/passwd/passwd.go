// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

// Package passwd reads the admin password file. Each line is "user:hash"
// where hash is argon2id (bcrypt is accepted and rehashed on login).
package passwd

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	ArgonTime    = 3
	ArgonMemory  = 64 * 1024
	ArgonThreads = 4
	ArgonKeyLen  = 32
	ArgonSaltLen = 16
)

type Data map[string]string

func Parse(text string) (Data, error) {
	data := make(Data)
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		user, hash, ok := strings.Cut(line, ":")
		if !ok || user == "" || hash == "" {
			return nil, errors.New("passwd: error in line " + strconv.Itoa(i+1))
		}

		if _, exist := data[user]; exist {
			return nil, errors.New("passwd: duplicate user " + user + " in line " + strconv.Itoa(i+1))
		}

		data[user] = hash
	}

	return data, nil
}

func LoadFile(path string) (Data, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("passwd: %w", err)
	}
	return Parse(string(b))
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

func (data Data) Check(user string, pass string) bool {
	stored, exist := data[user]
	if !exist {
		return false
	}

	switch {
	case strings.HasPrefix(stored, "$argon2id$"):
		return verifyArgon2(stored, pass)
	case isBcrypt(stored):
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(pass)) == nil
	}

	// Plain text is never accepted
	return false
}

func (data Data) NeedsRehash(user string) bool {
	return isBcrypt(data[user])
}

// HashPassword returns $argon2id$v=19$m=65536,t=3,p=4$salt$hash.
func HashPassword(password string) (string, error) {
	salt := make([]byte, ArgonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, ArgonTime, ArgonMemory, ArgonThreads, ArgonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, ArgonMemory, ArgonTime, ArgonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func verifyArgon2(encoded string, password string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}

	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	hash := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(hash, expected) == 1
}

// Write stores data sorted by user name.
func Write(path string, data Data) error {
	users := make([]string, 0, len(data))
	for user := range data {
		users = append(users, user)
	}
	sort.Strings(users)

	var b strings.Builder
	for _, user := range users {
		b.WriteString(user + ":" + data[user] + "\n")
	}

	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("passwd: %w", err)
	}
	return nil
}

// SetPassword adds or replaces one user, creating the file if needed.
func SetPassword(path string, user string, password string) error {
	data, err := LoadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		data = make(Data)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	data[user] = hash

	return Write(path, data)
}

// Verify checks the credentials and upgrades a bcrypt hash to argon2id
// after a successful login.
func Verify(path string, user string, pass string) (bool, error) {
	data, err := LoadFile(path)
	if err != nil {
		return false, err
	}

	if !data.Check(user, pass) {
		return false, nil
	}

	if data.NeedsRehash(user) {
		if err := SetPassword(path, user, pass); err != nil {
			return true, fmt.Errorf("rehash %s: %w", user, err)
		}
	}

	return true, nil
}

func HasUsers(path string) bool {
	if path == "" {
		return false
	}
	data, err := LoadFile(path)
	return err == nil && len(data) > 0
}
