// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package config

import (
	"time"

	"github.com/casjay-forks/vlabstools/src/logger"
	"github.com/casjay-forks/vlabstools/src/netshare"
)

const Software = "VLabsTools"

// Config is the runtime state shared by the web pages and the JSON API.
type Config struct {
	Log logger.Logger

	// Applied to scans, WHOIS lookups and backups
	RateLimitTools *netshare.RateLimitSystem

	Version string

	Title   string
	TagLine string

	// true = open, false = admin login required
	Public     bool
	TrustProxy bool

	// argon2id password file for the admin login
	PasswordFile string
	// Cookie signing key
	SessionSecret []byte
	// Seconds
	SessionMaxAge int

	// Failed logins before a client is locked out, and for how long
	BruteForceMax     int
	BruteForceLockout time.Duration

	// Rows shown on the history views
	HistoryLimit int
}
