// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package archive

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Matcher tests slash-separated relative paths against exclude globs.
// Like shell fnmatch, "*" also crosses "/" so "*.log" matches "a/b.log".
type Matcher struct {
	globs []glob.Glob
}

func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{}

	for _, pat := range patterns {
		pat = strings.TrimSpace(pat)
		if pat == "" {
			continue
		}

		g, err := glob.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", pat, err)
		}
		m.globs = append(m.globs, g)
	}

	return m, nil
}

// Match also tries the path with a leading "/" so "/build/*" anchors at the root.
func (m *Matcher) Match(rel string) bool {
	if m == nil {
		return false
	}
	for _, g := range m.globs {
		if g.Match(rel) || g.Match("/"+rel) {
			return true
		}
	}
	return false
}

// SplitPatterns accepts patterns separated by commas or new lines.
func SplitPatterns(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == '\r' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
