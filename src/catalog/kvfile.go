// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package catalog

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// readKV parses "key = value" lines. Lines starting with // are comments and
// a trailing backslash continues the value on the next line ("\\" escapes it).
func readKV(data string) ([][2]string, error) {
	var out [][2]string
	seen := make(map[string]bool)

	lines := strings.Split(data, "\n")
	for num := 0; num < len(lines); num++ {
		str := strings.TrimSpace(lines[num])
		if str == "" || strings.HasPrefix(str, "//") {
			continue
		}

		key, val, ok := strings.Cut(str, "=")
		if !ok {
			return nil, errors.New("error in line " + strconv.Itoa(num+1) + ": expected '=' delimiter")
		}
		key = strings.TrimSpace(key)
		val, more := continued(strings.TrimSpace(val))

		for more && num+1 < len(lines) {
			num++
			var part string
			part, more = continued(strings.TrimSpace(lines[num]))
			val += part
		}

		if seen[key] {
			return nil, errors.New("duplicate key: " + key)
		}
		seen[key] = true

		out = append(out, [2]string{key, val})
	}

	return out, nil
}

func continued(s string) (string, bool) {
	if strings.HasSuffix(s, `\\`) {
		return s[:len(s)-1], false
	}
	if strings.HasSuffix(s, `\`) {
		return s[:len(s)-1], true
	}
	return s, false
}

// ParseKV reads "windows.Name = URL" and "android.Name = URL" entries.
func ParseKV(data string) (windows []Entry, android []Entry, err error) {
	pairs, err := readKV(data)
	if err != nil {
		return nil, nil, err
	}

	for _, kv := range pairs {
		platform, name, ok := strings.Cut(kv[0], ".")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, nil, errors.New("invalid key " + kv[0] + ": expected <platform>.<name>")
		}

		e := Entry{Name: strings.TrimSpace(name), URL: kv[1]}
		switch strings.ToLower(platform) {
		case string(Windows):
			windows = append(windows, e)
		case string(Android):
			android = append(android, e)
		default:
			return nil, nil, errors.New("unknown platform " + platform)
		}
	}

	return windows, android, nil
}

// Merge returns base with entries replaced or added by name (case-insensitive).
func Merge(base []Entry, extra []Entry) []Entry {
	out := append([]Entry(nil), base...)
	for _, e := range extra {
		replaced := false
		for i := range out {
			if strings.EqualFold(out[i].Name, e.Name) {
				out[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, e)
		}
	}
	return out
}

// Load builds a catalog from the configured lists plus an optional KV file.
func Load(windows []Entry, android []Entry, kvPath string) (*Catalog, error) {
	if len(windows) == 0 {
		windows = defaultWindows
	}
	if len(android) == 0 {
		android = defaultAndroid
	}

	if kvPath != "" {
		b, err := os.ReadFile(kvPath)
		if err != nil {
			return nil, err
		}
		w, a, err := ParseKV(string(b))
		if err != nil {
			return nil, errors.New(kvPath + ": " + err.Error())
		}
		windows = Merge(windows, w)
		android = Merge(android, a)
	}

	return New(windows, android), nil
}
