// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package archive

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// runPattern matches "<prefix>YYYYMMDD_HHMMSS.zip" and nothing else, so
// prefix "data_" never selects the archives of "data_export_".
func runPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(prefix) + `\d{8}_\d{6}\.zip$`)
}

// Prune keeps the newest keep archives in dir named prefix plus a run
// timestamp and removes the rest. A keep of zero or less keeps everything.
func Prune(dir string, prefix string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type archiveFile struct {
		path    string
		modTime int64
	}
	var found []archiveFile
	pattern := runPattern(prefix)

	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !pattern.MatchString(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, archiveFile{path: filepath.Join(dir, name), modTime: info.ModTime().UnixNano()})
	}

	// Newest first, names carry the timestamp so they break ties
	sort.Slice(found, func(i, j int) bool {
		if found[i].modTime != found[j].modTime {
			return found[i].modTime > found[j].modTime
		}
		return found[i].path > found[j].path
	})

	var removed []string
	for i := keep; i < len(found); i++ {
		if err := os.Remove(found[i].path); err != nil {
			return removed, err
		}
		removed = append(removed, found[i].path)
	}

	return removed, nil
}
