// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package catalog

import (
	"sort"
	"strings"
)

type Platform string

const (
	Windows Platform = "windows"
	Android Platform = "android"
)

var Platforms = []Platform{Windows, Android}

func (p Platform) Title() string {
	switch p {
	case Windows:
		return "Windows"
	case Android:
		return "Android"
	}
	return string(p)
}

// ParsePlatform is case-insensitive and falls back to Windows.
func ParsePlatform(s string) Platform {
	if strings.EqualFold(strings.TrimSpace(s), string(Android)) {
		return Android
	}
	return Windows
}

type Entry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

const dropbox = "https://www.dropbox.com/scl/fi/"

var defaultWindows = []Entry{
	{"Activate_OW", dropbox + "buicqfdwim1gg3r9wj1gn/Activate_OW.zip?rlkey=m9wmtbdit28atsej7o56zpmt7&st=dq1hrgsa&dl=1"},
	{"Dropbox", "https://www.dropbox.com/download?plat=win"},
	{"GoogleDrive", "https://dl.google.com/drive-file-stream/GoogleDriveSetup.exe"},
	{"Unikey", dropbox + "kqx1it8b72sfek1oyn6nq/UniKey.zip?rlkey=791rk5ngikf9kqub21tbfedzr&st=fxs9clvr&dl=1"},
	{"Vietkey2000", dropbox + "x03tgdg7gfq59dtpryk9c/Vietkey2000.zip?rlkey=jr90ue89tnxf276nfwp391rmk&st=6qvhmt4s&dl=1"},
	{"WinRAR", dropbox + "xu3thzg1kru6blo3pky6d/WinRAR.zip?rlkey=tgmviojwg5q29aodp7qxywrv7&st=8zx1fpq6&dl=1"},
	{"XMind", dropbox + "bf4bm8hcghts1nc8cpu7q/XMind.zip?rlkey=bozsq9lgzwhbc5tu589y05qj9&st=9hj4x86c&dl=1"},
	{"Teams", "https://statics.teams.cdn.office.net/evergreen-assets/DesktopClient/MSTeamsSetup.exe"},
	{"UltraViewer_version_6.6", "https://www.ultraviewer.net/vi/UltraViewer_setup_6.6_vi.exe"},
}

var defaultAndroid = []Entry{
	{"Zalo", "https://zalo.dl.sourceforge.net/project/zalo-apk/latest.apk"},
}

type Catalog struct {
	entries map[Platform][]Entry
}

// New builds a catalog. An empty list keeps the compiled-in defaults for
// that platform.
func New(windows []Entry, android []Entry) *Catalog {
	if len(windows) == 0 {
		windows = defaultWindows
	}
	if len(android) == 0 {
		android = defaultAndroid
	}

	return &Catalog{
		entries: map[Platform][]Entry{
			Windows: clean(windows),
			Android: clean(android),
		},
	}
}

func Default() *Catalog {
	return New(nil, nil)
}

func clean(list []Entry) []Entry {
	out := make([]Entry, 0, len(list))
	for _, e := range list {
		e.Name = strings.TrimSpace(e.Name)
		e.URL = strings.TrimSpace(e.URL)
		if e.Name == "" || e.URL == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Filter returns the entries whose name contains q (case-insensitive),
// sorted by lower-cased name. An empty q matches everything.
func (c *Catalog) Filter(p Platform, q string) []Entry {
	q = strings.ToLower(strings.TrimSpace(q))

	var out []Entry
	for _, e := range c.entries[p] {
		if q == "" || strings.Contains(strings.ToLower(e.Name), q) {
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})

	return out
}

func (c *Catalog) Len(p Platform) int {
	return len(c.entries[p])
}
