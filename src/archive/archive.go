// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

// Package archive zips folders for backup, optionally with WinZip AES-256
// encryption, and keeps track of the resulting files.
package archive

import (
	"archive/zip"
	"compress/flate"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	aeszip "github.com/yeka/zip"

	"github.com/casjay-forks/vlabstools/src/netshare"
)

const (
	DefaultLevel = 6
	stampFormat  = "20060102_150405"
)

type Options struct {
	Source      string
	Destination string
	// Archive file name, default <source>_YYYYMMDD_HHMMSS.zip
	Name string
	// Non-empty enables AES-256 entries
	Password string
	// Deflate level 1..9, unencrypted archives only
	Level    int
	Excludes []string
	Progress func(done, total int)

	// Clock, replaced in tests
	Now func() time.Time
}

type Result struct {
	Path      string
	Files     int
	Size      int64
	SHA256    string
	Encrypted bool
	Duration  time.Duration
}

// DefaultName builds "<base>_YYYYMMDD_HHMMSS.zip".
func DefaultName(source string, now time.Time) string {
	return filepath.Base(filepath.Clean(source)) + "_" + now.Format(stampFormat) + ".zip"
}

// ArchiveName applies the default name and the .zip suffix.
func ArchiveName(source string, name string, now time.Time) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultName(source, now)
	}
	name = filepath.Base(name)
	if !strings.HasSuffix(strings.ToLower(name), ".zip") {
		name += ".zip"
	}
	return name
}

type entry struct {
	path string
	rel  string
	info os.FileInfo
}

// listFiles walks src and returns regular files not matched by m.
func listFiles(ctx context.Context, src string, m *Matcher, skip string) ([]entry, error) {
	var files []entry

	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() {
			return nil
		}
		// Never include the archive being written
		if path == skip {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if m.Match(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, entry{path: path, rel: rel, info: info})

		return nil
	})

	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })

	return files, err
}

// ZipFolder compresses opts.Source into opts.Destination.
func ZipFolder(ctx context.Context, opts Options) (Result, error) {
	start := time.Now()

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	src := strings.TrimSpace(opts.Source)
	if src == "" {
		return Result{}, netshare.NewInputError("source", "please enter a source folder")
	}
	src, err := filepath.Abs(src)
	if err != nil {
		return Result{}, err
	}
	st, err := os.Stat(src)
	if err != nil || !st.IsDir() {
		return Result{}, netshare.NewInputError("source", "invalid folder: "+opts.Source)
	}

	if strings.TrimSpace(opts.Destination) == "" {
		return Result{}, netshare.NewInputError("destination", "please enter a destination folder")
	}
	dst, err := filepath.Abs(opts.Destination)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return Result{}, fmt.Errorf("create destination: %w", err)
	}

	level := opts.Level
	if level < flate.BestSpeed || level > flate.BestCompression {
		level = DefaultLevel
	}

	matcher, err := NewMatcher(opts.Excludes)
	if err != nil {
		return Result{}, netshare.NewInputError("excludes", err.Error())
	}

	outPath := filepath.Join(dst, ArchiveName(src, opts.Name, now()))

	files, err := listFiles(ctx, src, matcher, outPath)
	if err != nil {
		return Result{}, fmt.Errorf("list files: %w", err)
	}

	total := len(files)
	if opts.Progress != nil {
		opts.Progress(0, total)
	}

	if err := writeArchive(ctx, outPath, files, level, opts.Password, func(done int) {
		if opts.Progress != nil {
			opts.Progress(done, total)
		}
	}); err != nil {
		os.Remove(outPath)
		return Result{}, err
	}

	sum, size, err := SHA256File(outPath)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Path:      outPath,
		Files:     total,
		Size:      size,
		SHA256:    sum,
		Encrypted: opts.Password != "",
		Duration:  time.Since(start),
	}, nil
}

func writeArchive(ctx context.Context, outPath string, files []entry, level int, password string, step func(done int)) (err error) {
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	var create func(e entry) (io.Writer, error)
	var closeZip func() error

	if password != "" {
		zw := aeszip.NewWriter(out)
		// yeka/zip deflates at a fixed level, so level only applies to
		// plain archives
		create = func(e entry) (io.Writer, error) {
			hdr, err := aeszip.FileInfoHeader(e.info)
			if err != nil {
				return nil, err
			}
			hdr.Name = e.rel
			hdr.Method = aeszip.Deflate
			hdr.SetPassword(password)
			hdr.SetEncryptionMethod(aeszip.AES256Encryption)
			return zw.CreateHeader(hdr)
		}
		closeZip = zw.Close
	} else {
		zw := zip.NewWriter(out)
		zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(w, level)
		})
		create = func(e entry) (io.Writer, error) {
			hdr, err := zip.FileInfoHeader(e.info)
			if err != nil {
				return nil, err
			}
			hdr.Name = e.rel
			hdr.Method = zip.Deflate
			return zw.CreateHeader(hdr)
		}
		closeZip = zw.Close
	}

	for i, e := range files {
		if ctx.Err() != nil {
			closeZip()
			return ctx.Err()
		}

		w, err := create(e)
		if err != nil {
			closeZip()
			return fmt.Errorf("add %s: %w", e.rel, err)
		}
		if err := copyFile(w, e.path); err != nil {
			closeZip()
			return fmt.Errorf("add %s: %w", e.rel, err)
		}

		step(i + 1)
	}

	return closeZip()
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}

// SHA256File returns the hex digest and size of a file.
func SHA256File(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}

	return hex.EncodeToString(h.Sum(nil)), n, nil
}
