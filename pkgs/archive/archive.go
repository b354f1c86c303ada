// Package archive extracts source tarballs into build directories.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// Extract unpacks a .tar.gz/.tgz/.tar.xz archive into dest and returns the
// source root: when every entry lives under a single top-level directory
// (the usual release-tarball layout), that directory is returned, otherwise
// dest itself.
func Extract(path, dest string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var r io.Reader
	switch {
	case strings.HasSuffix(path, ".tar.gz"), strings.HasSuffix(path, ".tgz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(path, ".tar.xz"):
		xzr, err := xz.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", path, err)
		}
		r = xzr
	default:
		return "", fmt.Errorf("extract %s: unsupported archive format", path)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", err
	}

	topLevel := ""
	single := true
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", path, err)
		}

		name := filepath.Clean(hdr.Name)
		if name == "." {
			continue
		}
		if name == ".." || strings.HasPrefix(name, ".."+string(os.PathSeparator)) || filepath.IsAbs(name) {
			return "", fmt.Errorf("extract %s: illegal entry path %q", path, hdr.Name)
		}
		if first := strings.SplitN(name, string(os.PathSeparator), 2)[0]; topLevel == "" {
			topLevel = first
		} else if first != topLevel {
			single = false
		}

		target := filepath.Join(dest, name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0o700); err != nil {
				return "", err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return "", err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return "", err
			}
		// Hard links, devices etc. do not occur in source tarballs we care
		// about; skip them.
		}
	}

	if single && topLevel != "" {
		if info, err := os.Stat(filepath.Join(dest, topLevel)); err == nil && info.IsDir() {
			return filepath.Join(dest, topLevel), nil
		}
	}
	return dest, nil
}

func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
