// Package walker finds the Markdown documents an extract run renders.
package walker

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultMaxFileSize is the largest document processed (4 MB).
const DefaultMaxFileSize int64 = 4 << 20

// DefaultInclude matches Markdown documents at any depth.
var DefaultInclude = []string{"**/*.md", "**/*.markdown"}

// FileInfo holds metadata about a single document found during traversal.
type FileInfo struct {
	Path        string // Absolute path on disk.
	RelPath     string // Path relative to the root directory.
	Size        int64  // File size in bytes.
	ContentHash string // SHA-256 hex digest of the file content.
}

// WalkerConfig controls the behaviour of the Walk function.
type WalkerConfig struct {
	RootDir     string   // Root directory to walk.
	Include     []string // Glob patterns; empty means DefaultInclude.
	Exclude     []string // Glob patterns; matching files are excluded.
	MaxFileSize int64    // Files larger than this are skipped (0 = use default).
}

// Walk returns every document below config.RootDir that passes the
// filter, in lexical order. Unreadable entries are skipped rather than
// failing the walk.
func Walk(config WalkerConfig) ([]FileInfo, error) {
	root, err := filepath.Abs(config.RootDir)
	if err != nil {
		return nil, fmt.Errorf("walker: resolve root: %w", err)
	}
	maxSize := config.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	filter, err := newFilter(config.Include, config.Exclude, filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil, fmt.Errorf("walker: %w", err)
	}

	var files []FileInfo
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		switch {
		case d.IsDir():
			if filter.skipDir(rel, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		case !d.Type().IsRegular() || !filter.keep(rel):
			return nil
		}

		if fi, ok := describe(path, maxSize); ok {
			fi.RelPath = filepath.ToSlash(rel)
			files = append(files, fi)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walker: traversal: %w", err)
	}
	return files, nil
}

// Stat describes a single document outside of a walk. It fails for
// missing, oversized or binary files.
func Stat(path string) (FileInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("walker: resolve %s: %w", path, err)
	}
	fi, ok := describe(abs, DefaultMaxFileSize)
	if !ok {
		return FileInfo{}, fmt.Errorf("walker: %s is not a readable text document", path)
	}
	fi.RelPath = filepath.ToSlash(filepath.Base(abs))
	return fi, nil
}

func describe(path string, maxSize int64) (FileInfo, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() > maxSize {
		return FileInfo{}, false
	}
	if isBinary(path) {
		return FileInfo{}, false
	}
	hash, err := HashFile(path)
	if err != nil {
		return FileInfo{}, false
	}
	return FileInfo{Path: path, Size: info.Size(), ContentHash: hash}, true
}

// isBinary sniffs the head of a file for NUL bytes. Unreadable files
// count as binary.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return true
	}
	return bytes.IndexByte(head[:n], 0) >= 0
}

// HashFile computes the SHA-256 digest of the given file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
