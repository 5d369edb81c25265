// Package checksum creates, parses and verifies the .sha1/.md5 files that
// accompany artifacts in a repository.
package checksum

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/fileutil"
)

// NotAvailable marks an empty or unreadable checksum file.
const NotAvailable = "N/A"

type Algorithm struct {
	Name string
	Ext  string
	Size int // hex length
	New  func() hash.Hash
}

var (
	SHA1 = Algorithm{Name: "SHA-1", Ext: ".sha1", Size: 40, New: sha1.New}
	MD5  = Algorithm{Name: "MD5", Ext: ".md5", Size: 32, New: md5.New}

	All = []Algorithm{SHA1, MD5}
)

type Status int

const (
	Valid Status = iota
	Missing
	Invalid
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Missing:
		return "missing"
	}
	return "invalid"
}

// Parse extracts the digest from the content of a checksum file.
func Parse(data []byte, alg Algorithm) string {
	data = bytes.TrimSpace(data)

	// Handle empty checksum files
	if len(data) == 0 {
		return NotAvailable
	}

	// There are checksum files with additional data, e.g.
	//   "51d28a27d919ce8690a40f4f335b9d591ceb16e9  abbot-0.12.3.jar"
	//   "MD5 (abbot-0.12.3.jar) = 1f5ac1d3ae2a4d7c8ab86d1c2bbd4d33"
	for _, part := range strings.Fields(string(data)) {
		if len(part) == alg.Size && isHexString(part) {
			return strings.ToLower(part)
		}
	}
	return NotAvailable
}

// isHexString checks if a string contains only hex characters
func isHexString(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// Compute reads the file once and returns the hex digests keyed by extension.
func Compute(path string, algs ...Algorithm) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("unable to open %s: %w", path, err)
	}
	defer f.Close()
	return ComputeReader(f, algs...)
}

func ComputeReader(r io.Reader, algs ...Algorithm) (map[string]string, error) {
	hashes := make([]hash.Hash, len(algs))
	writers := make([]io.Writer, len(algs))
	for i, alg := range algs {
		hashes[i] = alg.New()
		writers[i] = hashes[i]
	}
	if _, err := io.Copy(io.MultiWriter(writers...), r); err != nil {
		return nil, xerrors.Errorf("unable to read content: %w", err)
	}
	sums := make(map[string]string, len(algs))
	for i, alg := range algs {
		sums[alg.Ext] = hex.EncodeToString(hashes[i].Sum(nil))
	}
	return sums, nil
}

// Read returns the digest stored next to path for the algorithm.
func Read(path string, alg Algorithm) (string, error) {
	data, err := os.ReadFile(path + alg.Ext)
	if err != nil {
		return "", err
	}
	return Parse(data, alg), nil
}

// Write stores digest as the checksum file of path.
func Write(path string, alg Algorithm, digest string) error {
	if err := fileutil.WriteFile(path+alg.Ext, strings.NewReader(digest+"\n")); err != nil {
		return xerrors.Errorf("unable to write %s checksum of %s: %w", alg.Name, filepath.Base(path), err)
	}
	return nil
}

// Create computes and writes checksum files for path, overwriting existing ones.
func Create(path string, algs ...Algorithm) error {
	sums, err := Compute(path, algs...)
	if err != nil {
		return err
	}
	for _, alg := range algs {
		if err = Write(path, alg, sums[alg.Ext]); err != nil {
			return err
		}
	}
	return nil
}

// Verify checks the checksum files of path against its content.
func Verify(path string, algs ...Algorithm) (map[string]Status, error) {
	sums, err := Compute(path, algs...)
	if err != nil {
		return nil, err
	}
	result := make(map[string]Status, len(algs))
	for _, alg := range algs {
		stored, err := Read(path, alg)
		switch {
		case errors.Is(err, os.ErrNotExist):
			result[alg.Ext] = Missing
		case err != nil:
			return nil, xerrors.Errorf("unable to read checksum file: %w", err)
		case strings.EqualFold(stored, sums[alg.Ext]):
			result[alg.Ext] = Valid
		default:
			result[alg.Ext] = Invalid
		}
	}
	return result, nil
}

// Fix writes the checksum files that are missing or invalid and returns the
// extensions that were written.
func Fix(path string, algs ...Algorithm) ([]string, error) {
	status, err := Verify(path, algs...)
	if err != nil {
		return nil, err
	}
	var fixed []string
	for _, alg := range algs {
		if status[alg.Ext] == Valid {
			continue
		}
		sums, err := Compute(path, alg)
		if err != nil {
			return fixed, err
		}
		if err = Write(path, alg, sums[alg.Ext]); err != nil {
			return fixed, err
		}
		fixed = append(fixed, alg.Ext)
	}
	return fixed, nil
}

// ByExt returns the algorithm for a checksum file extension.
func ByExt(ext string) (Algorithm, bool) {
	for _, alg := range All {
		if alg.Ext == ext {
			return alg, true
		}
	}
	return Algorithm{}, false
}
