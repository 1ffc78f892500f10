package download

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/zonemedia/internal/errx"
	"golang.org/x/crypto/blake2b"
)

// IDPrefix starts every download id.
const IDPrefix = "dl_"

// Key identifies a download by its (source, target filename) pair.
type Key struct {
	Source   string
	Filename string
}

// ID is a stable, separator-free id for the pair: "dl_" followed by the hex
// BLAKE2b-128 of source and filename. The same pair always maps to the same
// id, so re-requesting a pair resumes instead of restarting.
func (k Key) ID() string {
	h, _ := blake2b.New(16, nil)
	// Length-prefixing keeps ("ab","c") and ("a","bc") apart.
	fmt.Fprintf(h, "%d:%s|%d:%s", len(k.Source), k.Source, len(k.Filename), k.Filename)
	return IDPrefix + hex.EncodeToString(h.Sum(nil))
}

func (k Key) Validate() error {
	if strings.TrimSpace(k.Source) == "" {
		return errx.New(errx.CodeValidation, "download source required")
	}
	return ValidateFilename(k.Filename)
}

// ValidateFilename rejects names that would escape the download directory.
func ValidateFilename(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errx.New(errx.CodeValidation, "invalid download filename "+fmt.Sprintf("%q", name))
	case strings.ContainsAny(name, `/\`) || filepath.Base(name) != name:
		return errx.New(errx.CodeValidation, "download filename must not contain path separators")
	}
	return nil
}

// IsID reports whether s looks like a download id.
func IsID(s string) bool {
	if !strings.HasPrefix(s, IDPrefix) || len(s) != len(IDPrefix)+32 {
		return false
	}
	_, err := hex.DecodeString(s[len(IDPrefix):])
	return err == nil
}
