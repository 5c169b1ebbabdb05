package static

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned by Resolve when a path canonicalizes to a
// location outside of its root.
var ErrOutsideRoot = errors.New("static: path escapes root")

// Resolve joins the slash separated, possibly percent-encoded path rel
// onto root and returns the canonical result. Symlinks are resolved on
// both sides before checking that the result lies under root, so a
// missing file, a bad escape and an escape through a link all fail.
func Resolve(root, rel string) (string, error) {
	canonRoot, err := canonicalize(root)
	if err != nil {
		return "", fmt.Errorf("static: root %q: %w", root, err)
	}
	decoded, err := url.PathUnescape(rel)
	if err != nil {
		return "", fmt.Errorf("static: %q: %w", rel, err)
	}
	p, err := canonicalize(filepath.Join(canonRoot, filepath.FromSlash(decoded)))
	if err != nil {
		return "", err
	}
	if !within(canonRoot, p) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	return p, nil
}

func canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func within(root, p string) bool {
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}
	return strings.HasPrefix(p, prefix)
}
