package fs

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Slash cleans p and unifies separators to '/'. Containment is decided on this
// display form, not on filesystem identity: a symlink inside the root that
// points elsewhere is not detected.
func Slash(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}

// EnsureContained returns nil when candidate is root itself or lies below it,
// and an error wrapping ErrEscape otherwise.
func EnsureContained(candidate, root string) error {
	if root == "" {
		return fmt.Errorf("%w: no served root", ErrEscape)
	}
	c := Slash(candidate)
	r := Slash(root)
	if c == r {
		return nil
	}
	prefix := r
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if strings.HasPrefix(c, prefix) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrEscape, candidate)
}

// Index is the relative label shown above a listing: the root's own name at
// the root, "/<root name>/<rel>" below it.
func Index(folder, root string) string {
	r := Slash(root)
	f := Slash(folder)
	if f == r {
		return filepath.Base(root)
	}
	rel := strings.TrimPrefix(f, r)
	rel = strings.TrimPrefix(rel, "/")
	return "/" + filepath.Base(root) + "/" + rel
}
