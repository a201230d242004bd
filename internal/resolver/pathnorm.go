package resolver

import (
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

var mntRe = regexp.MustCompile(`^/mnt/([A-Za-z])/(.*)$`)
var msysRe = regexp.MustCompile(`^/([A-Za-z])/(.*)$`)

// NormalizePath canonicalizes a working-directory path for comparison across
// environments: case-fold on Windows, map WSL's "/mnt/<d>/…" and MSYS's
// "/<d>/…" to "<d>:/…", collapse "." and ".." segments, and strip trailing
// separators.
func NormalizePath(p string) string {
	if p == "" {
		return p
	}
	if m := mntRe.FindStringSubmatch(p); m != nil {
		p = strings.ToUpper(m[1]) + ":/" + m[2]
	} else if m := msysRe.FindStringSubmatch(p); m != nil && len(m[1]) == 1 {
		p = strings.ToUpper(m[1]) + ":/" + m[2]
	}

	p = filepath.ToSlash(filepath.Clean(filepath.FromSlash(p)))
	p = strings.TrimRight(p, "/")

	if runtime.GOOS == "windows" {
		p = strings.ToLower(p)
	}
	return p
}

// PathWithin reports whether candidate lies at or under root, after
// normalizing both.
func PathWithin(candidate, root string) bool {
	c := NormalizePath(candidate)
	r := NormalizePath(root)
	if c == r {
		return true
	}
	return strings.HasPrefix(c, r+"/")
}
