package worktree

import (
	"fmt"
	"strings"
)

// RootSlug is the reserved slug for the repository's top-level checkout.
// No derived slug may collide with it.
const RootSlug = "root"

// MaxSlugLength is the maximum length for a worktree slug.
const MaxSlugLength = 200

// IsValidSlug reports whether a slug is acceptable for a managed worktree.
// Slashes are intentionally permitted to support branch-like names.
func IsValidSlug(slug string) bool {
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" || len(trimmed) > MaxSlugLength {
		return false
	}
	for _, r := range trimmed {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// deriveSlug computes the slug for a listed worktree record: the checked-out
// branch name when there is one, a detached marker from the HEAD commit
// otherwise, and the directory basename as a last resort.
func deriveSlug(rec worktreeRecord) string {
	if rec.branch != "" {
		return rec.branch
	}
	if rec.head != "" {
		head := rec.head
		if len(head) > 7 {
			head = head[:7]
		}
		return "detached-" + head
	}
	return "worktree-" + baseName(rec.path)
}

// disambiguate makes slug unique against already-taken slugs by appending
// @2, @3, ... in encounter order. The caller seeds taken with RootSlug so a
// branch literally named "root" never shadows the synthesized root entry.
func disambiguate(slug string, taken map[string]bool) string {
	if !taken[slug] {
		taken[slug] = true
		return slug
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s@%d", slug, n)
		if !taken[candidate] {
			taken[candidate] = true
			return candidate
		}
	}
}

// sanitizeDirName converts a slug into a filesystem-safe directory name:
// path separators, whitespace, and characters disallowed on common
// filesystems become hyphens, runs of hyphens collapse, and edge hyphens are
// trimmed. Returns an empty string when nothing usable remains.
func sanitizeDirName(slug string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(slug) {
		switch {
		case r == '/' || r == '\\':
			b.WriteByte('-')
		case r == ' ' || r == '\t':
			b.WriteByte('-')
		case strings.ContainsRune(`<>:"|?*`, r):
			b.WriteByte('-')
		case r < 0x20 || r == 0x7f:
			b.WriteByte('-')
		default:
			b.WriteRune(r)
		}
	}

	name := b.String()
	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}
	return strings.Trim(name, "-")
}

// baseName returns the last path element without depending on the host
// separator, since worktree paths in porcelain output always use slashes.
func baseName(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
