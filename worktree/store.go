package worktree

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codenomad/core/logger"
)

// MapVersion is the supported schema version of the worktree map document.
const MapVersion = 1

// mapFileName is the map document's name under the repository's .codenomad
// directory.
const mapFileName = "worktreeMap.json"

// Map is the durable per-repository record of which worktree each session
// lineage is pinned to.
//
// Every slug referenced by DefaultWorktreeSlug or a map value must name an
// existing worktree or be RootSlug. The store does not enforce this: callers
// prune stale references after removing a worktree (see PruneSlug).
type Map struct {
	Version                   int               `json:"version"`
	DefaultWorktreeSlug       string            `json:"defaultWorktreeSlug"`
	ParentSessionWorktreeSlug map[string]string `json:"parentSessionWorktreeSlug"`
}

// DefaultMap returns the map used for repositories with no (or an unreadable)
// map document.
func DefaultMap() Map {
	return Map{
		Version:                   MapVersion,
		DefaultWorktreeSlug:       RootSlug,
		ParentSessionWorktreeSlug: map[string]string{},
	}
}

// mapFilePath returns the map document location for a repository root.
func mapFilePath(repoRoot string) string {
	return filepath.Join(repoRoot, ".codenomad", mapFileName)
}

// ReadMap loads the worktree map for the repository containing folder. A
// missing, malformed, or wrong-version document yields the default map, never
// an error. Reading also ensures the repository's local ignore rules cover
// the map artifacts.
func (s *Service) ReadMap(ctx context.Context, folder string) Map {
	info := s.ResolveRepoRoot(ctx, folder)
	if info.IsGitRepo {
		s.ensureLocalIgnore(info.Root)
	}

	data, err := os.ReadFile(mapFilePath(info.Root))
	if err != nil {
		return DefaultMap()
	}

	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		logger.WithComponent("worktree").Warn("malformed worktree map, using defaults",
			"repoRoot", info.Root, "error", err)
		return DefaultMap()
	}
	if m.Version != MapVersion {
		logger.WithComponent("worktree").Warn("unsupported worktree map version, using defaults",
			"repoRoot", info.Root, "version", m.Version)
		return DefaultMap()
	}
	if m.DefaultWorktreeSlug == "" {
		m.DefaultWorktreeSlug = RootSlug
	}
	if m.ParentSessionWorktreeSlug == nil {
		m.ParentSessionWorktreeSlug = map[string]string{}
	}
	return m
}

// WriteMap persists the worktree map for the repository containing folder.
// The document is written to a temp file in the same directory and renamed
// over the target so readers never observe a half-written map.
func (s *Service) WriteMap(ctx context.Context, folder string, m Map) error {
	info := s.ResolveRepoRoot(ctx, folder)
	if info.IsGitRepo {
		s.ensureLocalIgnore(info.Root)
	}

	m.Version = MapVersion
	if m.DefaultWorktreeSlug == "" {
		m.DefaultWorktreeSlug = RootSlug
	}
	if m.ParentSessionWorktreeSlug == nil {
		m.ParentSessionWorktreeSlug = map[string]string{}
	}

	path := mapFilePath(info.Root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create .codenomad directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal worktree map: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), mapFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp map file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write worktree map: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write worktree map: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace worktree map: %w", err)
	}
	return nil
}

// PruneSlug removes every reference to a deleted worktree slug from the map
// and resets the default to root if it pointed at the deleted slug. Callers
// invoke this immediately after a successful Remove to keep the map
// consistent with the worktrees that actually exist.
func (s *Service) PruneSlug(ctx context.Context, folder, slug string) error {
	m := s.ReadMap(ctx, folder)

	changed := false
	if m.DefaultWorktreeSlug == slug {
		m.DefaultWorktreeSlug = RootSlug
		changed = true
	}
	for session, mapped := range m.ParentSessionWorktreeSlug {
		if mapped == slug {
			delete(m.ParentSessionWorktreeSlug, session)
			changed = true
		}
	}

	if !changed {
		return nil
	}
	logger.WithComponent("worktree").Info("pruned worktree slug from map", "slug", slug)
	return s.WriteMap(ctx, folder, m)
}

// localIgnoreEntries are the repository-relative paths kept out of version
// control via .git/info/exclude. Unlike .gitignore these rules are local to
// the clone and never committed.
var localIgnoreEntries = []string{
	worktreesSubdir + "/",
	".codenomad/" + mapFileName,
}

// ensureLocalIgnore idempotently appends the managed artifacts to the
// repository's local exclude file. Failures are logged and swallowed: the
// worst outcome is an untracked .codenomad directory showing up in git
// status.
func (s *Service) ensureLocalIgnore(repoRoot string) {
	log := logger.WithComponent("worktree")

	gitDir := filepath.Join(repoRoot, ".git")
	if info, err := os.Stat(gitDir); err != nil || !info.IsDir() {
		// Linked worktrees have a .git file; their excludes live in the
		// main repository, which maintains its own on first read there.
		return
	}

	excludePath := filepath.Join(gitDir, "info", "exclude")
	existing, err := os.ReadFile(excludePath)
	if err != nil && !os.IsNotExist(err) {
		log.Debug("cannot read local exclude file", "path", excludePath, "error", err)
		return
	}

	present := map[string]bool{}
	for _, line := range strings.Split(string(existing), "\n") {
		present[strings.TrimSpace(line)] = true
	}

	var missing []string
	for _, entry := range localIgnoreEntries {
		if !present[entry] {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return
	}

	if err := os.MkdirAll(filepath.Dir(excludePath), 0o755); err != nil {
		log.Debug("cannot create git info directory", "error", err)
		return
	}

	content := string(existing)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += strings.Join(missing, "\n") + "\n"

	if err := os.WriteFile(excludePath, []byte(content), 0o644); err != nil {
		log.Debug("cannot update local exclude file", "path", excludePath, "error", err)
		return
	}
	log.Debug("added local ignore entries", "entries", missing)
}
