package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/codenomad/core/logger"
)

// Kind distinguishes the repository's top-level checkout from managed
// worktrees.
type Kind string

const (
	KindRoot     Kind = "root"
	KindWorktree Kind = "worktree"
)

// Descriptor describes one checkout of a repository. Descriptors are
// recomputed on every List call and never cached.
type Descriptor struct {
	Slug      string
	Directory string
	Kind      Kind
	Branch    string
}

// RepoInfo is the result of resolving a folder's repository root.
type RepoInfo struct {
	Root      string
	IsGitRepo bool
}

// worktreeRecord is one parsed entry of `git worktree list --porcelain`.
type worktreeRecord struct {
	path     string
	head     string
	branch   string
	detached bool
}

// worktreesSubdir is where managed worktrees live, relative to the repo root.
const worktreesSubdir = ".codenomad/worktrees"

// ResolveRepoRoot discovers the repository top-level for a folder. A folder
// that is not inside a git repository is treated as its own root with
// IsGitRepo false; all other operations short-circuit to root-only behavior
// in that case.
func (s *Service) ResolveRepoRoot(ctx context.Context, folder string) RepoInfo {
	output, err := s.executor.Output(ctx, folder, "git", "rev-parse", "--show-toplevel")
	if err != nil {
		logger.WithComponent("worktree").Debug("not a git repository", "folder", folder, "error", err)
		return RepoInfo{Root: folder, IsGitRepo: false}
	}
	root := strings.TrimSpace(string(output))
	if root == "" {
		return RepoInfo{Root: folder, IsGitRepo: false}
	}
	return RepoInfo{Root: root, IsGitRepo: true}
}

// List returns the worktrees of the repository containing folder. The first
// descriptor is always the synthesized root entry; every other checkout gets
// a slug derived from its branch or HEAD, disambiguated with @2-style
// suffixes on collision. Listing failures degrade to the root descriptor
// alone.
func (s *Service) List(ctx context.Context, folder string) []Descriptor {
	info := s.ResolveRepoRoot(ctx, folder)
	root := Descriptor{Slug: RootSlug, Directory: info.Root, Kind: KindRoot}
	if !info.IsGitRepo {
		return []Descriptor{root}
	}

	output, err := s.executor.Output(ctx, info.Root, "git", "worktree", "list", "--porcelain")
	if err != nil {
		logger.WithComponent("worktree").Warn("worktree listing failed, returning root only",
			"repoRoot", info.Root, "error", err)
		return []Descriptor{root}
	}

	descriptors := []Descriptor{root}
	taken := map[string]bool{RootSlug: true}
	for _, rec := range parsePorcelain(string(output)) {
		// The top-level checkout is represented by the synthesized root
		// entry, never by a derived slug.
		if rec.path == info.Root {
			continue
		}
		slug := disambiguate(deriveSlug(rec), taken)
		descriptors = append(descriptors, Descriptor{
			Slug:      slug,
			Directory: rec.path,
			Kind:      KindWorktree,
			Branch:    rec.branch,
		})
	}
	return descriptors
}

// parsePorcelain parses `git worktree list --porcelain` output. Records are
// separated by blank lines; unknown attributes are ignored.
func parsePorcelain(output string) []worktreeRecord {
	var records []worktreeRecord
	var current worktreeRecord
	flush := func() {
		if current.path != "" {
			records = append(records, current)
		}
		current = worktreeRecord{}
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			current.path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			ref := strings.TrimPrefix(line, "branch ")
			current.branch = strings.TrimPrefix(ref, "refs/heads/")
		case line == "detached":
			current.detached = true
		}
	}
	flush()
	return records
}

// Create adds a managed worktree for slug under the repository's private
// worktree directory. It creates a new branch named after the slug from the
// current HEAD; if that branch already exists, the worktree attaches to it
// instead. An existing target directory is an error, never overwritten.
func (s *Service) Create(ctx context.Context, folder, slug string) (*Descriptor, error) {
	slug = strings.TrimSpace(slug)
	if !IsValidSlug(slug) {
		return nil, fmt.Errorf("invalid slug %q", slug)
	}
	if slug == RootSlug {
		return nil, fmt.Errorf("invalid slug %q: reserved for the repository root", slug)
	}
	dirName := sanitizeDirName(slug)
	if dirName == "" {
		return nil, fmt.Errorf("invalid slug %q: no usable directory name", slug)
	}

	info := s.ResolveRepoRoot(ctx, folder)
	if !info.IsGitRepo {
		return nil, fmt.Errorf("cannot create worktree: %s is not a git repository", folder)
	}

	lock := s.rootLock(info.Root)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(info.Root, filepath.FromSlash(worktreesSubdir), dirName)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("worktree directory already exists: %s", dir)
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create worktrees directory: %w", err)
	}

	log := logger.WithComponent("worktree")
	log.Info("creating worktree", "slug", slug, "directory", dir, "repoRoot", info.Root)

	output, err := s.executor.CombinedOutput(ctx, info.Root, "git", "worktree", "add", "-b", slug, dir, "HEAD")
	if err != nil {
		if !strings.Contains(string(output), "already exists") {
			return nil, fmt.Errorf("git worktree add failed: %s", strings.TrimSpace(string(output)))
		}
		// The branch exists from an earlier worktree; attach to it instead
		// of creating a new one.
		log.Info("branch already exists, attaching worktree", "branch", slug)
		output, err = s.executor.CombinedOutput(ctx, info.Root, "git", "worktree", "add", dir, slug)
		if err != nil {
			return nil, fmt.Errorf("git worktree add failed: %s", strings.TrimSpace(string(output)))
		}
	}

	return &Descriptor{Slug: slug, Directory: dir, Kind: KindWorktree, Branch: slug}, nil
}

// CreateSession creates a worktree with an auto-generated slug for a session
// that did not name one. branchPrefix (from settings, e.g. "alice/") is
// prepended to the generated name.
func (s *Service) CreateSession(ctx context.Context, folder, branchPrefix string) (*Descriptor, error) {
	slug := branchPrefix + "wt-" + uuid.New().String()[:8]
	return s.Create(ctx, folder, slug)
}

// Remove deletes a worktree checkout via git, then prunes stale worktree
// metadata. Prune failures are swallowed: the checkout is already gone and
// git repairs its bookkeeping on the next worktree command.
func (s *Service) Remove(ctx context.Context, folder, directory string, force bool) error {
	info := s.ResolveRepoRoot(ctx, folder)
	if !info.IsGitRepo {
		return fmt.Errorf("cannot remove worktree: %s is not a git repository", folder)
	}

	lock := s.rootLock(info.Root)
	lock.Lock()
	defer lock.Unlock()

	log := logger.WithComponent("worktree")
	log.Info("removing worktree", "directory", directory, "force", force)

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, directory)

	output, err := s.executor.CombinedOutput(ctx, info.Root, "git", args...)
	if err != nil {
		return fmt.Errorf("git worktree remove failed: %s", strings.TrimSpace(string(output)))
	}

	if pruneOut, pruneErr := s.executor.CombinedOutput(ctx, info.Root, "git", "worktree", "prune"); pruneErr != nil {
		log.Debug("worktree prune failed", "error", pruneErr, "output", strings.TrimSpace(string(pruneOut)))
	}
	return nil
}
