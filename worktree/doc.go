// Package worktree manages git worktree isolation for workspaces.
//
// The package is organized into focused modules:
//   - service.go: Service struct, constructors, per-repository locking
//   - manager.go: repo root resolution, worktree listing/creation/removal
//   - slug.go: slug derivation, validation, directory-name sanitization
//   - store.go: the durable per-repository worktree map
package worktree
