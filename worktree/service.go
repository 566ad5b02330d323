package worktree

import (
	"sync"

	cexec "github.com/codenomad/core/exec"
)

// Service provides worktree operations with explicit dependency injection.
// Each Service instance holds its own executor, enabling proper testing and
// avoiding global state.
//
// Mutating operations (Create, CreateSession, Remove) are serialized per
// repository root so concurrent requests for the same slug cannot race
// between the directory-existence check and the git worktree add.
type Service struct {
	executor cexec.CommandExecutor

	mu        sync.Mutex
	rootLocks map[string]*sync.Mutex
}

// NewService creates a new Service with the default real executor.
func NewService() *Service {
	return &Service{executor: cexec.NewRealExecutor()}
}

// NewServiceWithExecutor creates a new Service with a custom executor.
// This is primarily used for testing where a mock executor is needed.
func NewServiceWithExecutor(exec cexec.CommandExecutor) *Service {
	return &Service{executor: exec}
}

// rootLock returns the mutex serializing mutations for a repository root.
func (s *Service) rootLock(repoRoot string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rootLocks == nil {
		s.rootLocks = make(map[string]*sync.Mutex)
	}
	lock, ok := s.rootLocks[repoRoot]
	if !ok {
		lock = &sync.Mutex{}
		s.rootLocks[repoRoot] = lock
	}
	return lock
}
