package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/cantripos/cantripos"
	"github.com/cantripos/cantripos/internal/logging"
	"github.com/cantripos/cantripos/memmgr"
	"github.com/spf13/cobra"
)

// simRetypeOps is an in-memory RetypeOps standing in for the seL4
// Untyped_Retype/Delete/Revoke/Describe syscalls, used by both `serve` and
// `stats` since cantripd has no real kernel to retype against off
// hardware. It tracks each slab's remaining bytes (seeded from bootSlabs)
// so the memory manager's boot-time reclamation carve and per-slab
// accounting have real numbers to work against, and registers every newly
// retyped object as its own slab so a sub-slab carved during reclamation
// can itself be retyped into later.
type simRetypeOps struct {
	mu        sync.Mutex
	next      uint64
	sizes     map[uint32]uint64
	remaining map[uint32]uint64
	owners    map[uint64]uint32
}

func newSimRetypeOps(descs []memmgr.UntypedDesc) *simRetypeOps {
	sizes := make(map[uint32]uint64, len(descs))
	remaining := make(map[uint32]uint64, len(descs))
	for _, d := range descs {
		size := uint64(1) << d.SizeBits
		sizes[d.SlabID] = size
		remaining[d.SlabID] = size
	}
	return &simRetypeOps{sizes: sizes, remaining: remaining, owners: make(map[uint64]uint32)}
}

func (s *simRetypeOps) Retype(slabID uint32, sizeBits uint, count int) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	need := uint64(count) << sizeBits
	if s.remaining[slabID] < need {
		return 0, cantripos.NewError("simRetypeOps.Retype", cantripos.ErrCodeOutOfResources, "simulated slab exhausted")
	}
	s.remaining[slabID] -= need
	s.next++
	s.owners[s.next] = slabID

	newID := uint32(s.next)
	if _, exists := s.sizes[newID]; !exists {
		s.sizes[newID] = need
		s.remaining[newID] = need
	}
	return s.next, nil
}

func (s *simRetypeOps) Delete(objHandle uint64) (uint32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slabID, ok := s.owners[objHandle]
	if !ok {
		return 0, false, cantripos.NewError("simRetypeOps.Delete", cantripos.ErrCodeUnknownError, "unknown handle")
	}
	delete(s.owners, objHandle)
	return slabID, true, nil
}

func (s *simRetypeOps) Revoke(slabID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if size, ok := s.sizes[slabID]; ok {
		s.remaining[slabID] = size
	}
	return nil
}

func (s *simRetypeOps) RemainingBytes(slabID uint32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining[slabID], nil
}

var _ memmgr.RetypeOps = (*simRetypeOps)(nil)

func bootSlabs() []memmgr.UntypedDesc {
	return []memmgr.UntypedDesc{
		{SlabID: 0, SizeBits: 20},
		{SlabID: 1, SizeBits: 16},
	}
}

// buildSystem boots a standalone System: cantripd run on its own, with no
// live Security Coordinator core to pair with over the mailbox, so the
// process answers its own key-value and builtin-package requests in-process.
func buildSystem(logger *logging.Logger) (*System, error) {
	cfg := cantripos.DefaultConfig()
	descs := bootSlabs()
	return NewStandaloneSystem(cfg, newSimRetypeOps(descs), descs, newRealTimerService(), newDemoMLCoordinator(), SimHardware(), logger)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Boot the memory manager, SDK runtime, audio driver and mailbox proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.Default()
			sys, err := buildSystem(logger)
			if err != nil {
				return fmt.Errorf("boot system: %w", err)
			}
			logger.Info("cantripd ready", "max_apps", sys.Config.MaxApps)
			select {}
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Boot the system and print a one-shot memory manager status line",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.Default()
			sys, err := buildSystem(logger)
			if err != nil {
				return fmt.Errorf("boot system: %w", err)
			}
			fmt.Println(sys.Stats())
			for _, line := range sys.Memmgr.Debug() {
				fmt.Println(line)
			}
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:   "cantripd",
		Short: "CantripOS trusted substrate: memory manager, SDK runtime, audio driver, mailbox proxy",
	}
	root.AddCommand(newServeCmd(), newStatsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
