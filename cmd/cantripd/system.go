// Command cantripd wires the Memory Manager, SDK Runtime, Audio Driver and
// Mailbox/SEC proxy into a single process, the CantripOS analogue of the
// teacher's CreateAndServe entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/cantripos/cantripos"
	"github.com/cantripos/cantripos/audio"
	"github.com/cantripos/cantripos/internal/logging"
	"github.com/cantripos/cantripos/mailbox"
	"github.com/cantripos/cantripos/memmgr"
	"github.com/cantripos/cantripos/mmio"
	"github.com/cantripos/cantripos/sdkruntime"
)

// mailboxKeyValueStore adapts mailbox.Client's context-taking ReadKey/
// WriteKey/DeleteKey to the context-free sdkruntime.KeyValueStore seam: the
// SDK Runtime's single dispatch goroutine never cancels a mailbox round
// trip mid-flight, so a background context is always the right one here.
type mailboxKeyValueStore struct {
	client *mailbox.Client
}

func (m *mailboxKeyValueStore) Read(appID, key string) ([]byte, error) {
	return m.client.ReadKey(context.Background(), appID, key)
}

func (m *mailboxKeyValueStore) Write(appID, key string, value []byte) error {
	return m.client.WriteKey(context.Background(), appID, key, value)
}

func (m *mailboxKeyValueStore) Delete(appID, key string) error {
	return m.client.DeleteKey(context.Background(), appID, key)
}

var _ sdkruntime.KeyValueStore = (*mailboxKeyValueStore)(nil)

// System ties together one Manager, one Runtime, one audio Driver and one
// mailbox Client/Server pair behind the Config tunables.
type System struct {
	Config  cantripos.Config
	Memmgr  *memmgr.Manager
	Runtime *sdkruntime.Runtime
	Audio   *audio.Driver
	Mailbox *mailbox.Client

	logger *logging.Logger

	mu       sync.Mutex
	numApps  int
}

// Hardware is the set of MMIO-backed peripherals a real boot sequence would
// hand to the process; SimRegisters stands in for them off hardware.
type Hardware struct {
	I2SRegs     mmio.Registers
	MailboxRegs mmio.Registers
}

// SimHardware builds an all-simulated Hardware for tests and demos. The
// mailbox side uses a loopback FIFO rather than a flat SimRegisters array:
// a real mailbox is a connected queue between two cores, and only
// LoopbackRegisters reproduces that when both ends of the link run in this
// same process.
func SimHardware() Hardware {
	return Hardware{
		I2SRegs:     mmio.NewSimRegisters(),
		MailboxRegs: mailbox.NewLoopbackRegisters(),
	}
}

// secHandler answers mailbox requests with an in-memory store. Production
// deployments pair cantripd with a real Security Coordinator core on the
// other end of the hardware FIFO; secHandler is the standalone substitute
// run by NewStandaloneSystem for demos and tests that have no such peer.
type secHandler struct {
	kv *cantripos.MemoryKeyValueStore
}

func (h *secHandler) FindFile(ctx context.Context, name string) (*mailbox.FindFileResponse, error) {
	return nil, cantripos.NewError("secHandler.FindFile", cantripos.ErrCodeUnknownError, "no file catalog configured")
}

func (h *secHandler) GetFilePage(ctx context.Context, fid, offset uint32, page []byte) error {
	return cantripos.NewError("secHandler.GetFilePage", cantripos.ErrCodeUnknownError, "no file catalog configured")
}

func (h *secHandler) Test(ctx context.Context, count uint32, page []byte) error { return nil }

func (h *secHandler) GetBuiltins(ctx context.Context) (*mailbox.GetBuiltinsResponse, error) {
	return &mailbox.GetBuiltinsResponse{Names: nil}, nil
}

func (h *secHandler) ReadKey(ctx context.Context, appID, key string) ([]byte, error) {
	return h.kv.Read(appID, key)
}

func (h *secHandler) WriteKey(ctx context.Context, appID, key string, value []byte) error {
	return h.kv.Write(appID, key, value)
}

func (h *secHandler) DeleteKey(ctx context.Context, appID, key string) error {
	return h.kv.Delete(appID, key)
}

var _ mailbox.Handler = (*secHandler)(nil)

// NewSystem boots a System from the given untyped slabs, retype operations,
// timer/ML backends, hardware and an already-wired KeyValueStore (ordinarily
// a mailboxKeyValueStore pointed at a live Security Coordinator). Takes a
// caller-supplied KeyValueStore rather than constructing one itself, so
// tests and the standalone demo can each wire a different implementation.
func NewSystem(
	cfg cantripos.Config,
	ops memmgr.RetypeOps,
	slabs []memmgr.UntypedDesc,
	timers sdkruntime.TimerService,
	ml sdkruntime.MLCoordinator,
	kv sdkruntime.KeyValueStore,
	hw Hardware,
	logger *logging.Logger,
) (*System, error) {
	mgr, err := memmgr.NewManager(ops, logger, slabs)
	if err != nil {
		return nil, err
	}

	audioDriver := audio.New(hw.I2SRegs, logger)

	fifo := mailbox.NewFIFO(hw.MailboxRegs)
	client := mailbox.NewClient(fifo)

	rt := sdkruntime.New(timers, ml, kv, audioDriver, logger)

	return &System{
		Config:  cfg,
		Memmgr:  mgr,
		Runtime: rt,
		Audio:   audioDriver,
		Mailbox: client,
		logger:  logger,
	}, nil
}

// NewStandaloneSystem is NewSystem wired for a process with no live
// Security Coordinator on the other end of the mailbox FIFO: it runs
// secHandler as an in-process responder over the same hardware, so
// key-value and builtin-package requests still work end to end for demos
// and tests.
func NewStandaloneSystem(
	cfg cantripos.Config,
	ops memmgr.RetypeOps,
	slabs []memmgr.UntypedDesc,
	timers sdkruntime.TimerService,
	ml sdkruntime.MLCoordinator,
	hw Hardware,
	logger *logging.Logger,
) (*System, error) {
	fifo := mailbox.NewFIFO(hw.MailboxRegs)
	client := mailbox.NewClient(fifo)
	handler := &secHandler{kv: cantripos.NewMemoryKeyValueStore()}
	server := mailbox.NewServer(fifo, handler)
	go func() {
		for {
			if err := server.ServeOne(context.Background()); err != nil {
				return
			}
		}
	}()

	return NewSystem(cfg, ops, slabs, timers, ml, &mailboxKeyValueStore{client: client}, hw, logger)
}

// RegisterApp admits a new SDK Runtime client, enforcing Config.MaxApps the
// way a real boot-time capability budget would.
func (s *System) RegisterApp(appID string) (sdkruntime.AppID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.numApps >= s.Config.MaxApps {
		return 0, cantripos.NewError("System.RegisterApp", cantripos.ErrCodeOutOfResources, "max concurrent applications reached")
	}
	badge, err := s.Runtime.GetEndpoint(appID)
	if err != nil {
		return 0, err
	}
	s.numApps++
	return badge, nil
}

// AllocStatic retypes a bundle of static-lifetime objects, the kind an
// application can never free or retry: exhausting the static pool leaves
// the process in a state it cannot recover from, so it logs the failure at
// error level and exits the process rather than propagating the error
// up through RegisterApp's normal error return.
func (s *System) AllocStatic(bundle *memmgr.ObjDescBundle) {
	if err := s.Memmgr.Alloc(bundle, memmgr.LifetimeStatic); err != nil {
		s.logger.Error("static allocation pool exhausted, process cannot continue", "error", err)
		os.Exit(1)
	}
}

// Stats renders a human-readable status line, the backbone of `cantripd
// stats`.
func (s *System) Stats() string {
	stats := s.Memmgr.Stats()
	return fmt.Sprintf(
		"apps=%d/%d allocated_bytes=%d free_bytes=%d allocated_objs=%d out_of_memory=%d",
		s.numApps, s.Config.MaxApps, stats.AllocatedBytes, stats.FreeBytes, stats.AllocatedObjs, stats.OutOfMemoryCount,
	)
}
