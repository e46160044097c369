// Package memmgr tracks untyped memory slabs and retypes them into concrete
// capability-backed objects on behalf of applications.
package memmgr

import (
	"sort"
	"sync"

	"github.com/cantripos/cantripos"
	"github.com/cantripos/cantripos/internal/logging"
)

// ErrStaticPoolExhausted is returned when a static-lifetime allocation
// cannot be satisfied by any slab in the static pool. Static allocations
// have no fallback and no recovery path, so callers (cmd/cantripd) treat
// this as fatal rather than retryable.
var ErrStaticPoolExhausted = cantripos.NewError("memmgr.allocStatic", cantripos.ErrCodeOutOfResources, "static allocation pool exhausted")

// Lifetime distinguishes objects reclaimed at process exit (Normal) from
// objects that live for the lifetime of the system (Static).
type Lifetime int

const (
	LifetimeNormal Lifetime = iota
	LifetimeStatic
)

// minSlabBits is the smallest sub-slab the boot-time reclamation carve will
// produce; below this the kernel's own bookkeeping overhead would exceed
// the slab's usable space.
const minSlabBits = 8

// RetypeOps abstracts the capability-retype operations so tests can run
// without a live kernel. A production build backs this with actual seL4
// Untyped_Retype/Revoke/Describe syscalls; tests back it with an in-memory
// simulator.
type RetypeOps interface {
	// Retype converts count objects of 2^sizeBits bytes each out of the
	// untyped object identified by slabID, returning the new object's
	// tracking handle. ErrCodeOutOfResources signals the slab has
	// insufficient remaining space; the caller advances to the next
	// candidate slab.
	Retype(slabID uint32, sizeBits uint, count int) (objHandle uint64, err error)
	// Delete releases a previously retyped object, reporting which slab it
	// was carved from and whether this was the last outstanding reference
	// to that allocation (the kernel delete primitive reports both).
	Delete(objHandle uint64) (slabID uint32, lastRef bool, err error)
	// Revoke reclaims every capability descended from slabID, the way a
	// tainted boot-time slab (one the rootserver already retyped from
	// before handing control to the memory manager) must be cleared before
	// its remaining bytes can be trusted.
	Revoke(slabID uint32) error
	// RemainingBytes reports how many bytes of slabID are still untyped.
	RemainingBytes(slabID uint32) (uint64, error)
}

// UntypedDesc describes one untyped region as handed to the process at
// boot, before any reclamation: a (capability, size, provenance) triple
// mirroring the bootinfo descriptor list a real seL4 rootserver hands off.
type UntypedDesc struct {
	SlabID uint32
	SizeBits uint
	// Device marks a device-backed slab (e.g. MMIO), which is pooled
	// untouched rather than carved into allocatable sub-slabs.
	Device bool
	// Tainted marks a slab the rootserver already retyped children from
	// before boot; it must be revoked before its remaining bytes are
	// trustworthy.
	Tainted bool
}

// UntypedSlab tracks one untyped memory region and how much of it has been
// carved out by prior retypes.
type UntypedSlab struct {
	SlabID           uint32
	SizeBits         uint
	FreeBytes        uint64 // usable space, after rootserver/carve overhead
	AllocatedBytes   uint64
	AllocatedObjects int
}

// ObjDesc describes a single object to retype: its kind, size and count.
type ObjDesc struct {
	Kind     string
	SizeBits uint
	Count    int
}

func (o ObjDesc) sizeBytes() uint64 {
	return uint64(o.Count) * (uint64(1) << o.SizeBits)
}

// ObjDescBundle is a set of objects allocated together, tracked as a unit so
// they can be freed together.
type ObjDescBundle struct {
	Objs    []ObjDesc
	Handles []uint64 // populated by Alloc, one per Objs entry
}

// Stats mirrors the bookkeeping counters the memory manager exposes for
// diagnostics and the stats subcommand.
type Stats struct {
	AllocatedBytes      uint64
	FreeBytes           uint64
	TotalRequestedBytes uint64
	OverheadBytes       uint64
	AllocatedObjs       int
	TotalRequestedObjs  int
	SlabTooSmallCount   int
	OutOfMemoryCount    int
}

// Manager is the memory manager: it owns the device, normal and static
// untyped slab pools and serves Alloc/Free requests from the SDK Runtime on
// behalf of badged applications.
type Manager struct {
	mu sync.Mutex

	ops    RetypeOps
	logger *logging.Logger

	// UseBestFit selects the normal-lifetime allocation policy: best-fit
	// (scan every slab, pick the one that leaves the least slack) when
	// true, rotating-first-fit (advance a cursor, take the first slab that
	// fits) when false. Defaults to true.
	UseBestFit bool

	deviceUntypeds []UntypedSlab
	untypeds       []UntypedSlab
	staticUntypeds []UntypedSlab
	curSlab        int
	curStatic      int

	totalBytes     uint64
	allocatedBytes uint64
	requestedBytes uint64
	overheadBytes  uint64
	allocatedObjs  int
	requestedObjs  int
	slabTooSmall   int
	outOfMemory    int
}

// NewManager seeds a Manager from the untyped descriptors handed to the
// process at boot: device slabs are pooled untouched, tainted slabs are
// revoked before their remaining bytes are trusted, and any non-device slab
// left with a partial remainder has its unallocated tail reclaimed into
// smaller sub-slabs. At least one non-device slab is required.
func NewManager(ops RetypeOps, logger *logging.Logger, descs []UntypedDesc) (*Manager, error) {
	m := &Manager{ops: ops, logger: logger, UseBestFit: true}

	for _, desc := range descs {
		if desc.Device {
			m.initDeviceSlab(desc)
			continue
		}
		if desc.Tainted {
			if err := ops.Revoke(desc.SlabID); err != nil && m.logger != nil {
				m.logger.Warn("revoke of tainted slab failed", "slab", desc.SlabID, "error", err)
			}
		}
		m.reclaimSlab(desc)
	}

	if len(m.untypeds) == 0 {
		return nil, cantripos.NewError("memmgr.NewManager", cantripos.ErrCodeOutOfResources, "no untyped slabs supplied")
	}

	// Sort descending by free space so allocBestFit's linear scan tends to
	// find a good candidate early.
	sort.Slice(m.untypeds, func(i, j int) bool {
		return m.untypeds[i].FreeBytes > m.untypeds[j].FreeBytes
	})

	if len(m.staticUntypeds) == 0 {
		// Seed the static pool with the smallest normal slab.
		last := len(m.untypeds) - 1
		m.staticUntypeds = append(m.staticUntypeds, m.untypeds[last])
		m.untypeds = m.untypeds[:last]
	}

	return m, nil
}

func (m *Manager) initDeviceSlab(desc UntypedDesc) {
	remaining, err := m.ops.RemainingBytes(desc.SlabID)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("device slab query failed", "slab", desc.SlabID, "error", err)
		}
		return
	}
	m.deviceUntypeds = append(m.deviceUntypeds, UntypedSlab{SlabID: desc.SlabID, SizeBits: desc.SizeBits, FreeBytes: remaining})
}

// reclaimSlab implements the Initialization algorithm's tail-reclamation
// step for one non-device slab: discard it if nothing of it remains, keep
// it whole if it is entirely untouched, otherwise carve its unallocated
// tail into the largest well-aligned sub-slabs findBestSlab can find, plus
// one final half-size slab. Bytes lost along the way (to rootserver
// pre-allocation, or to carve misalignment) accumulate into overheadBytes.
func (m *Manager) reclaimSlab(desc UntypedDesc) {
	slabSize := uint64(1) << desc.SizeBits
	remaining, err := m.ops.RemainingBytes(desc.SlabID)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("slab query failed", "slab", desc.SlabID, "error", err)
		}
		return
	}

	switch {
	case remaining == 0:
		m.overheadBytes += slabSize

	case remaining == slabSize:
		m.untypeds = append(m.untypeds, UntypedSlab{SlabID: desc.SlabID, SizeBits: desc.SizeBits, FreeBytes: remaining})
		m.totalBytes += remaining

	default:
		reclaimed := m.carveTail(desc, remaining)
		m.totalBytes += reclaimed
		if slabSize > reclaimed {
			m.overheadBytes += slabSize - reclaimed
		}
	}
}

// carveTail repeatedly splits the unallocated tail of desc into sub-slabs
// via findBestSlab, then retypes one final half-size slab, returning the
// total bytes successfully reclaimed into m.untypeds.
func (m *Manager) carveTail(desc UntypedDesc, remaining uint64) uint64 {
	halfBits := desc.SizeBits - 1
	var reclaimed uint64

	for {
		bits, ok := findBestSlab(m.ops, desc.SlabID, desc.SizeBits, halfBits)
		if !ok {
			break
		}
		handle, err := m.ops.Retype(desc.SlabID, bits, 1)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("reclamation carve failed", "slab", desc.SlabID, "bits", bits, "error", err)
			}
			break
		}
		size := uint64(1) << bits
		m.untypeds = append(m.untypeds, UntypedSlab{SlabID: uint32(handle), SizeBits: bits, FreeBytes: size})
		reclaimed += size
	}

	if handle, err := m.ops.Retype(desc.SlabID, halfBits, 1); err == nil {
		size := uint64(1) << halfBits
		m.untypeds = append(m.untypeds, UntypedSlab{SlabID: uint32(handle), SizeBits: halfBits, FreeBytes: size})
		reclaimed += size
	} else if m.logger != nil {
		m.logger.Warn("half-size reclamation failed", "slab", desc.SlabID, "error", err)
	}

	return reclaimed
}

// findBestSlab locates the largest sub-slab of at most 2^halfBits bytes
// that the kernel can carve out of slabID's current remaining space while
// still leaving room for the eventual final half-size slab, preferring an
// alignment boundary the kernel does not need to round up to (zero
// misalignment) over the smallest nonzero misalignment it must otherwise
// pay for. Returns false once nothing fits.
func findBestSlab(ops RetypeOps, slabID uint32, origSizeBits, halfBits uint) (uint, bool) {
	if halfBits <= minSlabBits {
		return 0, false
	}
	remaining, err := ops.RemainingBytes(slabID)
	if err != nil {
		return 0, false
	}
	halfSlabSize := uint64(1) << halfBits
	if remaining <= halfSlabSize {
		return 0, false
	}
	// budget is how much of the current remainder can be spent on a carve
	// (plus its misalignment loss) without eating into the final half-size
	// slab this reclamation pass always ends with.
	budget := remaining - halfSlabSize
	used := (uint64(1) << origSizeBits) - remaining

	bestBits, minMisalign, found := uint(0), budget, false
	for bits := halfBits - 1; bits >= minSlabBits; bits-- {
		slabSize := uint64(1) << bits
		misalign := alignUp(used, bits) - used
		if slabSize+misalign <= budget {
			if misalign == 0 {
				return bits, true
			}
			if misalign < minMisalign {
				bestBits, minMisalign, found = bits, misalign, true
			}
		}
		if bits == minSlabBits {
			break
		}
	}
	return bestBits, found
}

// alignUp mimics the kernel's alignment rounding for an Untyped_Retype: the
// result is the smallest multiple of 2^bits at or above base.
func alignUp(base uint64, bits uint) uint64 {
	mask := (uint64(1) << bits) - 1
	return (base + mask) &^ mask
}

// Alloc retypes every object in bundle. Static-lifetime bundles round-robin
// across the static pool. Normal-lifetime bundles use whichever of
// best-fit or rotating-first-fit m.UseBestFit selects.
func (m *Manager) Alloc(bundle *ObjDescBundle, lifetime Lifetime) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lifetime == LifetimeStatic {
		return m.allocStatic(bundle)
	}
	if m.UseBestFit {
		return m.allocBestFit(bundle)
	}
	return m.allocRotatingFirstFit(bundle)
}

func (m *Manager) allocStatic(bundle *ObjDescBundle) error {
	if len(m.staticUntypeds) == 0 {
		return cantripos.NewError("memmgr.allocStatic", cantripos.ErrCodeOutOfResources, "no static slabs")
	}
	first := m.curStatic
	idx := first
	bundle.Handles = make([]uint64, len(bundle.Objs))

	for i, od := range bundle.Objs {
		for {
			handle, err := m.ops.Retype(m.staticUntypeds[idx].SlabID, od.SizeBits, od.Count)
			if err == nil {
				bundle.Handles[i] = handle
				m.staticUntypeds[idx].AllocatedObjects += od.Count
				m.staticUntypeds[idx].AllocatedBytes += od.sizeBytes()
				break
			}
			if !cantripos.IsCode(err, cantripos.ErrCodeOutOfResources) {
				return cantripos.WrapError("memmgr.allocStatic", cantripos.ErrCodeUnknownError, err)
			}
			idx = (idx + 1) % len(m.staticUntypeds)
			if idx == first {
				return ErrStaticPoolExhausted
			}
		}
	}
	m.curStatic = idx
	return nil
}

func (m *Manager) allocBestFit(bundle *ObjDescBundle) error {
	bundle.Handles = make([]uint64, len(bundle.Objs))

	var allocatedBytes uint64
	var allocatedObjs int

	for i, od := range bundle.Objs {
		bestIdx := -1
		var bestRemaining uint64

		for idx := range m.untypeds {
			slab := &m.untypeds[idx]
			alignedFree := alignUp(slab.AllocatedBytes, od.SizeBits)
			needed := alignedFree - slab.AllocatedBytes + od.sizeBytes()
			if needed > slab.FreeBytes-slab.AllocatedBytes {
				continue
			}
			remaining := slab.FreeBytes - slab.AllocatedBytes - needed
			if bestIdx == -1 || remaining < bestRemaining {
				bestIdx, bestRemaining = idx, remaining
			}
			if remaining == 0 {
				break
			}
		}

		if bestIdx == -1 {
			m.outOfMemory++
			if m.logger != nil {
				m.logger.Debug("allocation request failed", "reason", "out of space", "obj", od.Kind)
			}
			return cantripos.NewError("memmgr.Alloc", cantripos.ErrCodeAllocFailed, "no slab fits object")
		}

		slab := &m.untypeds[bestIdx]
		handle, err := m.ops.Retype(slab.SlabID, od.SizeBits, od.Count)
		if err != nil {
			if cantripos.IsCode(err, cantripos.ErrCodeOutOfResources) {
				m.slabTooSmall++
				m.outOfMemory++
				return cantripos.NewError("memmgr.Alloc", cantripos.ErrCodeAllocFailed, "retype reported insufficient space")
			}
			return cantripos.WrapError("memmgr.Alloc", cantripos.ErrCodeUnknownError, err)
		}

		bundle.Handles[i] = handle
		slab.AllocatedObjects += od.Count
		slab.AllocatedBytes = alignUp(slab.AllocatedBytes, od.SizeBits) + od.sizeBytes()

		allocatedObjs += od.Count
		allocatedBytes += od.sizeBytes()
	}

	m.allocatedBytes += allocatedBytes
	m.allocatedObjs += allocatedObjs
	m.requestedBytes += allocatedBytes
	m.requestedObjs += allocatedObjs

	return nil
}

// allocRotatingFirstFit retypes each object from the first slab (starting
// at the cursor left by the previous call) with enough remaining space,
// advancing the cursor on every miss; it fails the whole bundle once it has
// cycled through every slab without finding room for one object.
func (m *Manager) allocRotatingFirstFit(bundle *ObjDescBundle) error {
	if len(m.untypeds) == 0 {
		m.outOfMemory++
		return cantripos.NewError("memmgr.Alloc", cantripos.ErrCodeAllocFailed, "no untyped slabs")
	}
	bundle.Handles = make([]uint64, len(bundle.Objs))

	var allocatedBytes uint64
	var allocatedObjs int
	idx := m.curSlab % len(m.untypeds)

	for i, od := range bundle.Objs {
		first := idx
		for {
			slab := &m.untypeds[idx]
			handle, err := m.ops.Retype(slab.SlabID, od.SizeBits, od.Count)
			if err == nil {
				bundle.Handles[i] = handle
				slab.AllocatedObjects += od.Count
				slab.AllocatedBytes = alignUp(slab.AllocatedBytes, od.SizeBits) + od.sizeBytes()
				allocatedObjs += od.Count
				allocatedBytes += od.sizeBytes()
				break
			}
			if !cantripos.IsCode(err, cantripos.ErrCodeOutOfResources) {
				return cantripos.WrapError("memmgr.Alloc", cantripos.ErrCodeUnknownError, err)
			}
			m.slabTooSmall++
			idx = (idx + 1) % len(m.untypeds)
			if idx == first {
				m.outOfMemory++
				return cantripos.NewError("memmgr.Alloc", cantripos.ErrCodeAllocFailed, "no slab fits object")
			}
		}
	}
	m.curSlab = idx

	m.allocatedBytes += allocatedBytes
	m.allocatedObjs += allocatedObjs
	m.requestedBytes += allocatedBytes
	m.requestedObjs += allocatedObjs
	return nil
}

// Free deletes every object handle in bundle. Global counters are always
// decremented by the request size (guarded against underflow); the owning
// slab's own bookkeeping is only touched when the kernel reports this
// delete as the last reference, at which point its allocated_objects is
// decremented and, once it reaches zero, its allocated_bytes is reset to
// zero rather than drifting from per-object alignment padding.
func (m *Manager) Free(bundle *ObjDescBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, od := range bundle.Objs {
		if i >= len(bundle.Handles) {
			break
		}
		slabID, lastRef, err := m.ops.Delete(bundle.Handles[i])
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("delete failed", "obj", od.Kind, "error", err)
			}
		} else if lastRef {
			m.decrementSlab(slabID, od.Count)
		}

		size := od.sizeBytes()
		if size <= m.allocatedBytes {
			m.allocatedBytes -= size
		} else {
			if m.logger != nil {
				m.logger.Debug("underflow on free", "obj", od.Kind)
			}
			m.allocatedBytes = 0
		}
		if od.Count <= m.allocatedObjs {
			m.allocatedObjs -= od.Count
		} else {
			m.allocatedObjs = 0
		}
	}
	return nil
}

// decrementSlab reduces slabID's allocated_objects by count (floored at
// zero) and, once it reaches zero, resets allocated_bytes so a
// fully-freed slab never reports residual alignment padding as allocated.
func (m *Manager) decrementSlab(slabID uint32, count int) {
	slab := m.findSlab(slabID)
	if slab == nil {
		return
	}
	if count >= slab.AllocatedObjects {
		slab.AllocatedObjects = 0
	} else {
		slab.AllocatedObjects -= count
	}
	if slab.AllocatedObjects == 0 {
		slab.AllocatedBytes = 0
	}
}

func (m *Manager) findSlab(slabID uint32) *UntypedSlab {
	for idx := range m.untypeds {
		if m.untypeds[idx].SlabID == slabID {
			return &m.untypeds[idx]
		}
	}
	for idx := range m.staticUntypeds {
		if m.staticUntypeds[idx].SlabID == slabID {
			return &m.staticUntypeds[idx]
		}
	}
	return nil
}

// Stats returns a point-in-time snapshot of memory manager bookkeeping.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		AllocatedBytes:      m.allocatedBytes,
		FreeBytes:           m.totalBytes - m.allocatedBytes,
		TotalRequestedBytes: m.requestedBytes,
		OverheadBytes:       m.overheadBytes,
		AllocatedObjs:       m.allocatedObjs,
		TotalRequestedObjs:  m.requestedObjs,
		SlabTooSmallCount:   m.slabTooSmall,
		OutOfMemoryCount:    m.outOfMemory,
	}
}

// Debug returns a per-slab diagnostic listing, with the current static and
// rotating-first-fit slabs marked, for the stats subcommand.
func (m *Manager) Debug() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lines []string
	for _, ut := range m.deviceUntypeds {
		lines = append(lines, "d "+formatSlabLine(ut, false))
	}
	for i, ut := range m.untypeds {
		lines = append(lines, formatSlabLine(ut, !m.UseBestFit && i == m.curSlab))
	}
	for i, ut := range m.staticUntypeds {
		lines = append(lines, formatSlabLine(ut, i == m.curStatic))
	}
	return lines
}

func formatSlabLine(ut UntypedSlab, isCurrent bool) string {
	marker := " "
	if isCurrent {
		marker = "*"
	}
	return marker + " slab " + formatUint(uint64(ut.SlabID)) +
		" bits " + formatUint(uint64(ut.SizeBits)) +
		" free " + formatUint(ut.FreeBytes-ut.AllocatedBytes) +
		" allocated_bytes " + formatUint(ut.AllocatedBytes) +
		" allocated_objects " + formatUint(uint64(ut.AllocatedObjects))
}

func formatUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
