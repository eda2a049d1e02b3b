package jit

import (
	"fmt"
	"sync"
	"sync/atomic"

	"bfrvm/pkg/errors"
)

const (
	// SlotWidth is the guest instruction alignment. Every guest address
	// handed to the cache must be a multiple of it.
	SlotWidth = 4

	DefaultArenaSize       = 16 * 1024 * 1024 // 16MB
	DefaultMaxGuestAddress = 1 << 20
)

// region is a fixed mapping of executable memory.
type region struct {
	mem  []byte
	base uintptr
}

// Cache maps guest addresses to native code. Lookups are lock-free atomic
// loads; inserts are serialized by one mutex that also guards the arena
// high-water mark. Published entries and their code are never modified or
// reclaimed before Close.
type Cache struct {
	slots    []atomic.Uintptr
	maxGuest uint64

	mu     sync.Mutex
	arena  *region
	used   int
	blocks map[uintptr]block // by published native address
}

type block struct {
	start, size int // arena offset and length
}

// NewCache maps an arena of arenaSize bytes and a slot table covering guest
// addresses [0, maxGuestAddress).
func NewCache(maxGuestAddress uint64, arenaSize int) (*Cache, error) {
	if maxGuestAddress == 0 || maxGuestAddress%SlotWidth != 0 {
		return nil, errors.Errorf(errors.StageAllocate, "max guest address %d must be a positive multiple of %d", maxGuestAddress, SlotWidth)
	}
	if arenaSize <= 0 {
		return nil, errors.Errorf(errors.StageAllocate, "arena size %d must be positive", arenaSize)
	}
	arena, err := allocRWX(arenaSize)
	if err != nil {
		return nil, errors.Wrap(errors.StageAllocate, err, "failed to map executable arena")
	}
	return &Cache{
		slots:    make([]atomic.Uintptr, maxGuestAddress/SlotWidth),
		maxGuest: maxGuestAddress,
		arena:    arena,
		blocks:   make(map[uintptr]block),
	}, nil
}

// slot panics on misaligned or out-of-range addresses; both are caller bugs.
func (c *Cache) slot(addr uint64) *atomic.Uintptr {
	if addr%SlotWidth != 0 {
		panic(fmt.Sprintf("jit: guest address %#x is not aligned to %d", addr, SlotWidth))
	}
	if addr >= c.maxGuest {
		panic(fmt.Sprintf("jit: guest address %#x is beyond %#x", addr, c.maxGuest))
	}
	return &c.slots[addr/SlotWidth]
}

// Lookup returns the native entry for addr if one has been published.
func (c *Cache) Lookup(addr uint64) (uintptr, bool) {
	native := c.slot(addr).Load()
	return native, native != 0
}

// Insert copies code into the arena and publishes its start as the entry for
// addr. If addr already has an entry, that entry is returned and the arena is
// left untouched.
func (c *Cache) Insert(addr uint64, code []byte) (uintptr, error) {
	return c.InsertEntry(addr, code, 0)
}

// InsertEntry is Insert for code whose logical entry point is entry bytes
// into the block.
func (c *Cache) InsertEntry(addr uint64, code []byte, entry int) (uintptr, error) {
	s := c.slot(addr)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have won the race between our miss and the lock.
	if native := s.Load(); native != 0 {
		return native, nil
	}
	if len(code) == 0 {
		return 0, errors.Errorf(errors.StageAllocate, "empty code block for guest address %#x", addr)
	}
	if entry < 0 || entry >= len(code) {
		return 0, errors.Errorf(errors.StageAllocate, "entry offset %d outside %d-byte block", entry, len(code))
	}
	if c.arena == nil {
		return 0, errors.Errorf(errors.StageAllocate, "executable arena is closed")
	}
	if len(code) > len(c.arena.mem)-c.used {
		return 0, errors.Errorf(errors.StageAllocate, "out of executable memory: need %d, have %d", len(code), len(c.arena.mem)-c.used)
	}

	copy(c.arena.mem[c.used:], code)
	native := c.arena.base + uintptr(c.used+entry)
	s.Store(native)
	c.blocks[native] = block{start: c.used, size: len(code)}
	c.used += len(code)
	return native, nil
}

// Used returns the arena high-water mark in bytes.
func (c *Cache) Used() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Capacity returns the arena size in bytes.
func (c *Cache) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.arena == nil {
		return 0
	}
	return len(c.arena.mem)
}

// Blocks returns the number of published code blocks.
func (c *Cache) Blocks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// MaxGuestAddress returns the exclusive upper bound of the guest address space.
func (c *Cache) MaxGuestAddress() uint64 {
	return c.maxGuest
}

// Block returns a copy of the code block published at native, or nil if
// native is not a published entry.
func (c *Cache) Block(native uintptr) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blocks[native]
	if !ok || c.arena == nil {
		return nil
	}
	return append([]byte(nil), c.arena.mem[b.start:b.start+b.size]...)
}

// Close withdraws every published entry and unmaps the arena. Later lookups
// miss and inserts fail. Native addresses returned earlier must not be called
// afterwards, and Close must not race with running code.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.arena == nil {
		return nil
	}
	for i := range c.slots {
		c.slots[i].Store(0)
	}
	clear(c.blocks)
	err := c.arena.release()
	c.arena = nil
	return err
}
