// Package alloc provides the monotonic VLAN-id and PCID counters,
// grounded on tsaBE.py's nextVlanId/nextPcid fields (spec.md §4.4).
package alloc

import (
	"fmt"
	"sync"
)

// maxVLANID is the largest usable 802.1Q VLAN id; 4095 is reserved.
const maxVLANID = 4094

// VLANAllocator issues unique, monotonically increasing VLAN ids,
// seeded at 1. It never reclaims ids within a process lifetime — a
// deliberate simplification spec.md §9 allows and asks to be
// documented rather than silently worked around.
type VLANAllocator struct {
	mu   sync.Mutex
	next int
}

// NewVLANAllocator returns an allocator seeded at VLAN id 1.
func NewVLANAllocator() *VLANAllocator {
	return &VLANAllocator{next: 1}
}

// Allocate returns the next VLAN id, or an error once the 12-bit VLAN
// space is exhausted.
func (a *VLANAllocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.next > maxVLANID {
		return 0, fmt.Errorf("alloc: VLAN id space exhausted (max %d)", maxVLANID)
	}
	id := a.next
	a.next++
	return id, nil
}

// PCIDAllocator issues unique, monotonically increasing policy-chain
// ids, seeded at 0.
type PCIDAllocator struct {
	mu   sync.Mutex
	next int
}

// NewPCIDAllocator returns an allocator seeded at PCID 0.
func NewPCIDAllocator() *PCIDAllocator {
	return &PCIDAllocator{next: 0}
}

// Allocate returns the next PCID.
func (a *PCIDAllocator) Allocate() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.next
	a.next++
	return id
}

// Peek returns the PCID Allocate would hand out next, without
// consuming it. tsaBE.py's handleAddPolicyCommand embeds nextPcid in
// the request sent to the DPI controller before it is known whether
// the add will succeed, and only advances nextPcid afterwards; Peek
// lets callers mirror that without allocating speculatively.
func (a *PCIDAllocator) Peek() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}
