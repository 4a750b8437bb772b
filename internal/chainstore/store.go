// Package chainstore holds the live policy-chain records and the
// PCID<->key bijection, grounded on tsaBE.py's policyChainKeyToData /
// pcidToPolicyChainKey maps (spec.md §3, §4.4).
package chainstore

import (
	"fmt"
	"sync"

	"github.com/newtron-network/tsa/internal/util"
)

// Record is a policy-chain record: the full chain (DPI instance
// prepended, sender excluded), its VLAN id, and its install trail.
type Record struct {
	Chain []string
	VLAN  int
	Trail []string
}

// SenderSentinel is the trail's first entry, marking the sender host
// (spec.md §3: "$<name>" sentinel).
func SenderSentinel(host string) string { return "$" + host }

// MiddleboxSentinel marks a chain-boundary in the trail.
func MiddleboxSentinel(name string) string { return "$" + name }

// IsSentinel reports whether a trail entry is a "$name" marker rather
// than a dpid.
func IsSentinel(entry string) bool {
	return len(entry) > 0 && entry[0] == '$'
}

// Store is the process-lifetime table of live policy-chain records.
// Callers serialize access the same way the command server serializes
// every mutating command (spec.md §5); Store's own mutex is a second
// line of defense, not a substitute for that contract.
type Store struct {
	mu        sync.Mutex
	records   map[string]*Record
	pcidToKey map[int]string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		records:   make(map[string]*Record),
		pcidToKey: make(map[int]string),
	}
}

// Put inserts or replaces the record for key.
func (s *Store) Put(key string, rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec
}

// Get returns the record for key, if any.
func (s *Store) Get(key string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok
}

// Delete removes the record for key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Keys returns a snapshot of all live keys, for iteration by callers
// that then mutate the store (e.g. the rewriter walking every record
// looking for a middlebox) — safe because it is taken under the lock.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for k := range s.records {
		out = append(out, k)
	}
	return out
}

// AppendTrail appends entry to key's install trail. It is a no-op if
// key has no record — defensive, since callers should never append
// after a record is deleted.
func (s *Store) AppendTrail(key, entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		util.WithChainKey(key).Warn("AppendTrail called on missing record")
		return
	}
	rec.Trail = append(rec.Trail, entry)
}

// SetPCID records the PCID <-> key bijection for a freshly created
// record.
func (s *Store) SetPCID(pcid int, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pcidToKey[pcid] = key
}

// KeyForPCID returns the key currently bound to pcid.
func (s *Store) KeyForPCID(pcid int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.pcidToKey[pcid]
	return key, ok
}

// PCIDForKey performs the reverse (linear) lookup — mirrors
// tsaBE.py's getPcid, which scans pcidToPolicyChainKey by value since
// the map is only ever keyed the other way around.
func (s *Store) PCIDForKey(key string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pcid, k := range s.pcidToKey {
		if k == key {
			return pcid, true
		}
	}
	return 0, false
}

// RebindPCID moves whatever PCID currently maps to oldKey so that it
// maps to newKey instead, used when the rewriter produces a new key
// for the same logical chain (spec.md §4.7: "a PCID survives
// middlebox unregister rewrites").
func (s *Store) RebindPCID(oldKey, newKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pcid, k := range s.pcidToKey {
		if k == oldKey {
			s.pcidToKey[pcid] = newKey
			return nil
		}
	}
	return fmt.Errorf("chainstore: no pcid bound to key %q", oldKey)
}

// DeletePCIDForKey removes the PCID bound to key, mirroring
// tsaBE.py's popPcid.
func (s *Store) DeletePCIDForKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pcid, k := range s.pcidToKey {
		if k == key {
			delete(s.pcidToKey, pcid)
			return
		}
	}
}
