package compiler

import (
	"context"
	"fmt"
	"strings"

	"github.com/newtron-network/tsa/internal/chainstore"
	"github.com/newtron-network/tsa/internal/util"
)

// uninstallTrail deletes every flow entry rec's trail recorded, in
// order: the first non-sentinel entry is deleted by its match fields
// (the sender-side install), every entry after it by VLAN id (spec.md
// §4.8). Sentinel entries are bookkeeping only and carry no flow to
// delete. Individual delete failures are logged by the installer and
// do not abort the walk — an uninstall is best-effort cleanup, not a
// transaction.
func (c *Compiler) uninstallTrail(ctx context.Context, rec *chainstore.Record, fields []chainstore.MatchField) {
	first := true
	for _, entry := range rec.Trail {
		if chainstore.IsSentinel(entry) {
			continue
		}
		if first {
			c.installer.DeleteByMatchFields(ctx, entry, fields, -1)
			first = false
			continue
		}
		c.installer.DeleteByVLAN(ctx, entry, rec.VLAN, -1)
	}
}

// Uninstall removes every flow entry belonging to key and forgets it,
// including any policy-chain id bound to it.
func (c *Compiler) Uninstall(ctx context.Context, key string) error {
	rec, ok := c.store.Get(key)
	if !ok {
		return fmt.Errorf("compiler: unknown policy chain %q: %w", key, util.ErrNotFound)
	}
	_, _, fields, err := chainstore.SplitKey(key)
	if err != nil {
		return fmt.Errorf("compiler: %w", err)
	}

	c.uninstallTrail(ctx, rec, fields)
	c.store.Delete(key)
	c.store.DeletePCIDForKey(key)
	return nil
}

func removeString(haystack []string, needle string) []string {
	out := haystack[:0:0]
	for _, s := range haystack {
		if s != needle {
			out = append(out, s)
		}
	}
	return out
}

// UnregisterMiddlebox removes mbName from every policy chain whose
// full (DPI-instance-inclusive) chain names it: uninstalling,
// computing a new key with mbName struck from the key's own chain
// segment (a no-op on that segment when mbName is the DPI instance,
// which never appears there), and recompiling under the original VLAN
// id (spec.md §4.7). A chain whose entire full chain is just mbName is
// uninstalled and not recompiled. Failures are accumulated rather than
// aborting the walk, matching tsaBE.py's comma-joined
// failedPolicyChains report.
func (c *Compiler) UnregisterMiddlebox(ctx context.Context, mbName string) error {
	var failed []string

	for _, key := range c.store.Keys() {
		rec, ok := c.store.Get(key)
		if !ok || !containsString(rec.Chain, mbName) {
			continue
		}

		sender := senderFromTrail(rec.Trail)
		if sender == "" {
			failed = append(failed, key)
			continue
		}

		vlan := rec.VLAN
		pcid, hadPCID := c.store.PCIDForKey(key)
		_, _, fields, err := chainstore.SplitKey(key)
		if err != nil {
			failed = append(failed, key)
			continue
		}

		newFullChain := removeString(rec.Chain, mbName)

		if err := c.Uninstall(ctx, key); err != nil {
			failed = append(failed, key)
			continue
		}

		if len(newFullChain) == 0 {
			continue
		}

		newKey, err := chainstore.KeyWithoutMiddlebox(key, mbName)
		if err != nil {
			failed = append(failed, key)
			continue
		}

		if _, err := c.installChainWithVLAN(ctx, newKey, sender, newFullChain, fields, vlan); err != nil {
			failed = append(failed, key)
			continue
		}
		if hadPCID {
			c.store.SetPCID(pcid, newKey)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("compiler: failed to rewrite policy chains: %s", strings.Join(failed, ","))
	}
	return nil
}

// senderFromTrail recovers the sender host from a record's trail: the
// trail's first entry is always the sender sentinel (spec.md §4.6).
func senderFromTrail(trail []string) string {
	if len(trail) == 0 || !chainstore.IsSentinel(trail[0]) {
		return ""
	}
	return trail[0][1:]
}

// ReplaceDPIInstance swaps the first middlebox of the chain bound to
// pcid for newInstanceName, uninstalling and recompiling in place under
// the same chain key and VLAN id (spec.md §4.7, mirroring
// tsaBE.py's replaceDPIInstance).
func (c *Compiler) ReplaceDPIInstance(ctx context.Context, pcid int, newInstanceName string) error {
	key, ok := c.store.KeyForPCID(pcid)
	if !ok {
		return fmt.Errorf("compiler: unknown policy chain id %d: %w", pcid, util.ErrNotFound)
	}

	rec, ok := c.store.Get(key)
	if !ok {
		return fmt.Errorf("compiler: policy chain %q vanished: %w", key, util.ErrNotFound)
	}
	if len(rec.Chain) == 0 {
		return fmt.Errorf("compiler: policy chain %q has no middleboxes to replace", key)
	}

	sender := senderFromTrail(rec.Trail)
	if sender == "" {
		return fmt.Errorf("compiler: policy chain %q has no recoverable sender host", key)
	}

	_, _, fields, err := chainstore.SplitKey(key)
	if err != nil {
		return fmt.Errorf("compiler: %w", err)
	}

	vlan := rec.VLAN
	newChain := append([]string(nil), rec.Chain...)
	newChain[0] = newInstanceName

	c.uninstallTrail(ctx, rec, fields)
	c.store.DeletePCIDForKey(key)
	c.store.Delete(key)

	if _, err := c.installChainWithVLAN(ctx, key, sender, newChain, fields, vlan); err != nil {
		return err
	}
	c.store.SetPCID(pcid, key)
	return nil
}
