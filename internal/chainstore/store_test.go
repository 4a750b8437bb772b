package chainstore

import "testing"

func TestStorePutGetDelete(t *testing.T) {
	s := New()
	s.Put("k1", &Record{Chain: []string{"m6", "m2"}, VLAN: 1, Trail: []string{SenderSentinel("h1")}})

	rec, ok := s.Get("k1")
	if !ok || rec.VLAN != 1 {
		t.Fatalf("Get(k1) = %+v, ok=%v", rec, ok)
	}

	s.Delete("k1")
	if _, ok := s.Get("k1"); ok {
		t.Fatal("Get(k1) should fail after Delete")
	}
}

func TestAppendTrail(t *testing.T) {
	s := New()
	s.Put("k1", &Record{})
	s.AppendTrail("k1", "000000000000000b")
	rec, _ := s.Get("k1")
	if len(rec.Trail) != 1 || rec.Trail[0] != "000000000000000b" {
		t.Fatalf("Trail = %v, want one dpid", rec.Trail)
	}
}

func TestPCIDBijection(t *testing.T) {
	s := New()
	s.SetPCID(0, "k1")

	key, ok := s.KeyForPCID(0)
	if !ok || key != "k1" {
		t.Fatalf("KeyForPCID(0) = (%q, %v)", key, ok)
	}
	pcid, ok := s.PCIDForKey("k1")
	if !ok || pcid != 0 {
		t.Fatalf("PCIDForKey(k1) = (%d, %v)", pcid, ok)
	}
}

func TestRebindPCID(t *testing.T) {
	s := New()
	s.SetPCID(0, "old")
	if err := s.RebindPCID("old", "new"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.PCIDForKey("old"); ok {
		t.Fatal("old key should no longer have a pcid")
	}
	pcid, ok := s.PCIDForKey("new")
	if !ok || pcid != 0 {
		t.Fatalf("PCIDForKey(new) = (%d, %v)", pcid, ok)
	}
}

func TestDeletePCIDForKey(t *testing.T) {
	s := New()
	s.SetPCID(3, "k1")
	s.DeletePCIDForKey("k1")
	if _, ok := s.PCIDForKey("k1"); ok {
		t.Fatal("pcid should be gone after DeletePCIDForKey")
	}
}

func TestIsSentinel(t *testing.T) {
	if !IsSentinel("$h1") {
		t.Fatal("IsSentinel($h1) = false, want true")
	}
	if IsSentinel("000000000000000b") {
		t.Fatal("IsSentinel(dpid) = true, want false")
	}
}
