package flowrule

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/newtron-network/tsa/internal/chainstore"
	"github.com/newtron-network/tsa/internal/sdn"
)

type capturedRequest struct {
	Path    string
	Dpid    string `json:"dpid"`
	Match   map[string]string
	Actions []map[string]string
}

func newCapturingServer(t *testing.T, out *[]capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req capturedRequest
		json.NewDecoder(r.Body).Decode(&req)
		req.Path = r.URL.Path
		*out = append(*out, req)
		w.WriteHeader(http.StatusOK)
	}))
}

func TestInstallVlanMatchOmitsInPortWhenNegative(t *testing.T) {
	var reqs []capturedRequest
	srv := newCapturingServer(t, &reqs)
	defer srv.Close()

	inst := New(sdn.New(srv.URL, time.Second))
	if err := inst.InstallVlanMatch(context.Background(), "b", 5, 3, -1); err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if _, ok := reqs[0].Match["in_port"]; ok {
		t.Fatal("in_port should be omitted when inPort < 0")
	}
	if reqs[0].Match["dl_vlan"] != "5" {
		t.Fatalf("dl_vlan = %q, want 5", reqs[0].Match["dl_vlan"])
	}
}

func TestInstallVlanPushDerivesTransportMatch(t *testing.T) {
	var reqs []capturedRequest
	srv := newCapturingServer(t, &reqs)
	defer srv.Close()

	inst := New(sdn.New(srv.URL, time.Second))
	fields := []chainstore.MatchField{{Name: "tp_dst", Value: "80"}}
	if err := inst.InstallVlanPush(context.Background(), "b", 1, 2, 3, fields); err != nil {
		t.Fatal(err)
	}
	m := reqs[0].Match
	if m["nw_proto"] != "6" || m["dl_type"] != "2048" || m["tp_dst"] != "80" {
		t.Fatalf("match = %v, want derived nw_proto/dl_type plus tp_dst", m)
	}
	if len(reqs[0].Actions) != 2 || reqs[0].Actions[0]["type"] != "SET_VLAN_VID" {
		t.Fatalf("actions = %v, want [SET_VLAN_VID, OUTPUT]", reqs[0].Actions)
	}
}

func TestInstallVlanPopActions(t *testing.T) {
	var reqs []capturedRequest
	srv := newCapturingServer(t, &reqs)
	defer srv.Close()

	inst := New(sdn.New(srv.URL, time.Second))
	if err := inst.InstallVlanPop(context.Background(), "b", 1, 2, 3); err != nil {
		t.Fatal(err)
	}
	if reqs[0].Actions[0]["type"] != "STRIP_VLAN" || reqs[0].Actions[1]["type"] != "OUTPUT" {
		t.Fatalf("actions = %v, want [STRIP_VLAN, OUTPUT]", reqs[0].Actions)
	}
	if reqs[0].Match["in_port"] != "3" {
		t.Fatalf("VlanPop must always set in_port")
	}
}

func TestDeleteByVLANOmitsNonPositiveInPort(t *testing.T) {
	var reqs []capturedRequest
	srv := newCapturingServer(t, &reqs)
	defer srv.Close()

	inst := New(sdn.New(srv.URL, time.Second))
	if err := inst.DeleteByVLAN(context.Background(), "b", 1, -1); err != nil {
		t.Fatal(err)
	}
	if _, ok := reqs[0].Match["in_port"]; ok {
		t.Fatal("in_port should be omitted for inPort <= 0")
	}
}
