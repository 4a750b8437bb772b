package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCommand(t *testing.T) {
	before := testutil.ToFloat64(commandsTotal.WithLabelValues("addpolicychain", "success"))
	ObserveCommand("addpolicychain", 0, true)
	after := testutil.ToFloat64(commandsTotal.WithLabelValues("addpolicychain", "success"))
	if after-before != 1 {
		t.Fatalf("commandsTotal delta = %v, want 1", after-before)
	}
}

func TestObserveFlowInstallAndDelete(t *testing.T) {
	beforeInstall := testutil.ToFloat64(flowInstallsTotal.WithLabelValues("vlan_push", "failed"))
	ObserveFlowInstall("vlan_push", false)
	afterInstall := testutil.ToFloat64(flowInstallsTotal.WithLabelValues("vlan_push", "failed"))
	if afterInstall-beforeInstall != 1 {
		t.Fatalf("flowInstallsTotal delta = %v, want 1", afterInstall-beforeInstall)
	}

	beforeDelete := testutil.ToFloat64(flowDeletesTotal.WithLabelValues("vlan", "success"))
	ObserveFlowDelete("vlan", true)
	afterDelete := testutil.ToFloat64(flowDeletesTotal.WithLabelValues("vlan", "success"))
	if afterDelete-beforeDelete != 1 {
		t.Fatalf("flowDeletesTotal delta = %v, want 1", afterDelete-beforeDelete)
	}
}

func TestSetLiveChainsAndVLANs(t *testing.T) {
	SetLiveChains(3)
	if got := testutil.ToFloat64(liveChains); got != 3 {
		t.Fatalf("liveChains = %v, want 3", got)
	}

	SetAllocatedVLANs(42)
	if got := testutil.ToFloat64(allocatedVLANs); got != 42 {
		t.Fatalf("allocatedVLANs = %v, want 42", got)
	}
}
