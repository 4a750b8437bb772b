// Package metrics exposes Prometheus counters and gauges for the TSA
// back-end's own operation: commands handled, flow-rule installs, and
// the size of the live policy-chain store. Grounded on
// etalazz-vsa's internal/ratelimiter/telemetry/churn (package-level
// collectors registered once in init, with a dedicated /metrics HTTP
// endpoint started on demand) and on etalazz-vsa's
// internal/ratelimiter/api.Server (a plain net/http.Server on its own
// mux, not piggybacked on any other listener).
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsa_commands_total",
		Help: "Total commands handled by the TSA command server, by command name and outcome",
	}, []string{"command", "outcome"})

	commandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tsa_command_duration_seconds",
		Help:    "Time spent handling a single command, by command name",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	flowInstallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsa_flow_installs_total",
		Help: "Total flow-entry install attempts issued to the SDN controller, by rule kind and outcome",
	}, []string{"kind", "outcome"})

	flowDeletesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsa_flow_deletes_total",
		Help: "Total flow-entry delete attempts issued to the SDN controller, by delete kind and outcome",
	}, []string{"kind", "outcome"})

	dpiCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsa_dpi_controller_calls_total",
		Help: "Total calls made to the DPI controller peer, by command and outcome",
	}, []string{"command", "outcome"})

	liveChains = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tsa_live_policy_chains",
		Help: "Number of policy-chain records currently held in the store",
	})

	allocatedVLANs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tsa_allocated_vlans",
		Help: "Number of VLAN ids allocated so far in this process's lifetime",
	})
)

func init() {
	prometheus.MustRegister(
		commandsTotal,
		commandDuration,
		flowInstallsTotal,
		flowDeletesTotal,
		dpiCallsTotal,
		liveChains,
		allocatedVLANs,
	)
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}

// ObserveCommand records one handled command and its outcome.
func ObserveCommand(command string, d time.Duration, success bool) {
	commandsTotal.WithLabelValues(command, outcome(success)).Inc()
	commandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// ObserveFlowInstall records one flow-entry install attempt. kind is
// one of "vlan_match", "vlan_push", "vlan_pop".
func ObserveFlowInstall(kind string, success bool) {
	flowInstallsTotal.WithLabelValues(kind, outcome(success)).Inc()
}

// ObserveFlowDelete records one flow-entry delete attempt. kind is one
// of "match_fields", "vlan".
func ObserveFlowDelete(kind string, success bool) {
	flowDeletesTotal.WithLabelValues(kind, outcome(success)).Inc()
}

// ObserveDPICall records one call to the DPI controller peer.
func ObserveDPICall(command string, success bool) {
	dpiCallsTotal.WithLabelValues(command, outcome(success)).Inc()
}

// SetLiveChains reports the current size of the policy-chain store.
func SetLiveChains(n int) {
	liveChains.Set(float64(n))
}

// SetAllocatedVLANs reports the highest VLAN id handed out so far.
func SetAllocatedVLANs(n int) {
	allocatedVLANs.Set(float64(n))
}

// Server serves the /metrics endpoint on its own listener, separate
// from the command server's raw TCP socket.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics HTTP server bound to addr. It does not
// start listening until Run is called.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
