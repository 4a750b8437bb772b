package server

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newHTTPMux stands up a fake SDN controller REST API backing a
// two-switch topology: a1 (decimal 161) linked to b2 (decimal 178),
// with flow-table state that resolves middlebox m1 to a1:3 and sender
// host h1 to b2:5 — enough for registry.Load and topology.Load to
// succeed, and for the compiler to find a one-hop path between them.
func newHTTPMux(t *testing.T) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1.0/topology/switches":
			writeJSON(w, []map[string]interface{}{
				{"dpid": "a1", "ports": []map[string]interface{}{{"name": "a1-eth1", "port_no": 1}}},
				{"dpid": "b2", "ports": []map[string]interface{}{{"name": "b2-eth1", "port_no": 1}}},
			})
		case r.URL.Path == "/v1.0/topology/links":
			writeJSON(w, []map[string]interface{}{
				{
					"src": map[string]interface{}{"dpid": "a1", "port_no": 2},
					"dst": map[string]interface{}{"dpid": "b2", "port_no": 2},
				},
			})
		case r.URL.Path == "/stats/flow/161":
			writeJSON(w, map[string]interface{}{
				"161": []map[string]interface{}{
					{"match": map[string]interface{}{"dl_dst": "aa:aa:aa:aa:aa:aa"}, "actions": []string{"OUTPUT:3"}},
				},
			})
		case r.URL.Path == "/stats/flow/178":
			writeJSON(w, map[string]interface{}{
				"178": []map[string]interface{}{
					{"match": map[string]interface{}{"dl_dst": "bb:bb:bb:bb:bb:bb"}, "actions": []string{"OUTPUT:5"}},
				},
			})
		case r.URL.Path == "/stats/flowentry/add", r.URL.Path == "/stats/flowentry/delete":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// newFakeDPI starts a line-delimited-JSON TCP listener standing in for
// the DPI controller peer: every call succeeds, and an
// addpolicychaincommand echoes the requested chain back unresolved
// (no DPI instance prepended), matching the registry's known
// middleboxes in tests.
func newFakeDPI(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				n, err := c.Read(buf)
				if err != nil {
					return
				}

				var req struct {
					Command   string            `json:"command"`
					Arguments map[string]string `json:"arguments"`
				}
				json.Unmarshal(buf[:n], &req)

				data := ""
				if req.Command == "addpolicychaincommand" {
					data = req.Arguments["policy chain"]
				}
				resp, _ := json.Marshal(map[string]string{"return value": "success", "data": data})
				c.Write(append(resp, '\n'))
			}(conn)
		}
	}()

	return ln.Addr().String()
}
