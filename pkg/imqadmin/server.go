package imqadmin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the daemon's admin HTTP surface: /healthz and /metrics.
type Server struct {
	reg *Registry
	mux *mux.Router
}

// NewServer builds a router with /healthz backed by reg and /metrics backed
// by promReg (pass prometheus.DefaultRegisterer's underlying *Registry, or
// an isolated one for tests).
func NewServer(reg *Registry, promReg *prometheus.Registry) *Server {
	r := mux.NewRouter()
	s := &Server{reg: reg, mux: r}

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type healthzResponse struct {
	Status Status        `json:"status"`
	Queues []QueueHealth `json:"queues"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{
		Status: s.reg.Overall(),
		Queues: s.reg.Snapshot(),
	}
	status := http.StatusOK
	switch resp.Status {
	case StatusDegraded:
		status = http.StatusOK
	case StatusFatal:
		status = http.StatusServiceUnavailable
	case StatusUnknown:
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
