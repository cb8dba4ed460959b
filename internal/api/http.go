package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

import (
	"github.com/nanjiek/relay-sync/internal/config"
	"github.com/nanjiek/relay-sync/internal/controller"
	"github.com/nanjiek/relay-sync/internal/core"
	"github.com/nanjiek/relay-sync/internal/rules"
	"github.com/nanjiek/relay-sync/internal/types"
)

// ConfigWriter persists the base address in the external-mutator role; the
// controller only ever reads it back.
type ConfigWriter interface {
	SetConfig(ctx context.Context, name, value string) error
}

type Server struct {
	cfg    config.ServerCfg
	ctrl   *controller.Controller
	engine *core.Engine
	store  ConfigWriter
	srv    *http.Server // ← 内部封装 http.Server
}

func NewServer(cfg config.ServerCfg, ctrl *controller.Controller, engine *core.Engine, store ConfigWriter) *Server {
	return &Server{
		cfg:    cfg,
		ctrl:   ctrl,
		engine: engine,
		store:  store,
	}
}

func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/status", s.statusHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/reconcile", s.reconcileHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/events/navigation", s.navigationHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/config/address", s.setAddressHandler).Methods(http.MethodPut)
	r.HandleFunc("/v1/rules", s.rulesHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/decide", s.decideHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func (s *Server) ListenAndServe() error {
	r := mux.NewRouter()
	s.RegisterRoutes(r)
	s.srv = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// ---------------- Handlers ----------------

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.ctrl.Status(r.Context()))
}

func (s *Server) reconcileHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	state := s.ctrl.Reconcile(r.Context(), "")
	_ = json.NewEncoder(w).Encode(ReconcileResponse{State: string(state)})
}

func (s *Server) navigationHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var ev types.NavigationEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		errResp(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if ev.URL == "" {
		errResp(w, http.StatusBadRequest, "url is required")
		return
	}

	if !s.ctrl.HandleNavigation(r.Context(), ev) {
		_ = json.NewEncoder(w).Encode(NavigationResponse{Status: "ignored", Watched: false})
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(NavigationResponse{Status: "accepted", Watched: true})
}

func (s *Server) setAddressHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req SetAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	addr := config.NormalizeBaseAddress(req.BaseAddress)
	if addr == "" {
		errResp(w, http.StatusBadRequest, "baseAddress is required")
		return
	}
	if err := s.store.SetConfig(r.Context(), config.BaseAddressKey, addr); err != nil {
		errResp(w, http.StatusInternalServerError, "failed to store address: "+err.Error())
		return
	}
	_ = json.NewEncoder(w).Encode(SetAddressResponse{Status: "success", BaseAddress: addr})
}

func (s *Server) rulesHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	snap := s.engine.Snapshot()
	resp := RulesResponse{
		Revision:   snap.Revision,
		Session:    make([]rules.Rule, 0, len(snap.Session)),
		Persistent: make([]rules.Rule, 0, len(snap.Persistent)),
	}
	for _, id := range rules.SessionRuleIDs {
		if rule, ok := snap.Session[id]; ok {
			resp.Session = append(resp.Session, rule)
		}
	}
	for _, id := range rules.PersistentRuleIDs {
		if rule, ok := snap.Persistent[id]; ok {
			resp.Persistent = append(resp.Persistent, rule)
		}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) decideHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		errResp(w, http.StatusBadRequest, "url query parameter is required")
		return
	}
	_ = json.NewEncoder(w).Encode(s.engine.Decide(rawURL))
}

func errResp(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
