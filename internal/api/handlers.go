package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/mqtt-bridge/internal/bridge"
	"github.com/nerrad567/mqtt-bridge/internal/engine"
)

// bridgeView is one bridge in API responses.
type bridgeView struct {
	bridge.Info
	State string       `json:"state"`
	Stats bridge.Stats `json:"stats"`
}

func viewOf(b bridge.Bridge) bridgeView {
	return bridgeView{Info: b.Info(), State: b.State().String(), Stats: b.Stats()}
}

type bridgesResponse struct {
	Bridges  []bridgeView     `json:"bridges"`
	Failures []engine.Failure `json:"failures"`
}

type connectionResponse struct {
	State         string    `json:"state"`
	Since         time.Time `json:"since"`
	LastError     string    `json:"last_error,omitempty"`
	Subscriptions int       `json:"subscriptions"`
	Broker        string    `json:"broker,omitempty"`
	ClientID      string    `json:"client_id,omitempty"`
}

// connectionEvent is pushed on the WebSocket connection channel.
type connectionEvent struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// handleHealth returns the engine health document. Anything other than
// healthy answers 503 so load balancers and probes can use it directly.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.engine.Health()
	if h.Version == "" {
		h.Version = s.version
	}
	status := http.StatusOK
	if h.Status != engine.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleListBridges(w http.ResponseWriter, _ *http.Request) {
	bridges := s.engine.Bridges()
	resp := bridgesResponse{
		Bridges:  make([]bridgeView, 0, len(bridges)),
		Failures: s.engine.Failures(),
	}
	for _, b := range bridges {
		resp.Bridges = append(resp.Bridges, viewOf(b))
	}
	if resp.Failures == nil {
		resp.Failures = []engine.Failure{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetBridge(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeBadRequest(w, "bridge index must be a non-negative integer")
		return
	}
	for _, b := range s.engine.Bridges() {
		if b.Info().Index == index {
			writeJSON(w, http.StatusOK, viewOf(b))
			return
		}
	}
	for _, f := range s.engine.Failures() {
		if f.Index == index {
			writeJSON(w, http.StatusOK, f)
			return
		}
	}
	writeNotFound(w, "no bridge at index "+strconv.Itoa(index))
}

func (s *Server) handleConnection(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Connection()
	resp := connectionResponse{
		State:         st.State.String(),
		Since:         st.Since.UTC(),
		Subscriptions: st.Subscriptions,
		Broker:        s.broker,
		ClientID:      s.engine.ClientID(),
	}
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEvents returns recent journal entries. kind selects one table;
// without it both are returned.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "status journal is disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	kind := r.URL.Query().Get("kind")
	if kind != "" && kind != "bridge" && kind != "connection" {
		writeBadRequest(w, `kind must be "bridge" or "connection"`)
		return
	}

	resp := map[string]any{}
	if kind == "" || kind == "bridge" {
		events, err := s.journal.RecentBridgeEvents(r.Context(), limit)
		if err != nil {
			s.logError("reading bridge events", "error", err)
			writeInternalError(w, "failed to read journal")
			return
		}
		resp["bridge_events"] = events
	}
	if kind == "" || kind == "connection" {
		events, err := s.journal.RecentConnectionEvents(r.Context(), limit)
		if err != nil {
			s.logError("reading connection events", "error", err)
			writeInternalError(w, "failed to read journal")
			return
		}
		resp["connection_events"] = events
	}
	writeJSON(w, http.StatusOK, resp)
}
