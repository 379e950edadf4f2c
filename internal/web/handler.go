package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"quickswitch/internal/config"
	"quickswitch/internal/models"
	"quickswitch/internal/prefs"
	"quickswitch/internal/switcher"
	"quickswitch/internal/util"
	"quickswitch/pkg/window"
)

// PrefStore is the slice of the preference store the web interface needs.
type PrefStore interface {
	Settings() prefs.Settings
	All() ([]models.Preference, error)
	Set(key, value string) error
	RecentErrors(limit int) ([]models.ErrorLog, error)
}

// StatusSource exposes the live switcher state.
type StatusSource interface {
	Snapshot() (switcher.State, []window.Candidate, int)
}

type Handler struct {
	config *config.Config
	store  PrefStore
	status StatusSource
	logger *util.Logger
	start  time.Time
}

func NewHandler(cfg *config.Config, store PrefStore, status StatusSource, logger *util.Logger) *Handler {
	return &Handler{
		config: cfg,
		store:  store,
		status: status,
		logger: logger,
		start:  time.Now(),
	}
}

func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/candidates", h.handleCandidates)
	mux.HandleFunc("/api/prefs", h.handlePrefs)
	mux.HandleFunc("/api/errors", h.handleErrors)

	mux.HandleFunc("/health", h.handleHealth)

	mux.HandleFunc("/", h.handleIndex)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, list, selected := h.status.Snapshot()
	settings := h.store.Settings()

	status := map[string]interface{}{
		"running":         true,
		"uptime":          time.Since(h.start).Round(time.Second).String(),
		"session_state":   state.String(),
		"candidate_count": len(list),
		"selected_index":  selected,
		"mode":            string(settings.Mode),
		"reveal_delay":    settings.RevealDelay.String(),
		"database_path":   h.config.Database.Path,
	}

	respondJSON(w, status)
}

// candidateView is the wire shape of one list entry.
type candidateView struct {
	Kind        string `json:"kind"`
	Window      uint32 `json:"window,omitempty"`
	Process     int    `json:"process,omitempty"`
	AppName     string `json:"app_name"`
	Title       string `json:"title,omitempty"`
	Tier        string `json:"tier"`
	WindowCount int    `json:"window_count,omitempty"`
	Frontmost   bool   `json:"frontmost,omitempty"`
	Selected    bool   `json:"selected"`
}

func (h *Handler) handleCandidates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, list, selected := h.status.Snapshot()
	views := make([]candidateView, 0, len(list))
	for i, c := range list {
		kind := "window"
		if c.Kind == window.KindApp {
			kind = "app"
		}
		tier := "normal"
		if c.Tier == window.TierAtEnd {
			tier = "at_end"
		}
		views = append(views, candidateView{
			Kind:        kind,
			Window:      uint32(c.Window),
			Process:     int(c.Process),
			AppName:     c.AppName,
			Title:       c.Title,
			Tier:        tier,
			WindowCount: c.WindowCount,
			Frontmost:   c.Frontmost,
			Selected:    i == selected,
		})
	}

	respondJSON(w, map[string]interface{}{
		"session_state": state.String(),
		"candidates":    views,
	})
}

func (h *Handler) handlePrefs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		all, err := h.store.All()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read preferences: %v", err), http.StatusInternalServerError)
			return
		}
		respondJSON(w, all)

	case http.MethodPut, http.MethodPost:
		var req struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err != nil {
			http.Error(w, "Failed to read body", http.StatusBadRequest)
			return
		}
		if err := json.Unmarshal(body, &req); err != nil || req.Key == "" {
			http.Error(w, "Expected JSON body with key and value", http.StatusBadRequest)
			return
		}
		if err := h.store.Set(req.Key, req.Value); err != nil {
			http.Error(w, fmt.Sprintf("Failed to save preference: %v", err), http.StatusInternalServerError)
			return
		}
		respondJSON(w, map[string]string{"status": "ok"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleErrors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	logs, err := h.store.RecentErrors(50)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to fetch error logs: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, logs)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Quickswitch</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: #1a1a1a;
            color: #e0e0e0;
            padding: 20px;
        }
        h1 { color: #5dade2; margin-bottom: 20px; }
        .card {
            background: #2d2d2d;
            border-radius: 8px;
            padding: 16px;
            margin-bottom: 16px;
        }
        .card h2 { font-size: 14px; color: #a0a0a0; margin-bottom: 8px; text-transform: uppercase; }
        pre { font-size: 13px; overflow-x: auto; }
    </style>
</head>
<body>
    <h1>Quickswitch</h1>
    <div class="card"><h2>Status</h2><pre id="status">loading...</pre></div>
    <div class="card"><h2>Candidates</h2><pre id="candidates">loading...</pre></div>
    <div class="card"><h2>Preferences</h2><pre id="prefs">loading...</pre></div>
    <script>
        async function refresh(path, id) {
            const res = await fetch(path);
            document.getElementById(id).textContent = JSON.stringify(await res.json(), null, 2);
        }
        function tick() {
            refresh('/api/status', 'status');
            refresh('/api/candidates', 'candidates');
            refresh('/api/prefs', 'prefs');
        }
        tick();
        setInterval(tick, 2000);
    </script>
</body>
</html>`

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
