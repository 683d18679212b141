package visualization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nvandessel/btsynth/internal/store"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>btsynth controllers</title></head>
<body>
<h1>Controllers</h1>
<table>
<tr><th>Name</th><th>Kind</th><th>Nodes</th><th>Created</th><th></th></tr>
{{range .}}<tr>
<td>{{.Name}}</td><td>{{.Kind}}</td><td>{{len .Automaton.Nodes}}</td><td>{{.CreatedAt.Format "2006-01-02 15:04:05"}}</td>
<td><a href="/api/controllers/{{.ID}}">json</a> <a href="/api/controllers/{{.ID}}/dot">dot</a>{{if .RunID}} <a href="/api/runs/{{.RunID}}/rounds">rounds</a>{{end}}</td>
</tr>{{end}}
</table>
</body>
</html>
`))

// Server serves stored controllers as HTML, JSON and DOT, and the process
// metrics at /metrics.
type Server struct {
	store      store.ControllerStore
	sysPrefix  string
	httpServer *http.Server
	listener   net.Listener
	mu         sync.Mutex
	addr       string
}

// NewServer creates a new controller browsing server.
func NewServer(cs store.ControllerStore, sysPrefix string) *Server {
	return &Server{
		store:     cs,
		sysPrefix: sysPrefix,
	}
}

// Addr returns the address the server is listening on (e.g., "localhost:PORT").
// Returns empty string if the server hasn't started yet.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/controllers", s.handleList)
	mux.HandleFunc("GET /api/controllers/{id}", s.handleController)
	mux.HandleFunc("GET /api/controllers/{id}/dot", s.handleDOT)
	mux.HandleFunc("GET /api/runs/{run}/rounds", s.handleRounds)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ListenAndServe starts the HTTP server on addr (an OS-assigned port when
// empty) and blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = "localhost:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.addr = ln.Addr().String()
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Unlock()

	// Graceful shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListControllers(r.Context())
	if err != nil {
		http.Error(w, "list error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, list); err != nil {
		http.Error(w, "render error: "+err.Error(), http.StatusInternalServerError)
	}
}

// summary is the list view of a controller.
type summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	ParentID  string    `json:"parent_id,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Nodes     int       `json:"nodes"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListControllers(r.Context())
	if err != nil {
		http.Error(w, "list error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]summary, 0, len(list))
	for _, c := range list {
		out = append(out, summary{
			ID: c.ID, Name: c.Name, Kind: c.Kind, ParentID: c.ParentID, RunID: c.RunID,
			Nodes: len(c.Automaton.Nodes), CreatedAt: c.CreatedAt,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleController(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	g, err := c.Graph()
	if err != nil {
		http.Error(w, "decode error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	out := RenderJSON(g, Options{Name: c.Name, SysPrefix: s.sysPrefix})
	out["id"] = c.ID
	out["name"] = c.Name
	out["kind"] = c.Kind
	writeJSON(w, out)
}

func (s *Server) handleDOT(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	g, err := c.Graph()
	if err != nil {
		http.Error(w, "decode error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	fmt.Fprint(w, RenderDOT(g, Options{Name: c.Name, SysPrefix: s.sysPrefix}))
}

func (s *Server) handleRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.store.Rounds(r.Context(), r.PathValue("run"))
	if err != nil {
		http.Error(w, "rounds error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rounds)
}

// lookup fetches the controller named in the path, writing 404 when absent.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*store.Controller, bool) {
	id := r.PathValue("id")
	c, err := s.store.GetController(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "controller not found: "+id, http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, "lookup error: "+err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return c, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
