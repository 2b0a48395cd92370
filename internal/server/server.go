package server

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phuslu/log"

	"github.com/esnunes/tcgen/internal/backend"
	"github.com/esnunes/tcgen/internal/db"
	"github.com/esnunes/tcgen/internal/notify"
	"github.com/esnunes/tcgen/internal/poller"
	"github.com/esnunes/tcgen/internal/registry"
	"github.com/esnunes/tcgen/internal/workflow"
)

//go:embed templates
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

// Deps are the collaborators the server is built from.
type Deps struct {
	Queries  *db.Queries
	Registry *registry.Registry
	Backend  *backend.Client
	Board    *notify.Board
	Poller   *poller.Poller
}

type Options struct {
	ListenAddr         string
	VisualizerURL      string
	CORSAllowedOrigins []string
}

type Server struct {
	queries  *db.Queries
	registry *registry.Registry
	backend  *backend.Client
	board    *notify.Board
	poller   *poller.Poller
	tracker  *workflow.Tracker
	opts     Options

	pages     map[string]*template.Template
	fragments *template.Template
	router    http.Handler
	httpSrv   *http.Server
	ln        net.Listener
	addr      string

	// baseCtx outlives requests; the poller runs under it.
	baseCtx context.Context

	viewersMu sync.Mutex
	viewers   int
}

var funcMap = template.FuncMap{
	"clock": func(t time.Time) string {
		return t.Format("2006-01-02 15:04:05")
	},
}

func New(deps Deps, opts Options) (*Server, error) {
	pages, fragments, err := parsePages()
	if err != nil {
		return nil, err
	}

	s := &Server{
		queries:   deps.Queries,
		registry:  deps.Registry,
		backend:   deps.Backend,
		board:     deps.Board,
		poller:    deps.Poller,
		tracker:   workflow.NewTracker(),
		opts:      opts,
		pages:     pages,
		fragments: fragments,
		baseCtx:   context.Background(),
	}

	router, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.router = router
	s.httpSrv = &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

func (s *Server) routes() (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("getting static subfs: %w", err)
	}
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	r.Get("/", s.handleHome)
	r.Get("/tcgen", s.handleDashboard)
	r.Get("/healthz", s.handleHealthz)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/notification", s.handleNotification)
	r.Get("/notifications/history", s.handleHistory)

	r.Get("/projects/options", s.handleProjectOptions)
	r.Get("/connections", s.handleConnections)
	r.Route("/settings", func(r chi.Router) {
		r.Post("/connect", s.handleConnect)
		r.Post("/test-connection", s.handleTestConnection)
		r.Post("/remove", s.handleRemoveConnection)
		r.Post("/clear-identity", s.handleClearIdentity)
	})

	r.Route("/documents", func(r chi.Router) {
		r.Post("/upload", s.handleCombinedUpload)
		r.Post("/business-domain", s.handleLegacyDocuments)
		r.Post("/spec", s.handleSpecFiles)
	})
	r.Post("/test-cases/upload", s.handleTestCaseHistory)

	r.Route("/graphs/{kind}", func(r chi.Router) {
		r.Post("/create", s.handleGraphCreate)
		r.Post("/update", s.handleGraphUpdate)
		r.Get("/status", s.handleGraphStatus)
		r.Delete("/", s.handleGraphDelete)
		r.Get("/visualize", s.handleGraphVisualize)
	})

	r.Route("/user-stories", func(r chi.Router) {
		r.Post("/upload", s.handleUserStoriesUpload)
		r.Post("/import", s.handleUserStoriesImport)
		r.Post("/epics", s.handleEpicsUpload)
	})

	r.Route("/generation", func(r chi.Router) {
		r.Post("/format", s.handleSelectFormat)
		r.Post("/launch", s.handleLaunch)
		r.Get("/download", s.handleDownload)
	})

	r.Route("/api", func(r chi.Router) {
		if len(s.opts.CORSAllowedOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: s.opts.CORSAllowedOrigins,
				AllowedMethods: []string{"GET", "OPTIONS"},
				AllowedHeaders: []string{"Accept", "Content-Type"},
				MaxAge:         300,
			}))
		}
		r.Get("/projects", s.handleAPIProjects)
		r.Get("/connections", s.handleAPIConnections)
		r.Get("/identity", s.handleAPIIdentity)
	})

	return r, nil
}

// pageNames are full pages rendered inside layout.html. Every other
// template file is a fragment available to all pages.
var pageNames = []string{
	"home.html",
	"tcgen.html",
}

// parsePages builds a template for each page by combining layout.html and
// the fragments with the page template.
func parsePages() (map[string]*template.Template, *template.Template, error) {
	tmplFS, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		return nil, nil, fmt.Errorf("getting templates subfs: %w", err)
	}

	layoutBytes, err := fs.ReadFile(tmplFS, "layout.html")
	if err != nil {
		return nil, nil, fmt.Errorf("reading layout: %w", err)
	}

	fragments, err := template.New("fragments").Funcs(funcMap).ParseFS(tmplFS, "fragments/*.html")
	if err != nil {
		return nil, nil, fmt.Errorf("parsing fragments: %w", err)
	}

	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		pageBytes, err := fs.ReadFile(tmplFS, name)
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", name, err)
		}

		tmpl, err := fragments.Clone()
		if err != nil {
			return nil, nil, fmt.Errorf("cloning fragments for %s: %w", name, err)
		}
		if _, err := tmpl.New("layout.html").Parse(string(layoutBytes)); err != nil {
			return nil, nil, fmt.Errorf("parsing layout for %s: %w", name, err)
		}
		if _, err := tmpl.New(name).Parse(string(pageBytes)); err != nil {
			return nil, nil, fmt.Errorf("parsing %s: %w", name, err)
		}

		pages[name] = tmpl
	}
	return pages, fragments, nil
}

// Listen binds the configured address. Port 0 picks a free port. Call
// Serve to start handling requests.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.opts.ListenAddr, err)
	}
	s.ln = ln
	s.addr = ln.Addr().String()
	return nil
}

// Serve starts handling HTTP requests. Blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.baseCtx = ctx

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("url", "http://"+s.addr).Msg("tcgen running, press Ctrl+C to stop")

	if err := s.httpSrv.Serve(s.ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	s.poller.Stop()
	log.Info().Msg("Shutting down")
	return nil
}

func (s *Server) Addr() string {
	return s.addr
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) renderPage(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Error().Str("template", name).Msg("Template not found")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "layout.html", data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("Render error")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) renderFragment(w http.ResponseWriter, name string, data any) {
	if s.fragments.Lookup(name) == nil {
		log.Error().Str("template", name).Msg("Fragment template not found")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.fragments.ExecuteTemplate(w, name, data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("Render error")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
