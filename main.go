package main

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/getlantern/systray"
	"github.com/joho/godotenv"
	"github.com/pkg/browser"
	"github.com/rs/cors"
	_ "modernc.org/sqlite"

	"github.com/promptwtf/genprompt/analysis"
	"github.com/promptwtf/genprompt/appconfig"
	"github.com/promptwtf/genprompt/archive"
	"github.com/promptwtf/genprompt/auth"
	"github.com/promptwtf/genprompt/bundle"
	"github.com/promptwtf/genprompt/events"
	"github.com/promptwtf/genprompt/platform"
	"github.com/promptwtf/genprompt/readiness"
	"github.com/promptwtf/genprompt/renderer"
	"github.com/promptwtf/genprompt/sidecar"
	"github.com/promptwtf/genprompt/users"
)

// -----------------------------------------------------------------------------
// Embedded tray-icon (.ico) file – place your icon at assets/logo.ico.
// -----------------------------------------------------------------------------

//go:embed assets/logo.ico
var iconData []byte

// -----------------------------------------------------------------------------
// Embed static assets under client/static; ** must recurse all sub-paths.
// -----------------------------------------------------------------------------

//go:embed client/static/**
var embeddedStatic embed.FS

// staticFS is the embedded filesystem rooted at client/static/.
var staticFS fs.FS

// -----------------------------------------------------------------------------
// http server so we can shut it down cleanly from onExit.
// -----------------------------------------------------------------------------
var srv *http.Server

// Global dependencies variable so we can access it from onExit
var deps *Dependencies

// Backend supervisor is started asynchronously in shell mode.
var (
	supervisorMu      sync.Mutex
	currentSupervisor *sidecar.Supervisor
)

// maxUploadBytes caps the accepted request body for image uploads.
const maxUploadBytes = 32 << 20

// -----------------------------------------------------------------------------
// Dependencies struct to hold shared dependencies
// -----------------------------------------------------------------------------
type Dependencies struct {
	DB           *sql.DB
	Users        *users.Store
	Hub          *events.Hub
	Analyzer     *analysis.Client
	Tracker      *analysis.Tracker
	Readiness    *readiness.Tracker
	Verifier     *auth.SessionVerifier
	Orchestrator *auth.Orchestrator
	Archive      *archive.Uploader
}

// -----------------------------------------------------------------------------
// Utility – run from the folder that contains the executable so relative
// paths resolve the same way no matter where the app was launched from.
// -----------------------------------------------------------------------------
func init() {
	if exe, err := os.Executable(); err == nil {
		_ = os.Chdir(filepath.Dir(exe))
	}

	// Carve out the client/static subtree of the embedded FS so that
	// "/static/foo.js" maps directly to "foo.js".
	var err error
	staticFS, err = fs.Sub(embeddedStatic, "client/static")
	if err != nil {
		panic("genprompt: fs.Sub failed: " + err.Error())
	}
}

// -----------------------------------------------------------------------------
// Database initialization
// -----------------------------------------------------------------------------

func initDB(dbPath string) (*sql.DB, *users.Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %v", err)
	}

	store := users.NewStore(db)
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %v", err)
	}

	log.Printf("Database ready at %s", dbPath)
	return db, store, nil
}

// -----------------------------------------------------------------------------
// Page handlers
// -----------------------------------------------------------------------------

func homeHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := renderer.Templates().ExecuteTemplate(w, "index.go.html", nil); err != nil {
			log.Printf("Error rendering index: %v", err)
		}
	}
}

func desktopHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := renderer.Templates().ExecuteTemplate(w, "desktop.go.html", nil); err != nil {
			log.Printf("Error rendering desktop page: %v", err)
		}
	}
}

// -----------------------------------------------------------------------------
// Analysis handlers
// -----------------------------------------------------------------------------

func uploadHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			http.Error(w, "invalid multipart request", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("image")
		if err != nil {
			http.Error(w, "missing image field", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "could not read upload", http.StatusBadRequest)
			return
		}

		up := analysis.NewUpload(header.Filename, header.Header.Get("Content-Type"), data)

		// Begin invalidates any in-flight analysis so a stale response can
		// never overwrite a newer one.
		token := deps.Tracker.Begin()

		outcome, err := deps.Analyzer.Submit(r.Context(), up)
		if err != nil {
			writeAnalysisError(w, err)
			return
		}

		if !deps.Tracker.Commit(token, outcome) {
			// A newer upload superseded this one while it was in flight.
			w.WriteHeader(http.StatusNoContent)
			return
		}

		go archiveUpload(deps, data, up.ContentType)
		deps.Hub.PublishJSON(events.TypeAnalysisResult, outcome)

		view := renderer.NewResultsView(&outcome)
		var buf bytes.Buffer
		if err := renderer.Templates().ExecuteTemplate(&buf, "results.go.html", view); err != nil {
			log.Printf("Error rendering results: %v", err)
			http.Error(w, "render error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	}
}

func writeAnalysisError(w http.ResponseWriter, err error) {
	var validationErr *analysis.ValidationError
	switch {
	case errors.Is(err, analysis.ErrUnsupportedType):
		http.Error(w, "only JPEG and PNG images are supported", http.StatusUnsupportedMediaType)
	case errors.As(err, &validationErr):
		http.Error(w, validationErr.Error(), http.StatusBadRequest)
	default:
		var uploadErr *analysis.UploadError
		var searchErr *analysis.SearchError
		if errors.As(err, &uploadErr) || errors.As(err, &searchErr) {
			log.Printf("Analysis backend error: %v", err)
			http.Error(w, "analysis backend unavailable", http.StatusBadGateway)
			return
		}
		log.Printf("Analysis error: %v", err)
		http.Error(w, "analysis failed", http.StatusInternalServerError)
	}
}

// archiveUpload stores accepted images in object storage. Failures only log.
func archiveUpload(deps *Dependencies, data []byte, contentType string) {
	if !deps.Archive.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key, err := deps.Archive.Store(ctx, data, contentType)
	if err != nil {
		log.Printf("Archive error: %v", err)
		return
	}
	log.Printf("Archived upload as %s", key)
}

func searchHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Embedding []float64 `json:"embedding"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if len(req.Embedding) == 0 {
			http.Error(w, "embedding is required", http.StatusBadRequest)
			return
		}

		outcome, err := deps.Analyzer.SearchEmbedding(r.Context(), req.Embedding)
		if err != nil {
			writeAnalysisError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(outcome)
	}
}

// -----------------------------------------------------------------------------
// User handlers
// -----------------------------------------------------------------------------

type userSyncRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func userSyncHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut && r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		token, ok := auth.TokenFromRequest(r)
		if !ok {
			http.Error(w, "missing session token", http.StatusUnauthorized)
			return
		}
		claims, err := deps.Verifier.Verify(token)
		if err != nil {
			http.Error(w, "invalid session token", http.StatusUnauthorized)
			return
		}

		var req userSyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		if _, err := deps.Users.Sync(r.Context(), claims.Subject, req.Email, req.FirstName, req.LastName); err != nil {
			var validationErr *users.ValidationError
			if errors.As(err, &validationErr) {
				http.Error(w, validationErr.Error(), http.StatusBadRequest)
				return
			}
			log.Printf("User sync error: %v", err)
			http.Error(w, "user sync failed", http.StatusInternalServerError)
			return
		}

		user, err := deps.Users.GetByAuthID(r.Context(), claims.Subject)
		if err != nil {
			log.Printf("User lookup error: %v", err)
			http.Error(w, "user sync failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(user)
	}
}

// userSyncCallbackHandler is the sessionless variant used during the auth
// callback, when the browser has identity data but no established session
// yet. The auth id travels in the body instead of a token.
func userSyncCallbackHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			UserID    string `json:"userId"`
			Email     string `json:"email"`
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			http.Error(w, "userId is required", http.StatusBadRequest)
			return
		}

		if _, err := deps.Users.Sync(r.Context(), req.UserID, req.Email, req.FirstName, req.LastName); err != nil {
			var validationErr *users.ValidationError
			if errors.As(err, &validationErr) {
				http.Error(w, validationErr.Error(), http.StatusBadRequest)
				return
			}
			log.Printf("User sync error: %v", err)
			http.Error(w, "user sync failed", http.StatusInternalServerError)
			return
		}

		user, err := deps.Users.GetByAuthID(r.Context(), req.UserID)
		if err != nil {
			log.Printf("User lookup error: %v", err)
			http.Error(w, "user sync failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(user)
	}
}

// -----------------------------------------------------------------------------
// Auth callback
// -----------------------------------------------------------------------------

func authCallbackHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token, _ = auth.TokenFromRequest(r)
		}

		if token == "" {
			log.Print("Auth callback without a session token")
		} else if _, err := deps.Orchestrator.HandleCallback(r.Context(), token); err != nil {
			// The orchestrator already surfaced the failure to the user.
			log.Printf("Auth callback: %v", err)
		}

		// Whatever happened, land the user back in the app.
		http.Redirect(w, r, "/", http.StatusFound)
	}
}

// -----------------------------------------------------------------------------
// Health and status
// -----------------------------------------------------------------------------

func healthHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		latency, err := deps.Users.Health(r.Context())
		if err != nil {
			log.Printf("Health check failed: %v", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"db_latency": latency.String(),
			"stream":     deps.Hub.Stats(),
		})
	}
}

func statusHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := deps.Readiness.Snapshot()

		resp := map[string]interface{}{
			"hosted_in_shell": snapshot.HostedInShell,
			"ready":           snapshot.Ready,
		}
		if snapshot.Error != "" {
			resp["error"] = snapshot.Error
		}

		supervisorMu.Lock()
		if currentSupervisor != nil {
			resp["backend"] = currentSupervisor.Status()
		}
		supervisorMu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// -----------------------------------------------------------------------------
// Backend bootstrap (desktop shell mode)
// -----------------------------------------------------------------------------

// startBackend installs the Python bundle if needed and launches the
// supervised process. Runs in its own goroutine; all failures are routed
// into the readiness tracker.
func startBackend(cfg appconfig.Config, hub *events.Hub, ready *readiness.Tracker) {
	backendDir := filepath.Join(platform.GetDataDir(), "backend")

	installer := bundle.NewInstaller(cfg.Backend.BundleURL, platform.GetCacheDir(), backendDir, hub)
	if err := installer.EnsureInstalled(context.Background()); err != nil {
		log.Printf("Backend install failed: %v", err)
		ready.SignalError("backend install failed: " + err.Error())
		return
	}

	pythonPath := cfg.Backend.PythonPath
	if pythonPath == "" {
		pythonPath = filepath.Join(backendDir, "python", "bin", "python"+platform.BinaryExtension())
	}
	scriptPath := cfg.Backend.ScriptPath
	if scriptPath == "" {
		scriptPath = filepath.Join(backendDir, "app", "serve.py")
	}

	sup := sidecar.New(pythonPath, scriptPath, cfg.Backend.Port, ready)
	if err := sup.Start(); err != nil {
		log.Printf("Backend start failed: %v", err)
		ready.SignalError("backend start failed: " + err.Error())
		return
	}

	supervisorMu.Lock()
	currentSupervisor = sup
	supervisorMu.Unlock()
}

// -----------------------------------------------------------------------------
// main – start server then hand control to the system-tray UI.
// -----------------------------------------------------------------------------

func main() {
	headless := flag.Bool("headless", false, "run without the system tray (browser mode)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment as-is")
	}

	cfg, cfgPath, err := appconfig.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded from %s", cfgPath)

	db, store, err := initDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	hub := events.NewHub()

	hostedInShell := !*headless
	ready := readiness.NewTracker(hostedInShell, readiness.FallbackTimeout, hub)

	uploader, err := archive.New(context.Background(), archive.Options{
		Endpoint:  cfg.Archive.Endpoint,
		Region:    cfg.Archive.Region,
		Bucket:    cfg.Archive.Bucket,
		AccessKey: cfg.Archive.AccessKey,
		SecretKey: cfg.Archive.SecretKey,
	})
	if err != nil {
		log.Printf("Archive disabled: %v", err)
		uploader = nil
	}
	if uploader.Enabled() {
		log.Printf("Archiving uploads to bucket %s", cfg.Archive.Bucket)
	}

	verifier := auth.NewSessionVerifier(cfg.JWTSecret)
	provider := auth.NewHTTPProvider(cfg.ProviderBaseURL, os.Getenv("GENPROMPT_PROVIDER_API_KEY"))

	deps = &Dependencies{
		DB:           db,
		Users:        store,
		Hub:          hub,
		Analyzer:     analysis.NewClient(cfg.AnalysisBaseURL),
		Tracker:      analysis.NewTracker(),
		Readiness:    ready,
		Verifier:     verifier,
		Orchestrator: auth.NewOrchestrator(verifier, provider, store, hub),
		Archive:      uploader,
	}

	if hostedInShell {
		go startBackend(cfg, hub, ready)
	}

	// ––– routes –––
	mux := http.NewServeMux()
	mux.HandleFunc("/", renderer.Logger(homeHandler(deps)))
	mux.HandleFunc("/desktop", renderer.Logger(desktopHandler(deps)))
	mux.HandleFunc("/api/upload", renderer.Logger(uploadHandler(deps)))
	mux.HandleFunc("/api/search", renderer.Logger(searchHandler(deps)))
	mux.HandleFunc("/api/user", renderer.Logger(userSyncHandler(deps)))
	mux.HandleFunc("/api/user/sync", renderer.Logger(userSyncCallbackHandler(deps)))
	mux.HandleFunc("/api/health", healthHandler(deps))
	mux.HandleFunc("/api/status", statusHandler(deps))
	mux.HandleFunc("/auth/callback", renderer.Logger(authCallbackHandler(deps)))
	mux.HandleFunc("/stream", hub.Handler)

	// Serve embedded static files
	mux.Handle("/static/",
		http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	srv = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: c.Handler(mux),
	}

	// start HTTP server in background
	go func() {
		log.Printf("Genprompt listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("genprompt: %v", err)
		}
	}()

	if *headless {
		runHeadless()
		return
	}

	// run tray icon (blocks until Quit)
	systray.Run(onReady, onExit)
}

// runHeadless blocks until an interrupt, then performs the same shutdown
// sequence the tray exit path uses.
func runHeadless() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	onExit()
}

// localURL builds a browser-openable URL for the configured listen address.
func localURL(addr, path string) string {
	host := addr
	if strings.HasPrefix(addr, ":") {
		host = "localhost" + addr
	}
	return "http://" + host + path
}

// -----------------------------------------------------------------------------
// systray lifecycle hooks
// -----------------------------------------------------------------------------

func onReady() {
	systray.SetTemplateIcon(iconData, iconData)
	systray.SetTitle("Genprompt")
	systray.SetTooltip("Genprompt – click to open")

	openItem := systray.AddMenuItem("Open Genprompt", "Launch the browser")
	systray.AddSeparator()
	quitItem := systray.AddMenuItem("Quit", "Shut down Genprompt")

	startURL := localURL(appconfig.Get().ListenAddr, "/desktop")
	_ = browser.OpenURL(startURL)

	// event loop
	for {
		select {
		case <-openItem.ClickedCh:
			_ = browser.OpenURL(startURL)
		case <-quitItem.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func onExit() {
	log.Println("Shutting down Genprompt...")

	// Stop the backend process first so no new analyses start.
	supervisorMu.Lock()
	sup := currentSupervisor
	supervisorMu.Unlock()
	if sup != nil {
		log.Println("Stopping analysis backend...")
		sup.Shutdown()
	}

	// Close stream connections
	if deps != nil && deps.Hub != nil {
		log.Println("Shutting down stream connections...")
		deps.Hub.Shutdown()
	}

	// Shutdown HTTP server
	log.Println("Shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if deps != nil && deps.DB != nil {
		deps.DB.Close()
	}

	log.Println("Genprompt shutdown complete")
}
