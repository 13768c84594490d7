package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/acme/autocert"

	"survey-map/pkg/api"
	"survey-map/pkg/dataset"
	"survey-map/pkg/logger"
	"survey-map/pkg/mapstream"
	"survey-map/pkg/storage"
)

// CompileVersion is set with -ldflags "-X main.CompileVersion=...".
var CompileVersion = "dev"

// Flags. Defaults come from the environment after .env is loaded in init.
var (
	port           *int
	dataDir        *string
	dbType         *string
	dbPath         *string
	dbConn         *string
	domain         *string
	staticDir      *string
	sourceURL      *string
	cacheTTL       *time.Duration
	reloadEvery    *time.Duration
	uploadCooldown *time.Duration
	version        *bool
)

func init() {
	_ = godotenv.Load()

	port = flag.Int("port", envInt("PORT", 3000), "Port for running the server")
	dataDir = flag.String("data-dir", envString("DATA_DIR", "./data"), "Directory with sites.json, track_index.json, samples.json, tracks and images")
	dbType = flag.String("db-type", envString("DB_TYPE", ""), `Metadata store: "" or "file" for JSON files, sqlite, genji, duckdb or pgx`)
	dbPath = flag.String("db-path", envString("DB_PATH", ""), "Database file for sqlite, genji and duckdb (defaults to DATA_DIR/survey-map.<type>)")
	dbConn = flag.String("db-conn", envString("DB_CONN", ""), "PostgreSQL connection string for pgx")
	domain = flag.String("domain", envString("DOMAIN", ""), "Use 80 and 443 ports. Automatic HTTPS cert via Let's Encrypt.")
	staticDir = flag.String("static-dir", envString("STATIC_DIR", ""), "Directory served at / (the map page)")
	sourceURL = flag.String("source-url", envString("SOURCE_URL", ""), "Load the map dataset from another storage server instead of the local store")
	cacheTTL = flag.Duration("cache-ttl", 30*time.Second, "How long rendered map responses are cached (0 disables)")
	reloadEvery = flag.Duration("reload-interval", 0, "Periodic dataset reload (0 disables)")
	uploadCooldown = flag.Duration("upload-cooldown", 2*time.Second, "Minimum spacing of uploads and reloads per client (negative disables queueing)")
	version = flag.Bool("version", false, "Show the application version")
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(envString(key, "")); err == nil {
		return n
	}
	return def
}

// withServerHeader adds "Server: survey-map/<version>" and answers HEAD /
// with an empty 200.
func withServerHeader(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "survey-map/"+CompileVersion)
		if r.Method == http.MethodHead && r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// serveWithDomain runs :80 for ACME challenges and redirects, and :443 with
// Let's Encrypt certificates. Handshakes autocert refuses (IPs, odd SNI)
// get the domain certificate once one was issued. Errors are only logged.
func serveWithDomain(ctx context.Context, domain string, handler http.Handler) {
	certMgr := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache("certs"),
		HostPolicy: func(_ context.Context, host string) error {
			if host == domain || host == "www."+domain {
				return nil
			}
			if net.ParseIP(host) != nil {
				return nil
			}
			return errors.New("acme/autocert: host not configured")
		},
	}

	go func() {
		mux80 := http.NewServeMux()
		mux80.Handle("/.well-known/acme-challenge/", certMgr.HTTPHandler(nil))
		mux80.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "https://"+domain+r.URL.RequestURI(), http.StatusMovedPermanently)
		})
		log.Printf("HTTP  server (ACME+redirect) ➜ :80")
		srv := &http.Server{Addr: ":80", Handler: mux80, ReadHeaderTimeout: 10 * time.Second}
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("HTTP  server error: %v", err)
		}
	}()

	var fallback atomic.Pointer[tls.Certificate]
	go func() {
		hello := &tls.ClientHelloInfo{ServerName: domain}
		for {
			if c, err := certMgr.GetCertificate(hello); err == nil {
				fallback.Store(c)
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Minute):
			}
		}
		t := time.NewTicker(24 * time.Hour)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := certMgr.GetCertificate(hello); err != nil {
					log.Printf("autocert renewal check: %v", err)
				}
			}
		}
	}()

	tlsCfg := certMgr.TLSConfig()
	tlsCfg.MinVersion = tls.VersionTLS12
	tlsCfg.GetCertificate = func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := certMgr.GetCertificate(chi)
		if err == nil {
			return c, nil
		}
		if c := fallback.Load(); c != nil {
			return c, nil
		}
		return nil, err
	}

	srv := &http.Server{
		Addr:              ":443",
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Printf("HTTPS server for %s ➜ :443", domain)
	if err := srv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("HTTPS server error: %v", err)
	}
}

// reloadLoop reloads the dataset every interval until ctx ends.
func reloadLoop(ctx context.Context, maps *dataset.Coordinator, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rctx, cancel := context.WithTimeout(ctx, interval)
			_, err := maps.Reload(rctx)
			cancel()
			if err != nil && !errors.Is(err, dataset.ErrStale) {
				log.Printf("periodic reload: %v", err)
			}
		}
	}
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if *version {
		fmt.Printf("survey-map version %s\n", CompileVersion)
		return
	}
	if *domain != "" && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		log.Println("⚠  Binding to :80 / :443 requires super-user rights; run with sudo or as root.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logger.Sync()

	store, err := storage.Open(ctx, storage.Config{
		DBType:  *dbType,
		DBPath:  *dbPath,
		DBConn:  *dbConn,
		DataDir: *dataDir,
	})
	if err != nil {
		log.Fatalf("store init: %v", err)
	}
	defer store.Close()
	log.Printf("Data directory ➜ %s", *dataDir)
	blobs := storage.Blobs{Dir: *dataDir}

	var src dataset.Source = dataset.StoreSource{Index: store, Files: blobs}
	if *sourceURL != "" {
		log.Printf("Map dataset source ➜ %s", *sourceURL)
		src = dataset.NewHTTPSource(*sourceURL)
	}
	maps := dataset.NewCoordinator(dataset.NewLoader(src, log.Printf))
	cache := api.NewResponseCache(*cacheTTL)
	defer cache.Close()

	h := api.NewHandler(store, blobs, *dataDir, maps, cache, log.Printf)
	h.Limiter = api.NewRateLimiter(*uploadCooldown)
	h.Events = mapstream.NewBus(16)
	maps.OnPublish(h.Announce)

	go func() {
		if _, err := maps.Reload(ctx); err != nil && !errors.Is(err, dataset.ErrStale) {
			log.Printf("initial dataset load: %v", err)
		}
	}()
	if *reloadEvery > 0 {
		go reloadLoop(ctx, maps, *reloadEvery)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("/data/", http.StripPrefix("/data/", http.FileServer(http.Dir(*dataDir))))
	if *staticDir != "" {
		abs, _ := filepath.Abs(*staticDir)
		log.Printf("Static files ➜ %s", abs)
		mux.Handle("/", http.FileServer(http.Dir(*staticDir)))
	}
	rootHandler := withServerHeader(mux)

	if *domain != "" {
		serveWithDomain(ctx, *domain, rootHandler)
		return
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           rootHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Printf("HTTP server ➜ http://localhost:%d", *port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("HTTP server error: %v", err)
	}
}
