package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mhendzel2/ELNOTE-sub001/internal/attachments"
	"github.com/mhendzel2/ELNOTE-sub001/internal/auth"
	"github.com/mhendzel2/ELNOTE-sub001/internal/collab"
	"github.com/mhendzel2/ELNOTE-sub001/internal/config"
	"github.com/mhendzel2/ELNOTE-sub001/internal/dbconn"
	"github.com/mhendzel2/ELNOTE-sub001/internal/experiments"
	"github.com/mhendzel2/ELNOTE-sub001/internal/httpapi"
	"github.com/mhendzel2/ELNOTE-sub001/internal/objectstore"
	"github.com/mhendzel2/ELNOTE-sub001/internal/ops"
	"github.com/mhendzel2/ELNOTE-sub001/internal/reconcile"
	"github.com/mhendzel2/ELNOTE-sub001/internal/signatures"
	"github.com/mhendzel2/ELNOTE-sub001/internal/syncfeed"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancelBoot := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := dbconn.Open(ctx, cfg.DatabaseURL)
	cancelBoot()
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTTL)
	authSvc := auth.NewService(db, tokens, cfg.RefreshTTL)

	bootCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
	if err := authSvc.SeedDefaultAdmin(bootCtx, cfg.DefaultAdminEmail, cfg.DefaultAdminPassword); err != nil {
		log.Fatalf("seed default admin: %v", err)
	}
	cancelSeed()

	hub := syncfeed.NewHub()

	expSvc := experiments.NewService(db, hub)
	collabSvc := collab.NewService(db, hub)
	sigSvc := signatures.NewService(db, hub, expSvc, authSvc)

	signer := objectstore.NewURLSigner(cfg.ObjectStoreSignSecret)
	attSvc := attachments.NewService(db, hub, signer, cfg.ObjectStoreBucket, cfg.ObjectStorePublicBase,
		cfg.AttachmentUploadTTL, cfg.AttachmentDownloadTTL)

	inspector, err := buildInspector(cfg)
	if err != nil {
		log.Fatalf("object store inspector: %v", err)
	}
	reconciler := reconcile.NewReconciler(db, inspector, cfg.ObjectStoreBucket, cfg.ReconcileStaleAfter, cfg.ReconcileScanLimit)
	opsSvc := ops.NewService(db)

	var schedulerCancel context.CancelFunc
	if cfg.ReconcileScheduleEnabled {
		actorUserID := resolveReconcileActor(db, cfg)
		sched := reconcile.NewScheduler(reconciler, cfg.ReconcileScheduleInterval, actorUserID, cfg.ReconcileRunOnStartup)
		schedCtx, cancel := context.WithCancel(context.Background())
		schedulerCancel = cancel
		go sched.Run(schedCtx)
	}

	var mirrorCancel context.CancelFunc
	if cfg.KafkaBrokers != "" && cfg.KafkaTopic != "" {
		brokers := splitAndTrim(cfg.KafkaBrokers)
		mirror := syncfeed.NewMirror(db, syncfeed.MirrorConfig{Brokers: brokers, Topic: cfg.KafkaTopic})
		mirrorCtx, cancel := context.WithCancel(context.Background())
		mirrorCancel = cancel
		go func() {
			if err := mirror.Run(mirrorCtx, 0); err != nil && err != context.Canceled {
				log.Printf("[syncfeed.mirror] exited: %v", err)
			}
		}()
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Tokens:      tokens,
		AuthSvc:     authSvc,
		Experiments: expSvc,
		Collab:      collabSvc,
		Signatures:  sigSvc,
		Attachments: attSvc,
		Reconciler:  reconciler,
		Ops:         opsSvc,
		Hub:         hub,
		DB:          db,
		RequireTLS:  cfg.RequireTLS,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("starting elnote server on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if schedulerCancel != nil {
		schedulerCancel()
	}
	if mirrorCancel != nil {
		mirrorCancel()
	}
	log.Println("server stopped")
}

func buildInspector(cfg *config.Config) (objectstore.Inspector, error) {
	if cfg.ObjectStoreDriver == "s3" {
		return objectstore.NewS3Inspector(context.Background())
	}
	base := cfg.ObjectStoreInventoryURL
	if base == "" {
		base = cfg.ObjectStorePublicBase
	}
	return objectstore.NewHTTPInspector(base), nil
}

// resolveReconcileActor looks up the configured reconcile actor by email,
// falling back to the default admin when unset or not found — the
// scheduler always needs a real users.id to satisfy audit_log's foreign key.
func resolveReconcileActor(db *sql.DB, cfg *config.Config) string {
	email := strings.ToLower(strings.TrimSpace(cfg.ReconcileActorEmail))
	if email == "" {
		email = strings.ToLower(cfg.DefaultAdminEmail)
	}
	var id string
	if err := db.QueryRow(`SELECT id FROM users WHERE email = $1`, email).Scan(&id); err != nil {
		if err := db.QueryRow(`SELECT id FROM users WHERE is_default_admin LIMIT 1`).Scan(&id); err != nil {
			log.Fatalf("resolve reconcile actor: %v", err)
		}
	}
	return id
}

func splitAndTrim(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
