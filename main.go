// main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"

	"local.dev/campus-market/internal/blob"
	"local.dev/campus-market/internal/config"
	"local.dev/campus-market/internal/describe"
	"local.dev/campus-market/internal/gateway"
	"local.dev/campus-market/internal/httpx"
	"local.dev/campus-market/internal/market"
	"local.dev/campus-market/internal/mirror"
	"local.dev/campus-market/internal/session"
	"local.dev/campus-market/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := gateway.ParseLostReportPolicy(cfg.LostReportPolicy)
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	deps := market.Deps{
		AdminDomain:      cfg.AdminEmailDomain,
		LostReportPolicy: policy,
		Mirror:           mirror.Options{FetchRetries: cfg.MirrorFetchRetries, RetryBase: cfg.MirrorRetryBase},
	}

	var uploadsDir string
	closeBackends := func() {}
	if cfg.NoAuth {
		// ===== 開發模式：記憶體資料 + JSON 檔、本機上傳目錄、不呼叫外部服務 =====
		config.EnsureDir(cfg.DataDir)
		config.EnsureDir(cfg.UploadsDir)
		mem := store.NewMemory(store.WithDir(cfg.DataDir))
		mem.Load()
		if err := mem.SeedIfEmpty(ctx); err != nil {
			log.WithError(err).Warn("seed demo data")
		}
		deps.Store = mem
		deps.Auth = session.NewDevAuth()
		deps.Blob = blob.NewDir(cfg.UploadsDir, "/uploads")
		deps.Describer = describe.Fallback{}
		uploadsDir = cfg.UploadsDir
		log.WithField("dataDir", cfg.DataDir).Warn("NO_AUTH=1: running against local data, any password is accepted")
	} else {
		// ===== 正式模式：Firebase（Auth / Firestore / Storage）+ Gemini =====
		app, err := cfg.NewFirebaseApp(ctx)
		if err != nil {
			log.WithError(err).Fatal("firebase")
		}
		fs, err := app.Firestore(ctx)
		if err != nil {
			log.WithError(err).Fatal("firestore client")
		}
		closeBackends = func() { _ = fs.Close() }
		adminAuth, err := app.Auth(ctx)
		if err != nil {
			log.WithError(err).Fatal("firebase auth client")
		}
		fbAuth, err := session.NewFirebaseAuth(ctx, cfg.FirebaseAPIKey, adminAuth)
		if err != nil {
			log.WithError(err).Fatal("identity toolkit")
		}
		bucket, err := blob.NewBucket(ctx, app, cfg.StorageBucket)
		if err != nil {
			log.WithError(err).Fatal("storage bucket")
		}
		deps.Store = store.NewFirestore(fs)
		deps.Auth = fbAuth
		deps.Blob = bucket
		deps.Describer = describe.Fallback{}
		if cfg.GeminiAPIKey != "" {
			g, err := describe.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.DescribeRPS)
			if err != nil {
				log.WithError(err).Warn("gemini unavailable, descriptions use the fallback text")
			} else {
				deps.Describer = g
			}
		}
	}

	m := market.New(deps)
	hub := httpx.NewHub()
	detach := hub.Attach(m)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpx.NewRouter(&httpx.AppCtx{Market: m, Events: hub, UploadsDir: uploadsDir}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithFields(log.Fields{"addr": srv.Addr, "noAuth": cfg.NoAuth}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
	detach()
	m.Close()
	closeBackends()
}
