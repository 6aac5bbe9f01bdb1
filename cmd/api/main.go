package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/bootstrap"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/invitation"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-clinic-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-clinic-go/pkg/utilities"
)

func main() {
	cfg, cfgErr := config.Load()

	// init logger
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	if cfgErr != nil {
		sugar.Fatalf("config: %v", cfgErr)
	}
	sugar.Info("starting service-clinic")

	// init db
	db, err := database.Connect(cfg.Database)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos := bootstrap.NewRepos(db)
	if err := repos.EnsureSchema(ctx); err != nil {
		sugar.Fatalf("schema: %v", err)
	}
	svcs, err := bootstrap.NewServices(cfg, repos, sugar)
	if err != nil {
		sugar.Fatalf("services: %v", err)
	}
	if err := svcs.EnsureAdmin(ctx, cfg, sugar); err != nil {
		sugar.Fatalf("%v", err)
	}

	// mount http server
	handler := router.RegisterRoutes(router.Deps{
		Logger:       sugar,
		Sessions:     session.NewMiddleware(svcs.Sessions, sugar),
		Login:        session.NewHandler(svcs.Sessions, sugar),
		Credentials:  credential.NewHandler(svcs.Credentials, sugar),
		Invitations:  invitation.NewHandler(svcs.Invitations, svcs.Sessions, sugar),
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running; press Ctrl+C to stop", "addr", cfg.HTTPAddr)

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// shutdown http server
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
