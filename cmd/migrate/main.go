// Command migrate creates the schema and the configured administrator, then
// exits.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/bootstrap"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-clinic-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-clinic-go/pkg/utilities"
)

func main() {
	cfg, cfgErr := config.Load()

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

	db, err := database.Connect(cfg.Database)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	repos := bootstrap.NewRepos(db)
	if err := repos.EnsureSchema(ctx); err != nil {
		sugar.Fatalf("schema: %v", err)
	}
	sugar.Info("schema ready")

	svcs, err := bootstrap.NewServices(cfg, repos, sugar)
	if err != nil {
		sugar.Fatalf("services: %v", err)
	}
	if err := svcs.EnsureAdmin(ctx, cfg, sugar); err != nil {
		sugar.Fatalf("%v", err)
	}
	sugar.Info("done")
}
