package main

import (
	"context"
	"log"
	"os"

	"auditflow/activity"
	"auditflow/client"
	"auditflow/db"
	"auditflow/engagement"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	cfg := engagement.DefaultConfig()
	if path := os.Getenv("LIFECYCLE_CONFIG"); path != "" {
		cfg, err = engagement.LoadConfigFile(path)
		if err != nil {
			log.Fatalf("load lifecycle config: %v", err)
		}
	}

	catalog, err := engagement.NewCatalog(cfg)
	if err != nil {
		log.Fatalf("build stage catalog: %v", err)
	}
	statuses, err := engagement.NewStatusEngine(cfg, catalog)
	if err != nil {
		log.Fatalf("build status engine: %v", err)
	}

	auditLog := activity.NewRepository(pool)
	stageService := engagement.NewStageService(pool, nil, auditLog, catalog, statuses, cfg)
	crudService := engagement.NewCRUDService(pool, catalog, statuses)
	clientService := client.NewService(client.NewRepository(pool))

	log.Printf("engagement lifecycle ready: services=%v stages=%d lockout=%s",
		stageService != nil && crudService != nil && clientService != nil,
		len(catalog.Stages()), cfg.Lockout())
}
