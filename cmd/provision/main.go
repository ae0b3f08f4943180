package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/app/provision"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/repository/postgres"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/service/tenant"
	"github.com/raymccarthy5/multi-tenant-analytics/pkg/config"
	"github.com/raymccarthy5/multi-tenant-analytics/pkg/logger"
)

func main() {
	path := flag.String("file", "tenants.yaml", "YAML file listing tenants to create")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	flag.Parse()

	cfg := config.LoadAPIConfig()
	log := logger.New("provision", logger.ParseLevel(cfg.LogLevel))

	file, err := provision.LoadFile(*path)
	if err != nil {
		log.Error("invalid provisioning file", "file", *path, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := tenant.New(postgres.New(pool), nil, 0, log)
	results, err := provision.Run(ctx, svc, file)

	// keys are printed once; only their digests are stored
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tNAME\tAPI KEY")
	for _, res := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", res.Tenant.ID, res.Tenant.Name, res.APIKey)
	}
	tw.Flush()

	if err != nil {
		log.Error("provisioning failed", "error", err, "created", len(results))
		os.Exit(1)
	}
}
