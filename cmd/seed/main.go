package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/davidmoltin/leadflow/internal/repository/postgres"
	"github.com/davidmoltin/leadflow/internal/seeds"
	"github.com/davidmoltin/leadflow/internal/services"
	"github.com/davidmoltin/leadflow/pkg/config"
	"github.com/davidmoltin/leadflow/pkg/database"
	"github.com/davidmoltin/leadflow/pkg/logger"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to config file")
		pageID     = flag.String("facebook-page", getEnv("FACEBOOK_PAGE_ID", ""), "Facebook page ID to register")
		formID     = flag.String("facebook-form", getEnv("FACEBOOK_FORM_ID", ""), "Facebook lead form ID to register")
		pageToken  = flag.String("facebook-token", getEnv("FACEBOOK_PAGE_TOKEN", ""), "Page access token for the Graph API")
		workflows  = flag.Bool("workflows", false, "Seed the sample workflows")
		activate   = flag.Bool("activate", false, "Activate the sample workflows")
		verifyOnly = flag.Bool("verify", false, "Only verify existing seed data, don't seed")
	)
	flag.Parse()

	if err := run(*configFile, *verifyOnly, seeds.Options{
		FacebookPageID:    *pageID,
		FacebookFormID:    *formID,
		FacebookPageToken: *pageToken,
		Workflows:         *workflows,
		Activate:          *activate,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string, verifyOnly bool, opts seeds.Options) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	log.Info("Connecting to database...")
	db, err := database.NewPostgresDB(cfg, log, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	leadRepo := postgres.NewLeadRepository(db)
	workflowRepo := postgres.NewWorkflowRepository(db)
	seeder := seeds.NewSeeder(
		leadRepo,
		postgres.NewFacebookRepository(db),
		workflowRepo,
		services.NewScheduleService(postgres.NewScheduleRepository(db), log),
		log,
	)

	if verifyOnly {
		if err := seeder.Verify(ctx); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		log.Info("✓ Seed data verified")
		return nil
	}

	result, err := seeder.SeedAll(ctx, opts)
	if err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}
	if err := seeder.Verify(ctx); err != nil {
		return fmt.Errorf("post-seed verification failed: %w", err)
	}

	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Lead fields created:     %d\n", result.Fields)
	fmt.Printf("Facebook forms created:  %d\n", result.Forms)
	fmt.Printf("Field mappings created:  %d\n", result.Mappings)
	fmt.Printf("Workflows created:       %d\n", result.Workflows)
	fmt.Println(strings.Repeat("=", 60))
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
