package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"parley/config"
	"parley/pkg/database"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
)

const usage = `
Parley - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Apply every migration in the migrations directory
  status      Show database connection status and table row counts
  seed        Seed the owner and demo conversations

Flags:
`

func main() {
	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	migrationsDir := flagSet.String("migrations", "migrations", "path to migrations directory")
	ownerEmail := flagSet.String("owner-email", "owner@parley.local", "email of the demo conversation owner")
	whitelist := flagSet.StringSlice("whitelist", []string{"ext-1"}, "xids to whitelist for the owner")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return
		}
		log.Fatalf("%v", err)
	}
	if help, _ := flagSet.GetBool("help"); help || flagSet.NArg() < 1 {
		printHelp(flagSet)
		if !help {
			os.Exit(1)
		}
		return
	}

	command := flagSet.Arg(0)

	cfg := config.LoadConfig()
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.DSN())
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer pool.Close()

	switch command {
	case "up":
		runMigrationsUp(ctx, pool, *migrationsDir)
	case "status":
		showStatus(ctx, pool)
	case "seed":
		seedCfg := database.DefaultSeedConfig()
		seedCfg.OwnerEmail = strings.ToLower(strings.TrimSpace(*ownerEmail))
		seedCfg.WhitelistXIDs = *whitelist
		runSeed(ctx, pool, seedCfg)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printHelp(flagSet)
		os.Exit(1)
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprint(os.Stderr, usage)
	fmt.Fprint(os.Stderr, flagSet.FlagUsages())
}

func runMigrationsUp(ctx context.Context, pool *pgxpool.Pool, migrationsDir string) {
	log.Println("Running migrations UP...")
	if err := database.ApplyMigrations(ctx, pool, migrationsDir); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migrations completed successfully!")
}

func showStatus(ctx context.Context, pool *pgxpool.Pool) {
	log.Println("Checking database status...")
	if err := database.HealthCheck(ctx, pool); err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	log.Println("Database connection: OK")

	tables := []string{"users", "oidc_user_mappings", "conversations", "participants", "xids", "xid_whitelist", "legacy_participant_cookies"}
	for _, table := range tables {
		var exists bool
		if err := pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+table).Scan(&exists); err != nil {
			log.Printf("Error checking table %s: %v", table, err)
			continue
		}
		if !exists {
			log.Printf("Table %-28s does not exist", table)
			continue
		}
		var count int64
		// table names come from the fixed list above
		if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			log.Printf("Error counting table %s: %v", table, err)
			continue
		}
		log.Printf("Table %-28s exists (%d rows)", table, count)
	}
}

func runSeed(ctx context.Context, pool *pgxpool.Pool, cfg *database.SeedConfig) {
	log.Println("Seeding database...")
	result, err := database.Seed(ctx, pool, cfg)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	log.Println("Seed Summary:")
	log.Printf("   - Owner uid: %d", result.OwnerUID)
	for _, c := range result.Conversations {
		log.Printf("   - Conversation %s (zid %d, whitelist %t)", c.ConversationID, c.ZID, c.UseXIDWhitelist)
	}
}
