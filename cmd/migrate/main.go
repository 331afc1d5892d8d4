package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"sort"

	"attendbot/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	dir := flag.String("dir", "migrations", "directory holding *.sql migrations")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Connect to database
	pool, err := pgxpool.New(ctx, cfg.Database.URL())
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	files, err := filepath.Glob(filepath.Join(*dir, "*.sql"))
	if err != nil {
		log.Fatalf("Error listing migrations: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("No migrations found in %s", *dir)
	}
	sort.Strings(files)

	// Migrations are idempotent; apply them in order
	for _, file := range files {
		migration, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("Error reading migration file: %v", err)
		}

		if _, err := pool.Exec(ctx, string(migration)); err != nil {
			log.Fatalf("Error executing migration %s: %v", filepath.Base(file), err)
		}
		log.Printf("Applied %s", filepath.Base(file))
	}

	log.Println("Migration completed successfully")
}
