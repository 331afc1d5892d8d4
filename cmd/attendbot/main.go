package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"attendbot/internal/attendance"
	"attendbot/internal/bot"
	"attendbot/internal/config"
	"attendbot/internal/db"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	flag.Parse()

	log.Println("Starting attendance bot application...")

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Load configuration
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	database, err := db.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	session, err := bot.NewSession(cfg.Discord)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	feed := db.NewFeed(database, cfg.Attendance.FeedChannel)
	hub := attendance.NewHub(database, database, feed,
		bot.NewNotifier(session, cfg.Discord.ApproverChannelID),
		attendance.Options{
			LedgerTimeout:    cfg.Attendance.LedgerTimeout,
			TickInterval:     cfg.Attendance.TickInterval,
			SweepInterval:    cfg.Attendance.SweepInterval,
			SweepConcurrency: cfg.Attendance.SweepConcurrency,
			IdleTimeout:      cfg.Attendance.IdleTimeout,
			DefaultGoal:      cfg.Attendance.DefaultDailyGoal,
			DefaultTimezone:  cfg.Attendance.DefaultTimezone,
			Logger:           log.New(os.Stderr, "attendance: ", log.LstdFlags),
		})
	discordBot := bot.New(cfg, database, session, hub)

	// Set up signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return feed.Listen(ctx)
	})
	g.Go(func() error {
		hub.Start(ctx)
		<-ctx.Done()
		hub.Wait()
		return nil
	})
	g.Go(func() error {
		return discordBot.Start(ctx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("Error during shutdown: %v", err)
		os.Exit(1)
	}

	log.Println("Application shutdown complete")
}
