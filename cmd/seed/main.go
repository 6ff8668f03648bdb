// Command seed fills the database with demo accounts and conversations.
package main

import (
	"context"
	"flag"
	"log"

	"signbridge/internal/bootstrap"
	"signbridge/internal/config"
	"signbridge/internal/seed"

	"github.com/joho/godotenv"
)

func main() {
	numUsers := flag.Int("users", 20, "Number of random users to create besides the demo accounts")
	numGroups := flag.Int("groups", 4, "Number of group conversations")
	messages := flag.Int("messages", 25, "Messages per conversation")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	fast := flag.Bool("fast", false, "Use the minimum bcrypt cost")
	seedValue := flag.Int64("seed", 0, "Random seed for reproducible content (0 = random)")
	flag.Parse()

	_ = godotenv.Load(".env")
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatalf("Refusing to seed a %s database", cfg.Env)
	}

	ctx := context.Background()
	db, _, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	s, err := seed.NewSeeder(db, seed.Options{
		NumUsers:        *numUsers,
		NumGroups:       *numGroups,
		MessagesPerConv: *messages,
		SkipBcrypt:      *fast,
		ShouldClean:     *shouldClean,
		Seed:            *seedValue,
	})
	if err != nil {
		log.Fatalf("Seeder setup failed: %v", err)
	}

	res, err := s.Run(ctx)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Printf("Seeded %d users, %d conversations, %d messages", len(res.Users), len(res.Conversations), res.Messages)
	log.Printf("Log in as deaf.demo@signbridge.local or hearing.demo@signbridge.local with password %s", seed.DefaultPassword)
}
