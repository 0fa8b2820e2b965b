package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/mroshb/clan_portal/internal/database"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Info),
		TranslateError: true,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	fmt.Println("🚀 Starting portal migration...")

	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to migrate tables: %v", err)
	}
	if err := database.SeedRoles(db, os.Args[1:]...); err != nil {
		log.Fatalf("Failed to seed roles: %v", err)
	}
	fmt.Println("✅ Tables created successfully!")

	fmt.Println("📊 Creating indexes...")
	statements := []string{
		// Backs the one-live-application rule at the database level.
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_applications_one_live ON applications(user_id) WHERE status IN ('PENDING', 'INTERVIEW')",
		"CREATE INDEX IF NOT EXISTS idx_applications_clan_seats ON applications(clan_id) WHERE status IN ('PENDING', 'INTERVIEW', 'ACCEPTED')",
		"CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox_events(next_attempt_at) WHERE delivered_at IS NULL AND failed_at IS NULL",
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			log.Fatalf("Failed to create index: %v", err)
		}
	}
	fmt.Println("✅ Indexes created successfully!")

	fmt.Println("✅ Migration completed successfully!")
}
