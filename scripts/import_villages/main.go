package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/mroshb/clan_portal/internal/census"
	"github.com/mroshb/clan_portal/internal/repositories"
	"github.com/mroshb/clan_portal/internal/services"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	path := flag.String("file", "villages.xlsx", "workbook with Village, Clan, Capacity, Members, Description columns")
	dryRun := flag.Bool("dry-run", false, "print the parsed rows without writing")
	flag.Parse()

	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	rows, err := census.ReadRows(f)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Read %d rows from %s\n", len(rows), *path)

	if *dryRun {
		for _, row := range rows {
			fmt.Printf("Line %d: village=%q clan=%q capacity=%d\n", row.Line, row.Village, row.Clan, row.Capacity)
		}
		return
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		os.Getenv("DB_HOST"), os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"), os.Getenv("DB_PORT"), envOr("DB_SSLMODE", "disable"))

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect database:", err)
	}

	directory := services.NewDirectoryService(repositories.NewStore(db), nil)
	result, err := census.Import(context.Background(), directory, rows)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Created %d villages and %d clans, skipped %d existing rows.\n",
		result.VillagesCreated, result.ClansCreated, result.Skipped)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
