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
	"github.com/xuri/excelize/v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	out := flag.String("out", "census.xlsx", "output workbook")
	inspect := flag.Bool("inspect", false, "print the first rows of every sheet after writing")
	flag.Parse()

	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect database:", err)
	}

	ctx := context.Background()
	store := repositories.NewStore(db)
	villages, err := services.NewDirectoryService(store, nil).ListVillages(ctx)
	if err != nil {
		log.Fatal(err)
	}
	apps, err := services.NewApplicationService(store, nil, nil, services.LedgerOptions{}).
		ListAll(ctx, repositories.ApplicationFilter{Limit: 500})
	if err != nil {
		log.Fatal(err)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatal(err)
	}
	if err := census.Export(f, villages, apps); err != nil {
		f.Close()
		log.Fatal(err)
	}
	if err := f.Close(); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Wrote %d villages and %d applications to %s\n", len(villages), len(apps), *out)

	if *inspect {
		printSheets(*out)
	}
}

func printSheets(path string) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Sheet %s (%d rows)\n", sheetName, len(rows))
		for i, row := range rows {
			if i > 5 {
				break
			}
			fmt.Printf("Row %d: %v\n", i, row)
		}
	}
}
