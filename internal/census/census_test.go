package census

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/repositories"
	"github.com/mroshb/clan_portal/internal/services"
	"github.com/mroshb/clan_portal/internal/testutil"
	"github.com/xuri/excelize/v2"
)

func sampleVillages() []models.Village {
	return []models.Village{
		{
			ID: 1, Name: "Riverside", Capacity: 50, MemberCount: 3, Description: "By the river",
			Clans: []models.Clan{
				{ID: 1, VillageID: 1, Name: "Otters", Capacity: 10, MemberCount: 2},
				{ID: 2, VillageID: 1, Name: "Beavers", Capacity: 5, MemberCount: 1},
			},
		},
		{ID: 2, Name: "Hilltop", Capacity: 20},
	}
}

func TestExport_CensusSheet(t *testing.T) {
	apps := []models.Application{{
		ID:        9,
		Status:    models.StatusAccepted,
		Biography: "I farm wheat.",
		User:      &models.User{TelegramID: 42, Username: "otter"},
		Village:   &models.Village{Name: "Riverside"},
		CreatedAt: time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC),
	}}

	var buf bytes.Buffer
	if err := Export(&buf, sampleVillages(), apps); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(CensusSheet)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("census rows = %d, want header + 4", len(rows))
	}
	if rows[1][0] != "Riverside" || rows[1][3] != "3" {
		t.Errorf("village row = %v", rows[1])
	}
	if rows[2][1] != "Otters" || rows[2][3] != "2" {
		t.Errorf("clan row = %v", rows[2])
	}

	appRows, err := f.GetRows(ApplicationsSheet)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(appRows) != 2 || appRows[1][1] != "ACCEPTED" || appRows[1][2] != "@otter" || appRows[1][6] != "2025-03-01 10:30" {
		t.Errorf("application rows = %v", appRows)
	}
}

func TestExport_ReadRowsRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Export(&buf, sampleVillages(), nil); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	rows, err := ReadRows(&buf)
	if err != nil {
		t.Fatalf("ReadRows() error = %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	if rows[0].Village != "Riverside" || rows[0].Clan != "" || rows[0].Capacity != 50 || rows[0].Description != "By the river" {
		t.Errorf("rows[0] = %+v", rows[0])
	}
	if rows[2].Clan != "Beavers" || rows[2].Capacity != 5 || rows[2].Line != 4 {
		t.Errorf("rows[2] = %+v", rows[2])
	}
}

func TestReadRows_BadCapacity(t *testing.T) {
	f := excelize.NewFile()
	_ = f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Village", "Clan", "Capacity"})
	_ = f.SetSheetRow("Sheet1", "A2", &[]interface{}{"Riverside", "", "lots"})
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}

	if _, err := ReadRows(&buf); err == nil {
		t.Error("ReadRows() error = nil for a non-numeric capacity")
	}
}

func TestImport(t *testing.T) {
	store := repositories.NewStore(testutil.OpenDB(t))
	dir := services.NewDirectoryService(store, nil)
	ctx := context.Background()

	name := "Riverside"
	if _, err := dir.CreateVillage(ctx, services.VillageFields{Name: &name}); err != nil {
		t.Fatalf("CreateVillage() error = %v", err)
	}

	rows := []Row{
		{Line: 2, Village: "riverside", Capacity: 99},
		{Line: 3, Village: "Riverside", Clan: "Otters", Capacity: 4},
		{Line: 4, Village: "Hilltop", Clan: "Goats"},
		{Line: 5, Village: "Hilltop", Clan: "goats"},
	}
	result, err := Import(ctx, dir, rows)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	want := ImportResult{VillagesCreated: 1, ClansCreated: 2, Skipped: 2}
	if result != want {
		t.Errorf("Import() = %+v, want %+v", result, want)
	}

	villages, err := dir.ListVillages(ctx)
	if err != nil {
		t.Fatalf("ListVillages() error = %v", err)
	}
	if len(villages) != 2 {
		t.Fatalf("villages = %d, want 2", len(villages))
	}
	if villages[0].Capacity != models.DefaultVillageCapacity {
		t.Errorf("existing village capacity changed to %d", villages[0].Capacity)
	}
	if len(villages[0].Clans) != 1 || villages[0].Clans[0].Capacity != 4 {
		t.Errorf("Riverside clans = %+v", villages[0].Clans)
	}
	if villages[1].Name != "Hilltop" || len(villages[1].Clans) != 1 {
		t.Errorf("Hilltop = %+v", villages[1])
	}

	again, err := Import(ctx, dir, rows)
	if err != nil {
		t.Fatalf("second Import() error = %v", err)
	}
	if again.VillagesCreated != 0 || again.ClansCreated != 0 {
		t.Errorf("second Import() = %+v, want nothing created", again)
	}
}
