package census

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/services"
	"github.com/mroshb/clan_portal/pkg/logger"
	"github.com/mroshb/clan_portal/pkg/utils"
	"github.com/xuri/excelize/v2"
)

// Row is one line of an import sheet. An empty Clan describes the village
// itself.
type Row struct {
	Line        int
	Village     string
	Clan        string
	Capacity    int
	Description string
}

// ReadRows parses the first sheet of a workbook laid out like the Census
// sheet: Village, Clan, Capacity, Members (ignored), Description. The
// header row is skipped.
func ReadRows(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}

	var rows []Row
	for i, cols := range raw {
		if i == 0 || len(cols) == 0 {
			continue
		}

		row := Row{Line: i + 1, Village: utils.NormalizeName(cell(cols, 0)), Clan: utils.NormalizeName(cell(cols, 1))}
		if row.Village == "" {
			continue
		}
		if s := strings.TrimSpace(cell(cols, 2)); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("line %d: capacity %q is not a positive integer", row.Line, s)
			}
			row.Capacity = n
		}
		row.Description = strings.TrimSpace(cell(cols, 4))
		rows = append(rows, row)
	}
	return rows, nil
}

func cell(cols []string, i int) string {
	if i < len(cols) {
		return cols[i]
	}
	return ""
}

// Directory is the part of the directory service an import needs.
type Directory interface {
	ListVillages(ctx context.Context) ([]models.Village, error)
	CreateVillage(ctx context.Context, f services.VillageFields) (*models.Village, error)
	CreateClan(ctx context.Context, villageID uint, f services.VillageFields) (*models.Clan, error)
}

type ImportResult struct {
	VillagesCreated int `json:"villagesCreated"`
	ClansCreated    int `json:"clansCreated"`
	Skipped         int `json:"skipped"`
}

// Import creates the villages and clans in rows that do not exist yet.
// Existing entries are matched by name, ignoring case, and left unchanged.
// A clan row whose village is missing creates the village with defaults.
func Import(ctx context.Context, dir Directory, rows []Row) (ImportResult, error) {
	var result ImportResult

	existing, err := dir.ListVillages(ctx)
	if err != nil {
		return result, err
	}

	villages := make(map[string]*models.Village, len(existing))
	for i := range existing {
		villages[strings.ToLower(existing[i].Name)] = &existing[i]
	}

	ensureVillage := func(row Row, withDetails bool) (*models.Village, bool, error) {
		if v, ok := villages[strings.ToLower(row.Village)]; ok {
			return v, false, nil
		}
		fields := services.VillageFields{Name: &row.Village}
		if withDetails {
			if row.Capacity > 0 {
				fields.Capacity = &row.Capacity
			}
			if row.Description != "" {
				fields.Description = &row.Description
			}
		}
		v, err := dir.CreateVillage(ctx, fields)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: %w", row.Line, err)
		}
		villages[strings.ToLower(v.Name)] = v
		result.VillagesCreated++
		return v, true, nil
	}

	for _, row := range rows {
		if row.Clan == "" {
			_, created, err := ensureVillage(row, true)
			if err != nil {
				return result, err
			}
			if !created {
				result.Skipped++
			}
			continue
		}

		v, _, err := ensureVillage(row, false)
		if err != nil {
			return result, err
		}
		if hasClan(v, row.Clan) {
			result.Skipped++
			continue
		}

		fields := services.VillageFields{Name: &row.Clan}
		if row.Capacity > 0 {
			fields.Capacity = &row.Capacity
		}
		if row.Description != "" {
			fields.Description = &row.Description
		}
		clan, err := dir.CreateClan(ctx, v.ID, fields)
		if err != nil {
			return result, fmt.Errorf("line %d: %w", row.Line, err)
		}
		v.Clans = append(v.Clans, *clan)
		result.ClansCreated++
	}

	logger.Info("Census imported",
		"villages_created", result.VillagesCreated, "clans_created", result.ClansCreated, "skipped", result.Skipped)
	return result, nil
}

func hasClan(v *models.Village, name string) bool {
	for _, c := range v.Clans {
		if utils.SameName(c.Name, name) {
			return true
		}
	}
	return false
}
