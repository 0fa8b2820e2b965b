// Package census reads and writes the village census as Excel workbooks.
package census

import (
	"fmt"
	"io"

	"github.com/mroshb/clan_portal/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	CensusSheet       = "Census"
	ApplicationsSheet = "Applications"
)

var (
	censusHeader       = []interface{}{"Village", "Clan", "Capacity", "Members", "Description"}
	applicationsHeader = []interface{}{"ID", "Status", "Applicant", "Telegram ID", "Village", "Clan", "Submitted", "Biography"}
)

// Export writes a workbook with one Census row per village and clan, and,
// when apps is non-nil, an Applications sheet.
func Export(w io.Writer, villages []models.Village, apps []models.Application) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", CensusSheet); err != nil {
		return err
	}
	if err := writeCensus(f, villages); err != nil {
		return err
	}

	if apps != nil {
		if _, err := f.NewSheet(ApplicationsSheet); err != nil {
			return err
		}
		if err := writeApplications(f, apps); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}

func writeCensus(f *excelize.File, villages []models.Village) error {
	if err := f.SetSheetRow(CensusSheet, "A1", &censusHeader); err != nil {
		return err
	}

	row := 2
	for _, v := range villages {
		values := []interface{}{v.Name, "", v.Capacity, v.MemberCount, v.Description}
		if err := setRow(f, CensusSheet, row, values); err != nil {
			return err
		}
		row++

		for _, c := range v.Clans {
			values := []interface{}{v.Name, c.Name, c.Capacity, c.MemberCount, c.Description}
			if err := setRow(f, CensusSheet, row, values); err != nil {
				return err
			}
			row++
		}
	}
	return f.SetPanes(CensusSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeApplications(f *excelize.File, apps []models.Application) error {
	if err := f.SetSheetRow(ApplicationsSheet, "A1", &applicationsHeader); err != nil {
		return err
	}

	for i, app := range apps {
		var applicant, village, clan string
		var telegramID int64
		if app.User != nil {
			applicant = app.User.DisplayName()
			telegramID = app.User.TelegramID
		}
		if app.Village != nil {
			village = app.Village.Name
		}
		if app.Clan != nil {
			clan = app.Clan.Name
		}

		values := []interface{}{
			app.ID, string(app.Status), applicant, telegramID, village, clan,
			app.CreatedAt.UTC().Format("2006-01-02 15:04"), app.Biography,
		}
		if err := setRow(f, ApplicationsSheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}
