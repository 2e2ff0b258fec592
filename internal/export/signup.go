// Package export builds the weekly signup sheet organizers share with
// volunteers. The sheet never carries a recipient's name, street address or
// contact details.
package export

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/store"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const sheetName = "Signup"

var headers = []string{
	"Request", "Category", "Status", "City", "Adults", "Children",
	"Dietary", "Allergies", "Preferred days", "Preferred times", "Delivery date",
}

// SignupSheet renders one row per request.
func SignupSheet(title string, reqs []models.Request, generated time.Time) (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 16},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
	})
	f.SetCellValue(sheetName, "A1", title)
	f.SetCellStyle(sheetName, "A1", "A1", titleStyle)
	f.SetRowHeight(sheetName, 1, 30)
	f.SetCellValue(sheetName, "A2", fmt.Sprintf("Generated: %s", generated.Format("2006-01-02 15:04")))

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#C6E0B4"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 4)
		f.SetCellValue(sheetName, cell, h)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, col, col, 18)
	}

	for r, req := range reqs {
		row := []any{
			strings.ToUpper(req.UUID.String()[:8]),
			string(req.Category),
			string(req.Status),
			req.Address.City,
			req.Household.NumAdults,
			req.Household.NumChildren,
			strings.Join(req.Dietary.Strings(), ", "),
			req.Allergies,
			strings.Join(req.Delivery.Days.Strings(), ", "),
			strings.Join(req.Delivery.TimePeriods.Strings(), ", "),
			"",
		}
		if d := req.Assignment.DeliveryDate; d != nil {
			row[len(row)-1] = d.UTC().Format("2006-01-02")
		}
		cell, _ := excelize.CoordinatesToCellName(1, r+5)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, err
		}
	}

	f.DeleteSheet("Sheet1")
	return f, nil
}

// WriteSignupSheet writes the sheet of Selected requests of c and returns
// how many rows it holds.
func WriteSignupSheet(ctx context.Context, gdb *gorm.DB, c models.Category, now time.Time, w io.Writer) (int, error) {
	var reqs []models.Request
	err := gdb.WithContext(ctx).
		Where("category = ? AND archived_at IS NULL", c).
		Scopes(store.InStatus(models.StatusSelected)).
		Order("created_at ASC, id ASC").
		Find(&reqs).Error
	if err != nil {
		return 0, err
	}
	f, err := SignupSheet(fmt.Sprintf("%s requests open for signup", titleCase(string(c))), reqs, now)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return 0, err
	}
	return len(reqs), nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
