// Package export renders booking and inventory reports as XLSX workbooks.
package export

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"parkhub/internal/models"
)

// ContentType is the MIME type of the produced workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const maxSheetName = 31

// Workbook appends rows to sheets of an in-memory spreadsheet.
type Workbook struct {
	file  *excelize.File
	sheet string
	row   int
}

func NewWorkbook() *Workbook {
	return &Workbook{file: excelize.NewFile()}
}

// AddSheet starts a new sheet. The first call renames the default sheet.
func (wb *Workbook) AddSheet(name string) error {
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	if wb.sheet == "" {
		if err := wb.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := wb.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	wb.sheet = name
	wb.row = 1
	return nil
}

// WriteHeader writes a bold header row.
func (wb *Workbook) WriteHeader(columns ...string) error {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	start := wb.row
	if err := wb.WriteRow(row...); err != nil {
		return err
	}
	style, err := wb.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	first, _ := excelize.CoordinatesToCellName(1, start)
	last, _ := excelize.CoordinatesToCellName(len(columns), start)
	return wb.file.SetCellStyle(wb.sheet, first, last, style)
}

func (wb *Workbook) WriteRow(values ...any) error {
	if wb.sheet == "" {
		return errors.New("no active sheet")
	}
	cell, err := excelize.CoordinatesToCellName(1, wb.row)
	if err != nil {
		return err
	}
	if err := wb.file.SetSheetRow(wb.sheet, cell, &values); err != nil {
		return err
	}
	wb.row++
	return nil
}

// WriteTo serialises the workbook.
func (wb *Workbook) WriteTo(w io.Writer) (int64, error) {
	return wb.file.WriteTo(w)
}

func (wb *Workbook) Close() error {
	return wb.file.Close()
}

// WriteBookings writes one row per booking.
func WriteBookings(w io.Writer, bookings []models.Booking) error {
	wb := NewWorkbook()
	defer wb.Close()

	if err := wb.AddSheet("bookings"); err != nil {
		return err
	}
	if err := wb.WriteHeader("ID", "User", "Lot", "Spot", "Requested spot", "Status", "Failure reason", "Created", "Updated"); err != nil {
		return err
	}
	for _, b := range bookings {
		err := wb.WriteRow(
			b.ID, b.UserID, b.LotID, b.SpotID, b.RequestedSpotID,
			b.Status, b.FailureReason,
			b.CreatedAt.UTC().Format(time.RFC3339), b.UpdatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("write booking %d: %w", b.ID, err)
		}
	}
	_, err := wb.WriteTo(w)
	return err
}

// WriteLots writes a lot occupancy summary.
func WriteLots(w io.Writer, lots []models.LotSummary) error {
	wb := NewWorkbook()
	defer wb.Close()

	if err := wb.AddSheet("lots"); err != nil {
		return err
	}
	if err := wb.WriteHeader("Lot", "Total", "Available", "Reserved"); err != nil {
		return err
	}
	for _, l := range lots {
		if err := wb.WriteRow(l.ID, l.TotalSpots, l.AvailableSpots, l.ReservedSpots); err != nil {
			return fmt.Errorf("write lot %s: %w", l.ID, err)
		}
	}
	_, err := wb.WriteTo(w)
	return err
}
