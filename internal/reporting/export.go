package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	callsSheet = "Calls"

	// XLSXContentType is the MIME type of WriteXLSX output.
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var exportHeadings = []any{
	"Call ID", "Title", "Recorded At", "Status", "Call Type", "Participants",
	"Contact", "Company", "CRM Deal ID",
	"Summary", "Risks", "Action Items", "Follow-up",
	"Sync Attempts", "Last Sync", "External Ref",
}

// WriteXLSX renders rows as a single-sheet workbook.
func WriteXLSX(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", callsSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(callsSheet, "A1", &exportHeadings); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(exportHeadings), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(callsSheet, "A1", last, bold); err != nil {
		return err
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := rowValues(r)
		if err := f.SetSheetRow(callsSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	return f.Write(w)
}

func rowValues(r Row) []any {
	c := r.Call
	out := []any{
		c.ID, c.Title, c.RecordedAt.UTC().Format(time.RFC3339), string(c.Status), c.CallType,
		strings.Join(c.Participants, ", "),
		c.ContactName, c.Company, c.CRMDealID,
	}
	if a := r.Analysis; a != nil {
		out = append(out,
			strings.Join(a.Summary, "\n"),
			strings.Join(a.Risks, "\n"),
			strings.Join(a.ActionItems, "\n"),
			a.FollowUp,
		)
	} else {
		out = append(out, "", "", "", "")
	}

	out = append(out, r.SyncCount)
	if e := r.LastSync; e != nil {
		ref := ""
		if e.ExternalRef != nil {
			ref = *e.ExternalRef
		}
		out = append(out, string(e.Outcome)+" "+e.AttemptedAt.UTC().Format(time.RFC3339), ref)
	} else {
		out = append(out, "", "")
	}
	return out
}
