// Package report renders toolkit results as terminal tables, in the same
// rounded go-pretty style the rest of the reader tooling in this lineage
// uses for card output.
package report

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/barnettlynn/ntag424sdm/internal/toolkit"
)

var (
	colorHeader  = text.Colors{text.FgCyan, text.Bold}
	colorLabel   = text.Colors{text.FgYellow}
	colorValue   = text.Colors{text.FgWhite}
	colorSuccess = text.Colors{text.FgGreen}
	colorError   = text.Colors{text.FgRed}
	colorWarn    = text.Colors{text.FgYellow}
)

func getTableStyle() table.Style {
	style := table.StyleRounded
	style.Color.Header = colorHeader
	style.Color.Row = text.Colors{text.FgWhite}
	style.Color.RowAlternate = text.Colors{text.FgHiWhite}
	style.Options.SeparateRows = false
	return style
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(getTableStyle())
	return t
}

// PrintDiagnose renders a DiagnoseReport: tag identity, version info, and
// one row per file with its access rights and (when known) read counter.
func PrintDiagnose(r *toolkit.DiagnoseReport) {
	fmt.Println()
	t := newTable()
	t.SetTitle("TAG IDENTITY")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 18},
		{Number: 2, Colors: colorValue, WidthMin: 40},
	})
	t.AppendRow(table.Row{"UID", r.UID})
	if r.Version != nil {
		v := r.Version
		t.AppendRow(table.Row{"Hardware", fmt.Sprintf("vendor=%02X type=%02X subtype=%02X ver=%d.%d",
			v.HWVendorID, v.HWType, v.HWSubType, v.HWMajorVer, v.HWMinorVer)})
		t.AppendRow(table.Row{"Software", fmt.Sprintf("vendor=%02X type=%02X subtype=%02X ver=%d.%d",
			v.SWVendorID, v.SWType, v.SWSubType, v.SWMajorVer, v.SWMinorVer)})
		t.AppendRow(table.Row{"Batch", fmt.Sprintf("%X", v.BatchNo)})
		t.AppendRow(table.Row{"Production", fmt.Sprintf("week %02X / year %02X (BCD)", v.ProdWeek, v.ProdYear)})
	}
	t.Render()

	if len(r.AuthSlots) > 0 {
		fmt.Println()
		ta := newTable()
		ta.SetTitle("KEY SLOT PROBE")
		ta.AppendHeader(table.Row{"Slot", "Result", "Detail"})
		ta.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, Colors: colorLabel, WidthMin: 6},
			{Number: 2, Colors: colorValue, WidthMin: 10},
			{Number: 3, Colors: colorValue, WidthMin: 24},
		})
		for _, slot := range r.AuthSlots {
			if slot.Success {
				ta.AppendRow(table.Row{slot.Slot, "open", "candidate key accepted"})
				continue
			}
			detail := "auth failed"
			if slot.Step != "" {
				detail = fmt.Sprintf("%s SW=%04X", slot.Step, slot.SW)
			}
			ta.AppendRow(table.Row{slot.Slot, "closed", detail})
		}
		ta.Render()
	}

	fmt.Println()
	t2 := newTable()
	t2.SetTitle("FILE SETTINGS")
	t2.AppendHeader(table.Row{"File", "CommMode", "AR1", "AR2", "SDM", "Counter", "Error"})
	t2.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 6},
		{Number: 2, Colors: colorValue, WidthMin: 10},
		{Number: 3, Colors: colorValue, WidthMin: 6},
		{Number: 4, Colors: colorValue, WidthMin: 6},
		{Number: 5, Colors: colorValue, WidthMin: 6},
		{Number: 6, Colors: colorValue, WidthMin: 10},
		{Number: 7, Colors: colorError, WidthMin: 20},
	})
	for _, fr := range r.Files {
		if fr.Err != nil {
			t2.AppendRow(table.Row{fr.FileNo, "-", "-", "-", "-", "-", fr.Err.Error()})
			continue
		}
		commMode := "plain"
		switch fr.Settings.FileOption & 0x03 {
		case 0x01:
			commMode = "MAC"
		case 0x03:
			commMode = "FULL"
		}
		sdmEnabled := "no"
		if fr.Settings.FileOption&0x40 != 0 {
			sdmEnabled = "yes"
		}
		counter := "-"
		if fr.Counter != nil {
			counter = fmt.Sprintf("%d", *fr.Counter)
		}
		t2.AppendRow(table.Row{
			fr.FileNo,
			commMode,
			fmt.Sprintf("%02X", fr.Settings.AR1),
			fmt.Sprintf("%02X", fr.Settings.AR2),
			sdmEnabled,
			counter,
			"",
		})
	}
	t2.Render()
}

// PrintProvision renders a ProvisionReport's key material and resulting
// tap URL. Key values are shown in full: this output is meant for capture
// into an operator's own secrets store, not for a shared terminal.
func PrintProvision(r *toolkit.ProvisionReport) {
	fmt.Println()
	t := newTable()
	t.SetTitle("PROVISIONED TAG")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 20},
		{Number: 2, Colors: colorValue, WidthMin: 40},
	})
	t.AppendRow(table.Row{"UID", r.UID})
	t.AppendRow(table.Row{"PICC Master Key", fmt.Sprintf("%X", r.PICCMasterKey)})
	t.AppendRow(table.Row{"App Read Key", fmt.Sprintf("%X", r.AppReadKey)})
	t.AppendRow(table.Row{"SDM MAC Key", fmt.Sprintf("%X", r.SDMMACKey)})
	if r.Plan != nil {
		t.AppendRow(table.Row{"Tap URL Template", r.Plan.FinalURL})
	}
	t.Render()
	fmt.Println()
	PrintSuccess(fmt.Sprintf("tag %s provisioned and recorded in ledger", r.UID))
}

// PrintRestore renders a RestoreReport.
func PrintRestore(r *toolkit.RestoreReport) {
	fmt.Println()
	PrintSuccess(fmt.Sprintf("tag %s restored to factory defaults", r.UID))
}

func PrintError(msg string) {
	fmt.Println(colorError.Sprintf("✗ %s", msg))
}

func PrintSuccess(msg string) {
	fmt.Println(colorSuccess.Sprintf("✓ %s", msg))
}

func PrintWarning(msg string) {
	fmt.Println(colorWarn.Sprintf("⚠ %s", msg))
}
