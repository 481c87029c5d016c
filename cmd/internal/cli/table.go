package cli

import (
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// table renders borderless, left-aligned rows.
type table struct {
	tw     *tablewriter.Table
	header []string
	rows   [][]string
}

func newTable(w io.Writer, header ...string) *table {
	t := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{ShowHeader: tw.Off},
			},
		}),
	)
	return &table{tw: t, header: header}
}

func (t *table) add(row ...string) {
	t.rows = append(t.rows, row)
}

func (t *table) render() error {
	t.tw.Header(t.header)
	if err := t.tw.Bulk(t.rows); err != nil {
		return err
	}
	return t.tw.Render()
}
