package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
)

// Inspect prints the table's columns and a few sample rows.
func (a *App) Inspect(ctx context.Context, opts InspectOptions) error {
	svc, closeBackend, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer closeBackend()

	report, err := svc.Inspect(ctx, opts.Sample)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "backend: %s\ntable: %s\n\n", report.Backend, a.Config.Warehouse.Table)

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Column\tType\tNullable")
	for _, col := range report.Columns {
		fmt.Fprintf(writer, "%s\t%s\t%t\n", col.Name, col.DataType, col.Nullable)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	if report.Sample.Len() == 0 {
		return nil
	}

	fmt.Fprintf(a.Out, "\nsample (%d rows):\n", report.Sample.Len())
	writer = tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, strings.Join(report.Sample.Columns, "\t"))
	for _, row := range report.Sample.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = sanitizeInline(fmt.Sprint(v))
		}
		fmt.Fprintln(writer, strings.Join(cells, "\t"))
	}
	return writer.Flush()
}
