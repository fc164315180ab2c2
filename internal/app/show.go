package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
)

// Show prints the most recent records.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	svc, closeBackend, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer closeBackend()

	records, err := svc.Full(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no records found")
		return nil
	}
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[len(records)-opts.Limit:]
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tDII Buy\tDII Sell\tDII Net\tFII Buy\tFII Sell\tFII Net\tInserted (IST)\tLatency h")

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.RunDate,
			rec.DIIBuy, rec.DIISell, rec.DIINet,
			rec.FIIBuy, rec.FIISell, rec.FIINet,
			orDash(rec.InsertedAtIST),
			formatHours(rec.LatencyHours),
		)
	}

	return writer.Flush()
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return sanitizeInline(*s)
}

func formatHours(h *float64) string {
	if h == nil {
		return "-"
	}
	return strconv.FormatFloat(*h, 'f', 2, 64)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
