package app

import (
	"context"
	"errors"
	"time"

	"github.com/stirandas/nfd-visualizations/internal/export"
	"github.com/stirandas/nfd-visualizations/internal/flows"
)

// Export renders the flow table as CSV, PNG, Parquet and/or JSON snapshots.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" && opts.ParquetPath == "" && opts.JSONPath == "" {
		return export.ErrNoOutputs
	}
	if opts.From != nil && opts.To != nil && opts.To.Before(*opts.From) {
		return errors.New("from must not be after to")
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	var uploader export.Uploader
	if opts.Upload || a.Config.Export.S3.Enabled {
		s3Cfg := a.Config.Export.S3
		if s3Cfg.Bucket == "" {
			return errors.New("export.s3.bucket not configured; cannot upload")
		}
		client, err := export.NewS3Client(ctx, s3Cfg)
		if err != nil {
			return err
		}
		uploader = export.NewS3Uploader(client, s3Cfg.Bucket, s3Cfg.Prefix, a.Logger)
	}

	svc, closeBackend, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer closeBackend()

	records, err := svc.Full(ctx)
	if err != nil {
		return err
	}
	records = filterByDate(records, opts.From, opts.To)
	if len(records) == 0 {
		a.Logger.Info().Msg("no records found for export window")
		return nil
	}

	written, err := export.New(uploader, a.Logger).Export(ctx, records, export.Options{
		CSVPath:     opts.CSVPath,
		PNGPath:     opts.PNGPath,
		ParquetPath: opts.ParquetPath,
		JSONPath:    opts.JSONPath,
		MaxPoints:   opts.MaxPoints,
		Compression: a.Config.Export.ParquetCompression,
	})
	if err != nil {
		return err
	}
	a.Logger.Info().Strs("files", written).Int("records", len(records)).Msg("export complete")
	return nil
}

// filterByDate keeps records whose RUN_DT falls in [from, to], both inclusive.
func filterByDate(records []flows.FlowRecord, from, to *time.Time) []flows.FlowRecord {
	if from == nil && to == nil {
		return records
	}
	out := make([]flows.FlowRecord, 0, len(records))
	for _, rec := range records {
		if from != nil && rec.RunDate < from.Format(flows.DateLayout) {
			continue
		}
		if to != nil && rec.RunDate > to.Format(flows.DateLayout) {
			continue
		}
		out = append(out, rec)
	}
	return out
}
