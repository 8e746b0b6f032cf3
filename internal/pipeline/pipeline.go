// Package pipeline runs the dataset build end to end: anchor selection,
// checkpointed fetching, interpolation, materialization, and upload.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gridwx/weather-grid-service/internal/anchor"
	"github.com/gridwx/weather-grid-service/internal/checkpoint"
	"github.com/gridwx/weather-grid-service/internal/cities"
	"github.com/gridwx/weather-grid-service/internal/dataset"
	"github.com/gridwx/weather-grid-service/internal/fetch"
	"github.com/gridwx/weather-grid-service/internal/grid"
	"github.com/gridwx/weather-grid-service/internal/interp"
	"github.com/gridwx/weather-grid-service/internal/observability"
	"github.com/gridwx/weather-grid-service/internal/store"
)

// Config controls one pipeline run.
type Config struct {
	Anchor      anchor.Config
	Materialize dataset.Config
	// Candidates is the k-nearest pool consulted per cell during
	// interpolation.
	Candidates int
	// BatchSize is the number of records per store write.
	BatchSize int
}

// Summary reports what one run did. Returned even on interruption so the
// caller can log how far the run got.
type Summary struct {
	Phase checkpoint.Phase

	Cities  int
	Cells   int
	Anchors int

	Fetched int
	Resumed int
	Failed  int

	FailedCells []grid.Cell

	Gaps     int
	Records  int
	Uploaded int

	Duration time.Duration
}

// Runner wires the pipeline's collaborators. Construct once per run.
type Runner struct {
	idx    grid.Index
	client fetch.Client
	ckpt   checkpoint.Store
	store  store.Store
	logger *zap.Logger
	cfg    Config
}

// New returns a Runner. BatchSize and Candidates fall back to sane defaults
// when zero.
func New(idx grid.Index, client fetch.Client, ckpt checkpoint.Store, st store.Store, logger *zap.Logger, cfg Config) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = interp.DefaultCandidates
	}
	return &Runner{idx: idx, client: client, ckpt: ckpt, store: st, logger: logger, cfg: cfg}
}

// Run executes the full build over the given gazetteer. A cancelled context
// interrupts the run after the in-progress fetch; the checkpoint log holds
// everything fetched so far, and the next Run resumes from it.
func (r *Runner) Run(ctx context.Context, cityList []cities.City) (Summary, error) {
	start := time.Now()
	sum := Summary{Phase: checkpoint.NotStarted, Cities: len(cityList)}

	universe := anchor.BuildUniverse(r.idx, cityList)
	sel := anchor.Select(universe, r.cfg.Anchor)
	sum.Cells = len(universe.Candidates)
	sum.Anchors = len(sel.Anchors)
	r.logger.Info("anchor selection complete",
		zap.Int("cities", len(cityList)),
		zap.Int("cells", sum.Cells),
		zap.Int("anchors", sum.Anchors),
		zap.Float64("ratio", sel.Ratio()))

	readings, err := r.restore(sel, &sum)
	if err != nil {
		return sum, err
	}

	sum.Phase = checkpoint.Fetching
	if err := r.fetchAnchors(ctx, sel, readings, &sum); err != nil {
		sum.Phase = checkpoint.Interrupted
		sum.Duration = time.Since(start)
		return sum, err
	}

	result := r.materialize(sel, readings, &sum)

	if err := r.upload(ctx, result.Records, &sum); err != nil {
		sum.Phase = checkpoint.Interrupted
		sum.Duration = time.Since(start)
		return sum, err
	}

	sum.Phase = checkpoint.Completed
	sum.Duration = time.Since(start)
	r.logger.Info("pipeline complete",
		zap.Int("fetched", sum.Fetched),
		zap.Int("resumed", sum.Resumed),
		zap.Int("failed", sum.Failed),
		zap.Int("gaps", sum.Gaps),
		zap.Int("records", sum.Records),
		zap.Int("uploaded", sum.Uploaded),
		zap.Duration("duration", sum.Duration))
	return sum, nil
}

// restore loads the checkpoint log and keeps the entries that are anchors of
// this run. Entries for cells that are no longer anchors (a config change
// between runs) are dropped.
func (r *Runner) restore(sel anchor.Selection, sum *Summary) (map[grid.Cell]fetch.Reading, error) {
	readings := make(map[grid.Cell]fetch.Reading, len(sel.Anchors))
	have, err := r.ckpt.Load()
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	for id, reading := range have {
		cell, err := grid.ParseID(id)
		if err != nil {
			continue
		}
		if !sel.Anchors[cell] {
			continue
		}
		readings[cell] = reading
		sum.Resumed++
		observability.AnchorsResumedTotal.Inc()
	}
	if sum.Resumed > 0 {
		r.logger.Info("resumed from checkpoint", zap.Int("anchors", sum.Resumed))
	}
	return readings, nil
}

// fetchAnchors fetches every anchor not already restored, appending each
// reading to the checkpoint before moving on. Per-anchor unrecoverable
// failures skip that anchor only; context cancellation aborts the run.
func (r *Runner) fetchAnchors(ctx context.Context, sel anchor.Selection, readings map[grid.Cell]fetch.Reading, sum *Summary) error {
	for _, cand := range sel.Universe.Candidates {
		if !sel.Anchors[cand.Cell] {
			continue
		}
		if _, ok := readings[cand.Cell]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("fetch aborted after %d anchors: %w", sum.Fetched, err)
		}

		reading, err := r.client.FetchForecast(ctx, cand.Lat, cand.Lon)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("fetch aborted after %d anchors: %w", sum.Fetched, err)
			}
			category := string(fetch.CategorizeError(err))
			observability.AnchorFailuresTotal.WithLabelValues(category).Inc()
			sum.Failed++
			sum.FailedCells = append(sum.FailedCells, cand.Cell)
			r.logger.Warn("anchor fetch failed, skipping",
				zap.String("grid_id", cand.Cell.ID()),
				zap.String("city", cand.City.Name),
				zap.String("category", category),
				zap.Error(err))
			continue
		}

		entry := checkpoint.Entry{GridID: cand.Cell.ID(), FetchedAt: time.Now().UTC(), Reading: reading}
		if err := r.ckpt.Append(entry); err != nil {
			return fmt.Errorf("checkpoint append %s: %w", cand.Cell.ID(), err)
		}
		readings[cand.Cell] = reading
		sum.Fetched++
		observability.AnchorsFetchedTotal.Inc()
	}
	r.logger.Info("fetch phase complete",
		zap.Int("fetched", sum.Fetched),
		zap.Int("resumed", sum.Resumed),
		zap.Int("failed", sum.Failed))
	return nil
}

// materialize builds the anchor index over fetched cells only and produces
// the record set.
func (r *Runner) materialize(sel anchor.Selection, readings map[grid.Cell]fetch.Reading, sum *Summary) dataset.Result {
	reps := make(map[grid.Cell]cities.City, len(sel.Universe.Candidates))
	for _, cand := range sel.Universe.Candidates {
		reps[cand.Cell] = cand.City
	}
	anchors := make([]interp.Anchor, 0, len(readings))
	for cell := range readings {
		lat, lon := r.idx.Center(cell)
		rep := reps[cell]
		anchors = append(anchors, interp.Anchor{
			Cell:    cell,
			Lat:     lat,
			Lon:     lon,
			City:    rep.Name,
			Country: rep.Country,
		})
	}
	nn := interp.NewIndex(anchors, r.cfg.Candidates)

	mat := dataset.New(r.idx, r.cfg.Materialize)
	result := mat.Materialize(sel, readings, nn)
	sum.Gaps = result.Gaps
	sum.Records = len(result.Records)
	observability.InterpolationGapsTotal.Add(float64(result.Gaps))
	counts := map[dataset.Kind]int{}
	for _, rec := range result.Records {
		counts[rec.Kind]++
	}
	for kind, n := range counts {
		observability.RecordsMaterializedTotal.WithLabelValues(string(kind)).Add(float64(n))
	}
	r.logger.Info("materialization complete",
		zap.Int("records", sum.Records),
		zap.Int("sensor_cells", result.SensorCells),
		zap.Int("derived_cells", result.DerivedCells),
		zap.Int("gaps", result.Gaps))
	return result
}

// upload writes records in fixed-size batches with progress logging.
func (r *Runner) upload(ctx context.Context, recs []dataset.Record, sum *Summary) error {
	total := len(recs)
	for off := 0; off < total; off += r.cfg.BatchSize {
		end := off + r.cfg.BatchSize
		if end > total {
			end = total
		}
		if err := r.store.PutBatch(ctx, recs[off:end]); err != nil {
			return fmt.Errorf("upload batch at %d: %w", off, err)
		}
		sum.Uploaded = end
		observability.RecordsUploadedTotal.Add(float64(end - off))
		if end%(r.cfg.BatchSize*40) == 0 || end == total {
			r.logger.Info("upload progress", zap.Int("uploaded", end), zap.Int("total", total))
		}
	}
	return nil
}
