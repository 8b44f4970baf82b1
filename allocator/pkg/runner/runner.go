package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/bounty/allocator/pkg/allocation"
	"github.com/malbeclabs/bounty/allocator/pkg/catalog"
	"github.com/malbeclabs/bounty/allocator/pkg/export"
	"github.com/malbeclabs/bounty/allocator/pkg/ingest"
	"github.com/malbeclabs/bounty/allocator/pkg/metrics"
	"github.com/malbeclabs/bounty/allocator/pkg/objectstore"
	"github.com/malbeclabs/bounty/allocator/pkg/participation"
	"github.com/malbeclabs/bounty/allocator/pkg/report"
	"github.com/malbeclabs/bounty/allocator/pkg/store"
	"golang.org/x/sync/errgroup"
)

const (
	ReportFileName   = "output.json"
	ManifestFileName = "manifest.json"
)

// RunStore is the persistence sink for completed runs.
type RunStore interface {
	SaveRun(ctx context.Context, run store.Run, result *allocation.Result) error
}

type Config struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Catalog *catalog.Catalog
	Columns ingest.Columns
	Formats []export.Format

	// ObjectStore serves s3:// inputs and the OutputURL sink.
	ObjectStore objectstore.Store
	// OutputDir receives artifacts on the local filesystem when set.
	OutputDir string
	// OutputURL is an s3://bucket/prefix that receives artifacts under a
	// per-run key prefix when set.
	OutputURL string
	// RunStore receives the run and its result tables when set.
	RunStore RunStore
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if err := cfg.Columns.Validate(); err != nil {
		return fmt.Errorf("invalid columns: %w", err)
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = []export.Format{export.FormatCSV}
	}
	for _, f := range cfg.Formats {
		if !f.Valid() {
			return fmt.Errorf("unknown export format %q", f)
		}
	}
	if cfg.OutputURL != "" {
		if _, _, err := parseOutputURL(cfg.OutputURL); err != nil {
			return err
		}
		if cfg.ObjectStore == nil {
			return errors.New("object store is required when an output url is set")
		}
	}
	return nil
}

// parseOutputURL accepts s3://bucket and s3://bucket/prefix.
func parseOutputURL(raw string) (bucket, prefix string, err error) {
	bucket, prefix, err = objectstore.ParseURL(raw)
	if err == nil {
		return bucket, prefix, nil
	}
	bucket, _, err = objectstore.ParseURL(raw + "/x")
	if err != nil {
		return "", "", fmt.Errorf("invalid output url %q: %w", raw, err)
	}
	return bucket, "", nil
}

type Runner struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{log: cfg.Logger, cfg: cfg}, nil
}

// Manifest records what a run consumed and produced.
type Manifest struct {
	RunID       string                            `json:"run_id"`
	Created     time.Time                         `json:"created"`
	Input       string                            `json:"input"`
	InputSHA256 string                            `json:"input_sha256"`
	Rows        int                               `json:"rows"`
	Members     int                               `json:"members"`
	Campaigns   int                               `json:"campaigns"`
	TotalTokens string                            `json:"total_tokens"`
	Warnings    map[participation.WarningKind]int `json:"warnings"`
	Artifacts   []*export.Artifact                `json:"artifacts"`
	Sinks       []string                          `json:"sinks"`
}

// Outcome is everything a completed run produced.
type Outcome struct {
	Manifest  *Manifest
	Result    *allocation.Result
	Artifacts []*export.Artifact
}

// Run reads the input, computes allocations and writes every configured sink.
// Sinks are written concurrently; the manifest is written last.
func (r *Runner) Run(ctx context.Context, input string) (*Outcome, error) {
	outcome, err := r.run(ctx, input)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.RunsTotal.WithLabelValues("success").Inc()
	return outcome, nil
}

func (r *Runner) run(ctx context.Context, input string) (*Outcome, error) {
	runID := uuid.NewString()
	created := r.cfg.Clock.Now().UTC()
	log := r.log.With("run_id", runID)

	src, err := ingest.Open(ctx, input, r.cfg.ObjectStore)
	if err != nil {
		return nil, err
	}
	rows, err := src.Submissions(r.cfg.Columns)
	if err != nil {
		return nil, err
	}
	metrics.RowsIngested.Add(float64(len(rows)))
	log.Info("allocator: read submissions", "input", input, "rows", len(rows))

	start := time.Now()
	result, err := allocation.Compute(rows, r.cfg.Catalog)
	metrics.ComputeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to compute allocations: %w", err)
	}
	r.observe(log, result)
	log.Info("allocator: " + report.Statistics(result))

	artifacts, err := r.render(result)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		RunID:       runID,
		Created:     created,
		Input:       input,
		InputSHA256: export.Checksum(src.Data),
		Rows:        len(rows),
		Members:     len(result.Members),
		Campaigns:   len(result.CampaignTotals),
		TotalTokens: result.TotalTokens().String(),
		Warnings:    participation.CountByKind(result.Warnings),
		Artifacts:   artifacts,
		Sinks:       []string{},
	}

	run := store.NewRun(runID, created, input, manifest.InputSHA256, len(rows), result)
	if err := r.writeSinks(ctx, log, manifest, run, result, artifacts); err != nil {
		return nil, err
	}
	if err := r.writeManifest(ctx, manifest); err != nil {
		return nil, err
	}

	log.Info("allocator: run complete", "members", manifest.Members, "total_tokens", manifest.TotalTokens, "sinks", len(manifest.Sinks))
	return &Outcome{Manifest: manifest, Result: result, Artifacts: artifacts}, nil
}

func (r *Runner) observe(log *slog.Logger, result *allocation.Result) {
	for _, w := range result.Warnings {
		metrics.WarningsTotal.WithLabelValues(string(w.Kind)).Inc()
		log.Warn("allocator: "+w.Message, "kind", w.Kind, "address", w.Address, "week", string(w.Week), "campaign", string(w.Campaign))
	}
	metrics.Members.Set(float64(len(result.Members)))
	for _, total := range result.CampaignTotals {
		metrics.TokensAllocated.WithLabelValues(string(total.Campaign)).Set(total.AllocatedTokens.InexactFloat64())
	}
}

func (r *Runner) render(result *allocation.Result) ([]*export.Artifact, error) {
	artifacts := make([]*export.Artifact, 0, len(r.cfg.Formats)+2)
	for _, f := range r.cfg.Formats {
		a, err := export.Render(f, result)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}

	totals, err := export.MemberTotalsArtifact(result)
	if err != nil {
		return nil, err
	}
	artifacts = append(artifacts, totals)

	tree, err := report.ParticipationTree(result, r.cfg.Catalog, r.cfg.Clock).JSON()
	if err != nil {
		return nil, err
	}
	artifacts = append(artifacts, &export.Artifact{
		Name:        ReportFileName,
		ContentType: export.FormatJSON.ContentType(),
		Checksum:    export.Checksum(tree),
		Data:        tree,
	})
	return artifacts, nil
}

func (r *Runner) writeSinks(ctx context.Context, log *slog.Logger, manifest *Manifest, run store.Run, result *allocation.Result, artifacts []*export.Artifact) error {
	type sink struct {
		name  string
		write func(ctx context.Context) error
	}
	var sinks []sink
	if r.cfg.OutputDir != "" {
		sinks = append(sinks, sink{"local", func(context.Context) error {
			return writeLocal(r.cfg.OutputDir, artifacts)
		}})
	}
	if r.cfg.OutputURL != "" {
		sinks = append(sinks, sink{"s3", func(ctx context.Context) error {
			return r.upload(ctx, run.ID, artifacts)
		}})
	}
	if r.cfg.RunStore != nil {
		sinks = append(sinks, sink{"clickhouse", func(ctx context.Context) error {
			return r.cfg.RunStore.SaveRun(ctx, run, result)
		}})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sinks {
		g.Go(func() error {
			if err := s.write(gctx); err != nil {
				metrics.SinkWritesTotal.WithLabelValues(s.name, "error").Inc()
				return fmt.Errorf("failed to write %s sink: %w", s.name, err)
			}
			metrics.SinkWritesTotal.WithLabelValues(s.name, "success").Inc()
			log.Debug("allocator: wrote sink", "sink", s.name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, s := range sinks {
		manifest.Sinks = append(manifest.Sinks, s.name)
	}
	return nil
}

func writeLocal(dir string, artifacts []*export.Artifact) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, a := range artifacts {
		if err := os.WriteFile(filepath.Join(dir, a.Name), a.Data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", a.Name, err)
		}
	}
	return nil
}

func (r *Runner) upload(ctx context.Context, runID string, artifacts []*export.Artifact) error {
	bucket, prefix, err := parseOutputURL(r.cfg.OutputURL)
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		key := objectstore.JoinKey(objectstore.JoinKey(prefix, runID), a.Name)
		if err := r.cfg.ObjectStore.Put(ctx, bucket, key, a.Data, a.ContentType); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) writeManifest(ctx context.Context, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	data = append(data, '\n')
	artifact := &export.Artifact{Name: ManifestFileName, ContentType: export.FormatJSON.ContentType(), Data: data}

	if r.cfg.OutputDir != "" {
		if err := writeLocal(r.cfg.OutputDir, []*export.Artifact{artifact}); err != nil {
			return err
		}
	}
	if r.cfg.OutputURL != "" {
		if err := r.upload(ctx, manifest.RunID, []*export.Artifact{artifact}); err != nil {
			return fmt.Errorf("failed to upload manifest: %w", err)
		}
	}
	return nil
}
