// Package redact runs a redaction request end to end: validate, fetch,
// probe, normalize, compile, render and publish.
package redact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/veil/internal/fault"
	"github.com/andresmejia3/veil/internal/geometry"
	"github.com/andresmejia3/veil/internal/graph"
	"github.com/andresmejia3/veil/internal/metrics"
	"github.com/andresmejia3/veil/internal/region"
	"github.com/andresmejia3/veil/internal/render"
	"github.com/andresmejia3/veil/internal/storage"
	"github.com/andresmejia3/veil/internal/types"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Engine probes and renders videos. *render.Renderer implements it.
type Engine interface {
	Probe(ctx context.Context, path string) (*render.StreamInfo, error)
	Render(ctx context.Context, g *graph.Graph, in, out string, onProgress func(render.Progress)) error
}

// Ledger records job lifecycle. *store.Store implements it.
type Ledger interface {
	CreateJob(ctx context.Context, job types.Job) error
	RecordPlan(ctx context.Context, jobID, sourceID string, width, height, rotation int, regions []types.RegionRecord) error
	MarkPublished(ctx context.Context, jobID, url string) error
	MarkFailed(ctx context.Context, jobID, kind, detail string) error
}

// Options configures a Processor. Ledger and Metrics are optional.
// DefaultBucket fills requests that omit a bucket.
type Options struct {
	Padding       float64
	DefaultBucket string
	MaxConcurrent int64
	TempDir       string
	Ledger        Ledger
	Metrics       *metrics.Metrics
}

// Processor is safe for concurrent use. Concurrent renders are limited to
// Options.MaxConcurrent; everything before the render runs unbounded.
type Processor struct {
	blobs   storage.BlobStore
	engine  Engine
	ledger  Ledger
	metrics *metrics.Metrics
	sem     *semaphore.Weighted
	padding float64
	bucket  string
	tempDir string
	log     zerolog.Logger
}

func New(blobs storage.BlobStore, engine Engine, opts Options, log zerolog.Logger) *Processor {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Processor{
		blobs:   blobs,
		engine:  engine,
		ledger:  opts.Ledger,
		metrics: opts.Metrics,
		sem:     semaphore.NewWeighted(opts.MaxConcurrent),
		padding: opts.Padding,
		bucket:  opts.DefaultBucket,
		tempDir: opts.TempDir,
		log:     log.With().Str("component", "redact").Logger(),
	}
}

// Prepared is a probed, normalized and compiled source ready to render.
type Prepared struct {
	Info     *render.StreamInfo
	Geometry geometry.Geometry
	Plan     *region.Plan
	Graph    *graph.Graph
}

// Process handles one /blur request. Nothing is published unless the render
// succeeded, and scratch files are removed on every path.
func (p *Processor) Process(ctx context.Context, req types.BlurRequest) (res *types.BlurResult, err error) {
	if req.Bucket == "" {
		req.Bucket = p.bucket
	}
	if err := req.Validate(); err != nil {
		p.observe(err)
		return nil, err
	}
	if err := region.Validate(req.Faces); err != nil {
		p.observe(err)
		return nil, err
	}

	jobID := uuid.NewString()
	log := p.log.With().Str("job", jobID).Str("source", req.SourcePath).Logger()
	log.Info().Int("faces", len(req.Faces)).Msg("processing request")

	p.ledgerCall(log, "create job", func(ctx context.Context) error {
		return p.ledger.CreateJob(ctx, types.Job{
			ID:         jobID,
			SourcePath: req.SourcePath,
			OutputPath: req.OutputPath,
			Bucket:     req.Bucket,
		})
	})
	defer func() {
		p.observe(err)
		if err != nil {
			log.Error().Err(err).Str("kind", fault.KindOf(err).String()).Msg("request failed")
			p.ledgerCall(log, "mark failed", func(ctx context.Context) error {
				return p.ledger.MarkFailed(ctx, jobID, fault.KindOf(err).String(), failureDetail(err))
			})
		}
	}()

	dir, err := os.MkdirTemp(p.tempDir, "veil-*")
	if err != nil {
		return nil, fault.Storage("create scratch dir", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "source"+sourceExt(req.SourcePath))
	out := filepath.Join(dir, "output.mp4")

	if err := p.blobs.Download(ctx, req.Bucket, req.SourcePath, src); err != nil {
		return nil, err
	}

	prep, err := p.Prepare(ctx, src, req.Faces)
	if err != nil {
		return nil, err
	}

	p.ledgerCall(log, "record plan", func(ctx context.Context) error {
		sourceID, err := utils.GenerateVideoID(src)
		if err != nil {
			log.Warn().Err(err).Msg("source fingerprint unavailable")
		}
		return p.ledger.RecordPlan(ctx, jobID, sourceID,
			prep.Geometry.DisplayWidth, prep.Geometry.DisplayHeight, prep.Geometry.Rotation, Records(prep.Plan))
	})

	if err := p.Render(ctx, prep, src, out, nil); err != nil {
		return nil, err
	}

	url, err := p.blobs.Upload(ctx, req.Bucket, req.OutputPath, out, storage.ContentTypeMP4)
	if err != nil {
		return nil, err
	}

	p.ledgerCall(log, "mark published", func(ctx context.Context) error {
		return p.ledger.MarkPublished(ctx, jobID, url)
	})
	log.Info().Str("url", url).Int("regions", len(prep.Graph.Stages)).Msg("published")

	return &types.BlurResult{
		Success:    true,
		JobID:      jobID,
		OutputPath: req.OutputPath,
		URL:        url,
		Regions:    len(prep.Graph.Stages),
	}, nil
}

// Prepare probes a local source and compiles its redaction graph.
func (p *Processor) Prepare(ctx context.Context, src string, faces []types.FaceDetection) (*Prepared, error) {
	if err := region.Validate(faces); err != nil {
		return nil, err
	}

	info, err := p.engine.Probe(ctx, src)
	if err != nil {
		return nil, err
	}
	geo, err := info.Geometry()
	if err != nil {
		return nil, err
	}

	plan, g, err := p.compile(geo, faces, p.padding)
	if err != nil {
		return nil, err
	}
	return &Prepared{Info: info, Geometry: geo, Plan: plan, Graph: g}, nil
}

// Render runs a prepared graph once a render slot is free.
func (p *Processor) Render(ctx context.Context, prep *Prepared, src, out string, onProgress func(render.Progress)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fault.Render("await render slot", "", err)
	}
	defer p.sem.Release(1)

	p.metrics.RendersInFlight.Inc()
	defer p.metrics.RendersInFlight.Dec()

	start := time.Now()
	err := p.engine.Render(ctx, prep.Graph, src, out, onProgress)
	p.metrics.RenderDuration.Observe(time.Since(start).Seconds())
	return err
}

// Plan compiles a request against caller-supplied geometry without touching
// storage or ffmpeg.
func (p *Processor) Plan(req types.PlanRequest) (res *types.PlanResult, err error) {
	defer func() {
		if err != nil {
			p.observe(err)
		}
	}()

	if err := region.Validate(req.Faces); err != nil {
		return nil, err
	}
	geo, err := geometry.Resolve(req.Width, req.Height, geometry.RotationHint{Degrees: req.Rotation, Tag: req.RotateTag})
	if err != nil {
		return nil, err
	}

	padding := p.padding
	if req.Padding != nil {
		padding = *req.Padding
	}
	plan, g, err := p.compile(geo, req.Faces, padding)
	if err != nil {
		return nil, err
	}
	return Describe(geo, plan, g)
}

func (p *Processor) compile(geo geometry.Geometry, faces []types.FaceDetection, padding float64) (*region.Plan, *graph.Graph, error) {
	plan, err := region.Normalize(geo, faces, padding)
	if err != nil {
		return nil, nil, err
	}
	p.metrics.RegionsPerRequest.Observe(float64(len(faces)))

	g, err := graph.Compile(plan)
	if err != nil {
		p.metrics.CompilationDefects.Inc()
		p.log.Error().Err(err).Int("regions", len(faces)).Msg("graph compiler defect")
		return nil, nil, err
	}
	return plan, g, nil
}

// Describe renders a compiled graph as a plan result.
func Describe(geo geometry.Geometry, plan *region.Plan, g *graph.Graph) (*types.PlanResult, error) {
	filter, sink, err := render.FilterComplex(g)
	if err != nil {
		return nil, err
	}
	return &types.PlanResult{
		Passthrough:   g.Passthrough,
		DisplayWidth:  geo.DisplayWidth,
		DisplayHeight: geo.DisplayHeight,
		Rotation:      geo.Rotation,
		Filter:        filter,
		Sink:          sink,
		Regions:       Records(plan),
	}, nil
}

// Records flattens plan regions for reporting and the ledger.
func Records(plan *region.Plan) []types.RegionRecord {
	if plan.Empty() {
		return []types.RegionRecord{}
	}
	out := make([]types.RegionRecord, 0, len(plan.Regions))
	for _, r := range plan.Regions {
		rec := types.RegionRecord{
			Index:  r.Index,
			X:      r.Box.X,
			Y:      r.Box.Y,
			Width:  r.Box.Width,
			Height: r.Box.Height,
			Start:  r.Window.Start,
		}
		if !r.Window.Open {
			end := r.Window.End
			rec.End = &end
		}
		out = append(out, rec)
	}
	return out
}

// ledgerCall runs fn against the ledger if one is configured. Ledger
// failures are logged and never fail the request. It uses its own context so
// a cancelled request still gets its final status written.
func (p *Processor) ledgerCall(log zerolog.Logger, what string, fn func(context.Context) error) {
	if p.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Str("op", what).Msg("ledger update failed")
	}
}

func (p *Processor) observe(err error) {
	if err == nil {
		p.metrics.Requests.WithLabelValues("success").Inc()
		return
	}
	p.metrics.Requests.WithLabelValues("failure").Inc()
	p.metrics.Failures.WithLabelValues(fault.KindOf(err).String()).Inc()
}

func failureDetail(err error) string {
	if d := fault.DetailOf(err); d != "" {
		return d
	}
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Err != nil {
		return fe.Err.Error()
	}
	return err.Error()
}

func sourceExt(path string) string {
	if ext := filepath.Ext(path); ext != "" && len(ext) <= 8 {
		return ext
	}
	return ".mp4"
}

// String is used in log lines and CLI summaries.
func (p *Prepared) String() string {
	return fmt.Sprintf("%dx%d rotation %d, %d regions", p.Geometry.DisplayWidth, p.Geometry.DisplayHeight, p.Geometry.Rotation, len(p.Graph.Stages))
}
