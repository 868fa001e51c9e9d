package redact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/veil/internal/fault"
	"github.com/andresmejia3/veil/internal/geometry"
	"github.com/andresmejia3/veil/internal/graph"
	"github.com/andresmejia3/veil/internal/render"
	"github.com/andresmejia3/veil/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobs struct {
	mu        sync.Mutex
	downloads []string
	uploads   []string
	failOn    string
}

func (f *fakeBlobs) Download(_ context.Context, bucket, object, dst string) error {
	f.mu.Lock()
	f.downloads = append(f.downloads, bucket+"/"+object)
	f.mu.Unlock()
	if f.failOn == "download" {
		return fault.Storage("download", errors.New("bucket unreachable"))
	}
	return os.WriteFile(dst, []byte("source bytes"), 0o644)
}

func (f *fakeBlobs) Upload(_ context.Context, bucket, object, src, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(src); err != nil {
		return "", fault.Storage("upload", err)
	}
	f.uploads = append(f.uploads, bucket+"/"+object+" "+contentType)
	return "https://example.test/" + bucket + "/" + object, nil
}

type fakeEngine struct {
	mu       sync.Mutex
	info     render.StreamInfo
	probeErr error
	failWith error
	graphs   []*graph.Graph
	inputs   []string
	delay    time.Duration
	active   int
	peak     int
}

func (e *fakeEngine) Probe(context.Context, string) (*render.StreamInfo, error) {
	if e.probeErr != nil {
		return nil, e.probeErr
	}
	info := e.info
	return &info, nil
}

func (e *fakeEngine) Render(ctx context.Context, g *graph.Graph, in, out string, _ func(render.Progress)) error {
	e.mu.Lock()
	e.graphs = append(e.graphs, g)
	e.inputs = append(e.inputs, in)
	e.active++
	if e.active > e.peak {
		e.peak = e.active
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.failWith != nil {
		return e.failWith
	}
	return os.WriteFile(out, []byte("rendered"), 0o644)
}

type fakeLedger struct {
	mu       sync.Mutex
	statuses map[string]types.JobStatus
	kinds    map[string]string
	regions  map[string][]types.RegionRecord
	sources  map[string]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		statuses: map[string]types.JobStatus{},
		kinds:    map[string]string{},
		regions:  map[string][]types.RegionRecord{},
		sources:  map[string]string{},
	}
}

func (l *fakeLedger) CreateJob(_ context.Context, job types.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[job.ID] = types.JobPending
	return nil
}

func (l *fakeLedger) RecordPlan(_ context.Context, jobID, sourceID string, _, _, _ int, regions []types.RegionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources[jobID] = sourceID
	l.statuses[jobID] = types.JobRendering
	l.regions[jobID] = regions
	return nil
}

func (l *fakeLedger) MarkPublished(_ context.Context, jobID, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[jobID] = types.JobPublished
	return nil
}

func (l *fakeLedger) MarkFailed(_ context.Context, jobID, kind, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[jobID] = types.JobFailed
	l.kinds[jobID] = kind
	return nil
}

func (l *fakeLedger) only(t *testing.T) (types.JobStatus, string) {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.statuses, 1)
	for id, s := range l.statuses {
		return s, l.kinds[id]
	}
	return "", ""
}

var hd = render.StreamInfo{Width: 1920, Height: 1080, HasAudio: true}

func endAt(v float64) *float64 { return &v }

func validRequest() types.BlurRequest {
	return types.BlurRequest{
		SourcePath: "uploads/clip.mov",
		OutputPath: "redacted/clip.mp4",
		Bucket:     "media",
		Faces: []types.FaceDetection{
			{X: 0.4, Y: 0.3, Width: 0.1, Height: 0.1, StartTime: 0, EndTime: endAt(3)},
		},
	}
}

func newProcessor(t *testing.T, blobs *fakeBlobs, engine *fakeEngine, ledger Ledger) (*Processor, string) {
	t.Helper()
	tmp := t.TempDir()
	p := New(blobs, engine, Options{Padding: 0.3, MaxConcurrent: 2, TempDir: tmp, Ledger: ledger}, zerolog.Nop())
	return p, tmp
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files left behind")
}

func TestProcessPublishes(t *testing.T) {
	blobs, engine, ledger := &fakeBlobs{}, &fakeEngine{info: hd}, newFakeLedger()
	p, tmp := newProcessor(t, blobs, engine, ledger)

	res, err := p.Process(context.Background(), validRequest())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.NotEmpty(t, res.JobID)
	assert.Equal(t, "https://example.test/media/redacted/clip.mp4", res.URL)
	assert.Equal(t, 1, res.Regions)
	assert.Equal(t, []string{"media/redacted/clip.mp4 video/mp4"}, blobs.uploads)

	// The source keeps its extension.
	require.Len(t, engine.inputs, 1)
	assert.Equal(t, ".mov", filepath.Ext(engine.inputs[0]))

	require.Len(t, engine.graphs, 1)
	assert.Equal(t, 4, len(engine.graphs[0].Nodes))

	status, _ := ledger.only(t)
	assert.Equal(t, types.JobPublished, status)
	assert.Len(t, ledger.regions[res.JobID], 1)

	assertScratchEmpty(t, tmp)
}

func TestProcessRejectsBeforeAnyWork(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.BlurRequest)
	}{
		{"missing source", func(r *types.BlurRequest) { r.SourcePath = "" }},
		{"missing output", func(r *types.BlurRequest) { r.OutputPath = "" }},
		{"missing bucket", func(r *types.BlurRequest) { r.Bucket = "" }},
		{"bad face", func(r *types.BlurRequest) { r.Faces = append(r.Faces, types.FaceDetection{X: 2, Width: 0.1, Height: 0.1}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blobs, engine, ledger := &fakeBlobs{}, &fakeEngine{info: hd}, newFakeLedger()
			p, _ := newProcessor(t, blobs, engine, ledger)

			req := validRequest()
			tt.mutate(&req)
			_, err := p.Process(context.Background(), req)

			assert.ErrorIs(t, err, fault.ErrValidation)
			assert.Empty(t, blobs.downloads)
			assert.Empty(t, engine.graphs)
			assert.Empty(t, ledger.statuses)
		})
	}
}

func TestProcessMissingFieldsMessage(t *testing.T) {
	p, _ := newProcessor(t, &fakeBlobs{}, &fakeEngine{info: hd}, nil)
	_, err := p.Process(context.Background(), types.BlurRequest{OutputPath: "o.mp4", Bucket: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Missing required fields: sourcePath")
}

func TestProcessRenderFailureNeverPublishes(t *testing.T) {
	blobs := &fakeBlobs{}
	engine := &fakeEngine{info: hd, failWith: fault.Render("render", "Invalid argument", errors.New("exit status 1"))}
	ledger := newFakeLedger()
	p, tmp := newProcessor(t, blobs, engine, ledger)

	_, err := p.Process(context.Background(), validRequest())
	assert.ErrorIs(t, err, fault.ErrRender)
	assert.Equal(t, "Invalid argument", fault.DetailOf(err))
	assert.Empty(t, blobs.uploads)

	status, kind := ledger.only(t)
	assert.Equal(t, types.JobFailed, status)
	assert.Equal(t, "render", kind)
	assertScratchEmpty(t, tmp)
}

func TestProcessGeometryUnavailable(t *testing.T) {
	blobs := &fakeBlobs{}
	engine := &fakeEngine{info: render.StreamInfo{Width: 0, Height: 0}}
	p, tmp := newProcessor(t, blobs, engine, nil)

	_, err := p.Process(context.Background(), validRequest())
	assert.ErrorIs(t, err, fault.ErrGeometryUnavailable)
	assert.Empty(t, engine.graphs)
	assert.Empty(t, blobs.uploads)
	assertScratchEmpty(t, tmp)
}

func TestProcessProbeFailure(t *testing.T) {
	engine := &fakeEngine{probeErr: fault.Geometry("probe", errors.New("moov atom not found"))}
	p, _ := newProcessor(t, &fakeBlobs{}, engine, nil)

	_, err := p.Process(context.Background(), validRequest())
	assert.ErrorIs(t, err, fault.ErrGeometryUnavailable)
}

func TestProcessDownloadFailure(t *testing.T) {
	blobs := &fakeBlobs{failOn: "download"}
	engine := &fakeEngine{info: hd}
	p, tmp := newProcessor(t, blobs, engine, nil)

	_, err := p.Process(context.Background(), validRequest())
	assert.ErrorIs(t, err, fault.ErrStorage)
	assert.Empty(t, engine.graphs)
	assertScratchEmpty(t, tmp)
}

func TestProcessNoFacesIsPassthrough(t *testing.T) {
	blobs, engine := &fakeBlobs{}, &fakeEngine{info: hd}
	p, _ := newProcessor(t, blobs, engine, nil)

	req := validRequest()
	req.Faces = nil
	res, err := p.Process(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Regions)
	require.Len(t, engine.graphs, 1)
	assert.True(t, engine.graphs[0].Passthrough)
	assert.Len(t, blobs.uploads, 1)
}

func TestRenderSlotsAreBounded(t *testing.T) {
	engine := &fakeEngine{info: hd, delay: 30 * time.Millisecond}
	p, _ := newProcessor(t, &fakeBlobs{}, engine, nil)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Process(context.Background(), validRequest())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, engine.peak, 2)
	assert.Len(t, engine.graphs, 6)
}

func TestRenderSlotRespectsCancel(t *testing.T) {
	engine := &fakeEngine{info: hd}
	p := New(&fakeBlobs{}, engine, Options{MaxConcurrent: 1}, zerolog.Nop())
	require.True(t, p.sem.TryAcquire(1))
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Render(ctx, &Prepared{Graph: &graph.Graph{Passthrough: true, Sink: graph.SourceRef}}, "in", "out", nil)
	assert.ErrorIs(t, err, fault.ErrRender)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, engine.graphs)
}

func TestPlan(t *testing.T) {
	p, _ := newProcessor(t, &fakeBlobs{}, &fakeEngine{}, nil)
	rot := 90

	res, err := p.Plan(types.PlanRequest{
		Width:    1080,
		Height:   1920,
		Rotation: &rot,
		Faces:    validRequest().Faces,
	})
	require.NoError(t, err)

	assert.False(t, res.Passthrough)
	assert.Equal(t, 1920, res.DisplayWidth)
	assert.Equal(t, 1080, res.DisplayHeight)
	assert.Equal(t, "[n4p0]", res.Sink)
	require.Len(t, res.Regions, 1)
	assert.Equal(t, types.RegionRecord{Index: 0, X: 711, Y: 267, Width: 306, Height: 222, Start: 0, End: endAt(3)}, res.Regions[0])
	assert.Contains(t, res.Filter, "enable='gte(t,0)*lt(t,3)'")
}

func TestPlanPaddingOverride(t *testing.T) {
	p, _ := newProcessor(t, &fakeBlobs{}, &fakeEngine{}, nil)
	zero := 0.0
	res, err := p.Plan(types.PlanRequest{Width: 1920, Height: 1080, Padding: &zero, Faces: validRequest().Faces})
	require.NoError(t, err)
	assert.Equal(t, 768, res.Regions[0].X)
	assert.Equal(t, 192, res.Regions[0].Width)
}

func TestPlanFailures(t *testing.T) {
	p, _ := newProcessor(t, &fakeBlobs{}, &fakeEngine{}, nil)

	_, err := p.Plan(types.PlanRequest{Width: 0, Height: 1080, Faces: validRequest().Faces})
	assert.ErrorIs(t, err, fault.ErrGeometryUnavailable)

	_, err = p.Plan(types.PlanRequest{Width: 1920, Height: 1080, RotateTag: "sideways"})
	assert.ErrorIs(t, err, fault.ErrGeometryUnavailable)

	_, err = p.Plan(types.PlanRequest{Width: 1920, Height: 1080, Faces: []types.FaceDetection{{X: -1, Width: 0.1, Height: 0.1}}})
	assert.ErrorIs(t, err, fault.ErrValidation)

	neg := -0.5
	_, err = p.Plan(types.PlanRequest{Width: 1920, Height: 1080, Padding: &neg, Faces: validRequest().Faces})
	assert.ErrorIs(t, err, fault.ErrValidation)
}

func TestPlanPassthrough(t *testing.T) {
	p, _ := newProcessor(t, &fakeBlobs{}, &fakeEngine{}, nil)
	res, err := p.Plan(types.PlanRequest{Width: 640, Height: 480})
	require.NoError(t, err)
	assert.True(t, res.Passthrough)
	assert.Empty(t, res.Filter)
	assert.NotNil(t, res.Regions)
	assert.Empty(t, res.Regions)
}

func TestDescribeUsesGeometry(t *testing.T) {
	geo, err := geometry.Resolve(640, 480, geometry.RotationHint{})
	require.NoError(t, err)
	g, err := graph.Compile(nil)
	require.NoError(t, err)

	res, err := Describe(geo, nil, g)
	require.NoError(t, err)
	assert.Equal(t, 640, res.DisplayWidth)
}

func TestSourceExt(t *testing.T) {
	assert.Equal(t, ".mov", sourceExt("a/b/clip.mov"))
	assert.Equal(t, ".mp4", sourceExt("a/b/clip"))
	assert.Equal(t, ".mp4", sourceExt("dir.v2/clip"))
}

func TestProcessFallsBackToDefaultBucket(t *testing.T) {
	blobs, engine := &fakeBlobs{}, &fakeEngine{info: hd}
	p := New(blobs, engine, Options{Padding: 0.3, TempDir: t.TempDir(), DefaultBucket: "fallback"}, zerolog.Nop())

	req := validRequest()
	req.Bucket = ""
	res, err := p.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"fallback/uploads/clip.mov"}, blobs.downloads)
	assert.Equal(t, "https://example.test/fallback/redacted/clip.mp4", res.URL)
}

func TestSourceFingerprintIsStableAcrossRequests(t *testing.T) {
	blobs, engine, ledger := &fakeBlobs{}, &fakeEngine{info: hd}, newFakeLedger()
	p, _ := newProcessor(t, blobs, engine, ledger)

	first, err := p.Process(context.Background(), validRequest())
	require.NoError(t, err)
	second, err := p.Process(context.Background(), validRequest())
	require.NoError(t, err)

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	require.NotEmpty(t, ledger.sources[first.JobID])
	assert.Equal(t, ledger.sources[first.JobID], ledger.sources[second.JobID],
		"each request downloads into its own scratch dir but the source is the same")
}
