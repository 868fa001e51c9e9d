package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/veil/internal/config"
	"github.com/andresmejia3/veil/internal/types"
)

func TestFmtTime(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00"},
		{65, "00:01:05"},
		{3661, "01:01:01"},
	}

	for _, tt := range tests {
		if got := fmtTime(tt.seconds); got != tt.want {
			t.Errorf("fmtTime(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestValidateRedactFlags(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "video.mp4")
	if err := os.WriteFile(video, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"Valid", Options{InputPath: video, OutputPath: filepath.Join(dir, "out.mp4"), FacesPath: "faces.json", Padding: 0.3}, false},
		{"Valid timeout", Options{InputPath: video, OutputPath: "out.mp4", FacesPath: "faces.json", Timeout: "90s"}, false},
		{"Missing input", Options{InputPath: filepath.Join(dir, "nope.mp4"), OutputPath: "out.mp4", FacesPath: "faces.json"}, true},
		{"Input is a directory", Options{InputPath: dir, OutputPath: "out.mp4", FacesPath: "faces.json"}, true},
		{"Output overwrites input", Options{InputPath: video, OutputPath: video, FacesPath: "faces.json"}, true},
		{"Missing faces", Options{InputPath: video, OutputPath: "out.mp4"}, true},
		{"Negative padding", Options{InputPath: video, OutputPath: "out.mp4", FacesPath: "faces.json", Padding: -0.1}, true},
		{"Infinite padding", Options{InputPath: video, OutputPath: "out.mp4", FacesPath: "faces.json", Padding: math.Inf(1)}, true},
		{"Bad timeout", Options{InputPath: video, OutputPath: "out.mp4", FacesPath: "faces.json", Timeout: "soon"}, true},
		{"Zero timeout", Options{InputPath: video, OutputPath: "out.mp4", FacesPath: "faces.json", Timeout: "0s"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRedactFlags(&tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRedactFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRedactFlagsParsesTimeout(t *testing.T) {
	video := filepath.Join(t.TempDir(), "video.mp4")
	if err := os.WriteFile(video, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := Options{InputPath: video, OutputPath: "out.mp4", FacesPath: "faces.json", Timeout: "90s"}
	if err := validateRedactFlags(&opts); err != nil {
		t.Fatalf("validateRedactFlags() error = %v", err)
	}
	if opts.RenderTimeout != 90*time.Second {
		t.Errorf("RenderTimeout = %v, want 90s", opts.RenderTimeout)
	}

	opts = Options{InputPath: video, OutputPath: "out.mp4", FacesPath: "faces.json"}
	if err := validateRedactFlags(&opts); err != nil {
		t.Fatalf("validateRedactFlags() error = %v", err)
	}
	if opts.RenderTimeout != 0 {
		t.Errorf("RenderTimeout = %v without --timeout, want 0", opts.RenderTimeout)
	}
}

func TestLoadFaces(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	tests := []struct {
		name      string
		path      string
		wantCount int
		wantErr   bool
	}{
		{"JSON list", write("list.json", `[{"x":0.1,"y":0.2},{"x":0.5,"y":0.5,"width":0.2,"height":0.3,"startTime":1,"endTime":2}]`), 2, false},
		{"JSON object", write("wrapped.json", `{"faces":[{"x":0.1,"y":0.2}]}`), 1, false},
		{"YAML list", write("list.yaml", "- x: 0.1\n  y: 0.2\n"), 1, false},
		{"YAML object", write("wrapped.yml", "faces:\n  - x: 0.1\n    y: 0.2\n  - x: 0.3\n    y: 0.4\n"), 2, false},
		{"Empty list", write("empty.json", `[]`), 0, false},
		{"Malformed", write("bad.json", `{"faces":`), 0, true},
		{"Missing file", filepath.Join(dir, "missing.json"), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			faces, err := loadFaces(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadFaces() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(faces) != tt.wantCount {
				t.Fatalf("loadFaces() returned %d faces, want %d", len(faces), tt.wantCount)
			}
			// Omitted sizes take the service defaults in both formats.
			if tt.wantCount > 0 && faces[0].Width != types.DefaultFaceWidth {
				t.Errorf("faces[0].Width = %v, want default %v", faces[0].Width, types.DefaultFaceWidth)
			}
		})
	}
}

func TestRunPlan(t *testing.T) {
	Cfg = config.Default()

	facesPath := filepath.Join(t.TempDir(), "faces.json")
	if err := os.WriteFile(facesPath, []byte(`[{"x":0.4,"y":0.4}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := planFlags{Options: Options{FacesPath: facesPath, Padding: 0.3}, Width: 1920, Height: 1080}

	var out bytes.Buffer
	if err := runPlan(context.Background(), &out, opts); err != nil {
		t.Fatalf("runPlan() error = %v", err)
	}

	var res types.PlanResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("plan output is not JSON: %v\n%s", err, out.String())
	}
	if res.Passthrough || len(res.Regions) != 1 {
		t.Fatalf("unexpected plan: %+v", res)
	}
	if res.DisplayWidth != 1920 || res.DisplayHeight != 1080 {
		t.Errorf("display = %dx%d, want 1920x1080", res.DisplayWidth, res.DisplayHeight)
	}
	if !strings.Contains(res.Filter, "split=2") || !strings.Contains(res.Filter, "boxblur") {
		t.Errorf("filter missing split/blur stages: %s", res.Filter)
	}

	out.Reset()
	opts.FilterOnly = true
	if err := runPlan(context.Background(), &out, opts); err != nil {
		t.Fatalf("runPlan(filter-only) error = %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != res.Filter {
		t.Errorf("filter-only output = %q, want %q", got, res.Filter)
	}
}

func TestRunPlanRequiresGeometry(t *testing.T) {
	Cfg = config.Default()

	facesPath := filepath.Join(t.TempDir(), "faces.json")
	if err := os.WriteFile(facesPath, []byte(`[]`), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runPlan(context.Background(), &out, planFlags{Options: Options{FacesPath: facesPath}}); err == nil {
		t.Error("runPlan() without --width/--height or --input should fail")
	}
}

func TestPlanRequestRotation(t *testing.T) {
	opts := planFlags{Width: 1080, Height: 1920, Rotation: 90}
	if req := planRequest(opts, nil); req.Rotation != nil {
		t.Errorf("rotation should stay unset unless the flag was given, got %d", *req.Rotation)
	}

	opts.rotationSet = true
	req := planRequest(opts, nil)
	if req.Rotation == nil || *req.Rotation != 90 {
		t.Errorf("planRequest() rotation = %v, want 90", req.Rotation)
	}
}

func TestPrintJob(t *testing.T) {
	end := 4.5
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	finished := created.Add(1500 * time.Millisecond)
	job := &types.Job{
		ID:            "job-1",
		Status:        types.JobFailed,
		Bucket:        "media",
		SourcePath:    "in.mp4",
		OutputPath:    "out.mp4",
		FailureKind:   "render",
		FailureDetail: "Invalid argument",
		CreatedAt:     created,
		FinishedAt:    &finished,
	}
	regions := []types.RegionRecord{
		{Index: 0, X: 10, Y: 20, Width: 100, Height: 120, Start: 1, End: &end},
		{Index: 1, X: 0, Y: 0, Width: 50, Height: 50, Start: 65},
	}

	var out bytes.Buffer
	printJob(&out, job, regions)
	got := out.String()

	for _, want := range []string{"job-1", "media/in.mp4", "Failure:  render", "Invalid argument", "1.5s", "100x120+10+20", "00:00:01 - 00:00:04", "00:01:05 - end"} {
		if !strings.Contains(got, want) {
			t.Errorf("printJob() output missing %q:\n%s", want, got)
		}
	}
}

func TestPrintJobs(t *testing.T) {
	var out bytes.Buffer
	printJobs(&out, []types.Job{{ID: "a", Status: types.JobPublished, Bucket: "b", SourcePath: "s.mp4", RegionCount: 3}})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("printJobs() printed %d lines, want 3:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[2], "published") || !strings.Contains(lines[2], "b/s.mp4") {
		t.Errorf("unexpected job row: %q", lines[2])
	}
}

func TestScratchDirs(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"veil-123", "veil-456", "other"} {
		if err := os.Mkdir(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "veil-file"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	dirs, err := scratchDirs(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 2 {
		t.Errorf("scratchDirs() = %v, want the two veil-* directories", dirs)
	}
}
