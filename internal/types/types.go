package types

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/andresmejia3/veil/internal/fault"
)

// Defaults applied to face entries that omit a field.
const (
	DefaultFaceWidth  = 0.1
	DefaultFaceHeight = 0.1
)

// FaceDetection is one upstream face box. Coordinates are fractions of the
// display frame with a top-left origin. A nil EndTime means the face stays
// visible until the video ends.
type FaceDetection struct {
	X         float64  `json:"x" yaml:"x"`
	Y         float64  `json:"y" yaml:"y"`
	Width     float64  `json:"width" yaml:"width"`
	Height    float64  `json:"height" yaml:"height"`
	StartTime float64  `json:"startTime" yaml:"startTime"`
	EndTime   *float64 `json:"endTime,omitempty" yaml:"endTime,omitempty"`
}

// UnmarshalJSON fills omitted width/height with the service defaults.
func (f *FaceDetection) UnmarshalJSON(data []byte) error {
	type plain FaceDetection
	p := plain{Width: DefaultFaceWidth, Height: DefaultFaceHeight}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*f = FaceDetection(p)
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for face files read by the CLI.
func (f *FaceDetection) UnmarshalYAML(unmarshal func(any) error) error {
	type plain FaceDetection
	p := plain{Width: DefaultFaceWidth, Height: DefaultFaceHeight}
	if err := unmarshal(&p); err != nil {
		return err
	}
	*f = FaceDetection(p)
	return nil
}

// BlurRequest is the inbound /blur payload.
type BlurRequest struct {
	SourcePath string          `json:"sourcePath"`
	OutputPath string          `json:"outputPath"`
	Bucket     string          `json:"bucket"`
	Faces      []FaceDetection `json:"faces"`
}

// Validate rejects requests missing a required field.
func (r BlurRequest) Validate() error {
	var missing []string
	if r.SourcePath == "" {
		missing = append(missing, "sourcePath")
	}
	if r.OutputPath == "" {
		missing = append(missing, "outputPath")
	}
	if r.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if len(missing) > 0 {
		return fault.Validationf("Missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// BlurResult is returned after a successful publish.
type BlurResult struct {
	Success    bool   `json:"success"`
	JobID      string `json:"jobId"`
	OutputPath string `json:"outputPath"`
	URL        string `json:"url"`
	Regions    int    `json:"regions"`
}

// ErrorResult is the JSON body of every failed request.
type ErrorResult struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

// PlanRequest is the inbound /plan payload. The caller supplies the stream
// geometry, so nothing is downloaded or probed.
type PlanRequest struct {
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	Rotation  *int            `json:"rotation,omitempty"`
	RotateTag string          `json:"rotateTag,omitempty"`
	Padding   *float64        `json:"padding,omitempty"`
	Faces     []FaceDetection `json:"faces"`
}

// RegionRecord is one normalized region as reported by /plan and stored in
// the job ledger. A nil End means the region stays until the video ends.
type RegionRecord struct {
	Index  int      `json:"index"`
	X      int      `json:"x"`
	Y      int      `json:"y"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Start  float64  `json:"start"`
	End    *float64 `json:"end,omitempty"`
}

// PlanResult describes the compiled graph for a request without rendering it.
type PlanResult struct {
	Passthrough   bool           `json:"passthrough"`
	DisplayWidth  int            `json:"displayWidth"`
	DisplayHeight int            `json:"displayHeight"`
	Rotation      int            `json:"rotation"`
	Filter        string         `json:"filter,omitempty"`
	Sink          string         `json:"sink,omitempty"`
	Regions       []RegionRecord `json:"regions"`
}

// JobStatus is the lifecycle state of a ledger entry.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRendering JobStatus = "rendering"
	JobPublished JobStatus = "published"
	JobFailed    JobStatus = "failed"
)

// Job is one redaction request as recorded in the ledger.
type Job struct {
	ID            string
	SourceID      string
	SourcePath    string
	OutputPath    string
	Bucket        string
	Status        JobStatus
	DisplayWidth  int
	DisplayHeight int
	Rotation      int
	RegionCount   int
	URL           string
	FailureKind   string
	FailureDetail string
	CreatedAt     time.Time
	FinishedAt    *time.Time
}
