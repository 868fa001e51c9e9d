package types

import (
	"encoding/json"
	"testing"

	"github.com/andresmejia3/veil/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFaceDetectionDefaults(t *testing.T) {
	var faces []FaceDetection
	require.NoError(t, json.Unmarshal([]byte(`[{"x":0.2,"y":0.3},{"x":0.1,"y":0.1,"width":0.5,"height":0.4,"startTime":1,"endTime":4}]`), &faces))
	require.Len(t, faces, 2)

	assert.Equal(t, DefaultFaceWidth, faces[0].Width)
	assert.Equal(t, DefaultFaceHeight, faces[0].Height)
	assert.Nil(t, faces[0].EndTime)

	assert.Equal(t, 0.5, faces[1].Width)
	require.NotNil(t, faces[1].EndTime)
	assert.Equal(t, 4.0, *faces[1].EndTime)
}

func TestFaceDetectionYAMLDefaults(t *testing.T) {
	var faces []FaceDetection
	require.NoError(t, yaml.Unmarshal([]byte("- x: 0.4\n  y: 0.3\n  startTime: 2\n"), &faces))
	require.Len(t, faces, 1)
	assert.Equal(t, DefaultFaceWidth, faces[0].Width)
	assert.Equal(t, 2.0, faces[0].StartTime)
}

func TestBlurRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     BlurRequest
		wantErr bool
	}{
		{"complete", BlurRequest{SourcePath: "in.mp4", OutputPath: "out.mp4", Bucket: "b"}, false},
		{"missing source", BlurRequest{OutputPath: "out.mp4", Bucket: "b"}, true},
		{"missing output", BlurRequest{SourcePath: "in.mp4", Bucket: "b"}, true},
		{"missing bucket", BlurRequest{SourcePath: "in.mp4", OutputPath: "out.mp4"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, fault.ErrValidation)
			assert.Contains(t, err.Error(), "Missing required fields")
		})
	}
}
