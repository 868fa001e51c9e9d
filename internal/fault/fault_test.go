package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKindSentinel(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		kind   Kind
	}{
		{"validation", Validation("normalize", 2, errors.New("x out of range")), ErrValidation, KindValidation},
		{"geometry", Geometry("resolve", errors.New("width is 0")), ErrGeometryUnavailable, KindGeometryUnavailable},
		{"compilation", Compilation("compile", errors.New("node id reused")), ErrCompilation, KindCompilation},
		{"render", Render("ffmpeg", "tail", errors.New("exit status 1")), ErrRender, KindRender},
		{"storage", Storage("download", errors.New("404")), ErrStorage, KindStorage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("request failed: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.target)
			assert.Equal(t, tt.kind, KindOf(wrapped))
		})
	}
}

func TestErrorIsRejectsOtherKinds(t *testing.T) {
	err := Validation("normalize", 0, errors.New("bad"))
	assert.NotErrorIs(t, err, ErrStorage)
	assert.NotErrorIs(t, err, ErrCompilation)
}

func TestErrorMessage(t *testing.T) {
	err := Validation("normalize", 3, errors.New("width must be > 0"))
	assert.Equal(t, "normalize: face 3: width must be > 0", err.Error())

	err = Geometry("resolve", errors.New("raw height is 0"))
	assert.Equal(t, "resolve: raw height is 0", err.Error())
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, "", DetailOf(errors.New("boom")))
	assert.Equal(t, "stderr tail", DetailOf(Render("ffmpeg", "stderr tail", nil)))
}
