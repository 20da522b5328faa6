package ocr

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessWithoutImageMagickReturnsInput(t *testing.T) {
	p := &Preprocessor{log: quietLogger()}
	assert.False(t, p.Available())

	in := []byte("not really a jpeg")
	out, mt := p.Process(context.Background(), in, "image/png")
	assert.Equal(t, in, out)
	assert.Equal(t, "image/png", mt)
}

func TestProcessFailureReturnsInputAndCleansUp(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	// A binary that exists everywhere but cannot produce an image.
	p := &Preprocessor{binary: "false", log: quietLogger()}
	in := []byte{0xff, 0xd8, 0xff}
	out, mt := p.Process(context.Background(), in, "image/jpeg")
	assert.Equal(t, in, out)
	assert.Equal(t, "image/jpeg", mt)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, filepath.Base(e.Name()), "finguru-preprocess-", "temp dir must be removed")
	}
}

func TestProcessEmptyInput(t *testing.T) {
	p := &Preprocessor{binary: "false", log: quietLogger()}
	out, mt := p.Process(context.Background(), nil, "image/jpeg")
	assert.Nil(t, out)
	assert.Equal(t, "image/jpeg", mt)
}
