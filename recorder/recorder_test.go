package recorder

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sidecar-radar/pipeline"
	"github.com/sidecar-radar/pipeline/codec"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Open_RejectsExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.dat")
	require.NoError(t, os.WriteFile(path, []byte("already here"), 0o644))

	_, err := Open(path)
	require.Error(t, err, "Open must never overwrite an existing recording file")
}

func TestRecorder_PutThenStop_WritesEncodedPayloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.dat")

	r, err := Open(path)
	require.NoError(t, err)

	v := pipeline.NewVideo("radar-a", 1, []int16{1, 2, 3}, 45.0)
	env := pipeline.WrapNative(v)
	r.Put(env)

	require.NoError(t, r.Stop())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	sr := codec.NewStreamReader(bytes.NewReader(data))
	payload, err := sr.ReadMessage()
	require.NoError(t, err)

	got, err := pipeline.DecodeMessage(payload)
	require.NoError(t, err)
	video, ok := got.(*pipeline.Video)
	require.True(t, ok)
	require.Equal(t, v.Samples, video.Samples)
}

func TestRecorder_Stop_WithNoItemsLeavesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.dat")

	r, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Stop())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(0), info.Size(), "no items were ever put, so the file should be empty")
}

func TestRecorder_Err_NoErrorWhenNothingWentWrong(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.dat")

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Stop()

	require.Eventually(t, func() bool { return r.Err() == nil }, time.Second, 5*time.Millisecond)
}
