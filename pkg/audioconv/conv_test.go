package audioconv_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/pkg/audioconv"
)

func writeWAV(t *testing.T, path string, rate, channels int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func TestDecodeFileWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	writeWAV(t, path, 22050, 1, []int{0, 16384, -16384, 0})

	x, sr, err := audioconv.DecodeFile(path)
	require.NoError(t, err)
	assert.Equal(t, 22050, sr)
	require.Len(t, x, 4)
	assert.InDelta(t, 0.5, x[1], 1e-3)
}

func TestDecodeFileStereoDownmix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	writeWAV(t, path, 16000, 2, []int{16384, 0, 16384, 0})

	x, sr, err := audioconv.DecodeFile(path)
	require.NoError(t, err)
	assert.Equal(t, 16000, sr)
	require.Len(t, x, 2)
	assert.InDelta(t, 0.25, x[0], 1e-3)
}

func TestDecodeFileSniffsWithoutExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "piper-output")
	writeWAV(t, path, 16000, 1, []int{100, 200})

	x, sr, err := audioconv.DecodeFile(path)
	require.NoError(t, err)
	assert.Equal(t, 16000, sr)
	assert.Len(t, x, 2)
}

func TestDecodeFileMissing(t *testing.T) {
	_, _, err := audioconv.DecodeFile(filepath.Join(t.TempDir(), "nope.wav"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
