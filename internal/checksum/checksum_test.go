package checksum

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/casefeed/internal/domain"
)

func TestBytesIsDeterministic(t *testing.T) {
	data := []byte("Province/State,Country/Region,Last Update,Confirmed\nHubei,China,1/22/20 17:00,444\n")

	first := Bytes(data)
	second := Bytes(append([]byte(nil), data...))

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestBytesDiffersOnSingleByte(t *testing.T) {
	data := []byte("Hubei,China,1/22/20 17:00,444\n")
	changed := append([]byte(nil), data...)
	changed[len(changed)-2] = '5'

	assert.NotEqual(t, Bytes(data), Bytes(changed))
}

func TestFileMatchesReaderAcrossChunks(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), ChunkSize/4)
	path := filepath.Join(t.TempDir(), "large.csv")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	fromFile, err := File(path)
	require.NoError(t, err)

	fromReader, err := Reader(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, fromReader, fromFile)
	assert.Equal(t, Bytes(data), fromFile)
}

func TestFileMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrIO))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestReaderPropagatesReadErrors(t *testing.T) {
	_, err := Reader(failingReader{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIO)
	assert.Contains(t, err.Error(), "disk gone")
}
