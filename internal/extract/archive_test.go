package extract

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveConcurrentAppends(t *testing.T) {
	var buf bytes.Buffer
	a, err := NewArchiveWriter(&buf, flate.BestCompression)
	require.NoError(t, err)

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte(fmt.Sprintf("entry-%02d;", i)), 500)
			assert.NoError(t, a.Append(fmt.Sprintf("e%02d.bin", i), payload))
		}(i)
	}
	wg.Wait()
	require.NoError(t, a.Close())

	entries := readZip(t, buf.Bytes())
	require.Len(t, entries, writers)
	for i := 0; i < writers; i++ {
		want := bytes.Repeat([]byte(fmt.Sprintf("entry-%02d;", i)), 500)
		assert.Equal(t, want, entries[fmt.Sprintf("e%02d.bin", i)])
	}
	assert.Equal(t, writers, a.Len())
}

func TestArchiveStoresIncompressiblePayload(t *testing.T) {
	var buf bytes.Buffer
	a, err := NewArchiveWriter(&buf, flate.BestCompression)
	require.NoError(t, err)

	payload := []byte{0x01}
	require.NoError(t, a.Append("tiny.bin", payload))
	require.NoError(t, a.Close())
	assert.Equal(t, payload, readZip(t, buf.Bytes())["tiny.bin"])
}

func TestArchiveEmptyIsValid(t *testing.T) {
	var buf bytes.Buffer
	a, err := NewArchiveWriter(&buf, flate.BestCompression)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	assert.Empty(t, readZip(t, buf.Bytes()))
}

func TestArchiveDuplicateNamePanics(t *testing.T) {
	var buf bytes.Buffer
	a, err := NewArchiveWriter(&buf, flate.BestCompression)
	require.NoError(t, err)
	require.NoError(t, a.Append("x.png", []byte("1")))
	assert.Panics(t, func() { _ = a.Append("x.png", []byte("2")) })
}

func TestArchiveAppendAfterClose(t *testing.T) {
	var buf bytes.Buffer
	a, err := NewArchiveWriter(&buf, flate.BestSpeed)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Append("x.png", []byte("1")), ErrArchiveClosed)
	assert.ErrorIs(t, a.Close(), ErrArchiveClosed)

	b, err := NewArchiveWriter(&buf, flate.BestSpeed)
	require.NoError(t, err)
	b.Abort()
	assert.ErrorIs(t, b.Append("x.png", []byte("1")), ErrArchiveClosed)
}

func TestArchiveWriteFailureIsSticky(t *testing.T) {
	a, err := NewArchiveWriter(&failingWriter{}, flate.BestCompression)
	require.NoError(t, err)

	// incompressible and larger than the zip writer's buffer, so the write reaches the sink
	payload := make([]byte, 64<<10)
	rand.New(rand.NewSource(1)).Read(payload)
	err = a.Append("a.png", payload)
	require.ErrorIs(t, err, ErrArchive)
	assert.ErrorIs(t, a.Append("b.png", []byte("b")), ErrArchive)
	assert.ErrorIs(t, a.Close(), ErrArchive)
}

func TestArchiveRejectsInvalidLevel(t *testing.T) {
	_, err := NewArchiveWriter(&bytes.Buffer{}, 42)
	assert.Error(t, err)
}
