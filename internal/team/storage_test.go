package team

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageWriteReadRoundTrip(t *testing.T) {
	s, err := NewStorage("team:1")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write("notes.txt", []byte("hello")))
	data, err := s.Read("notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestStorageWriteCreatesNestedDirectories(t *testing.T) {
	s, err := NewStorage("team:1")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write("a/b/c.txt", []byte("nested")))
	data, err := s.Read("a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "nested", string(data))
}

func TestStorageDeleteRemovesFile(t *testing.T) {
	s, err := NewStorage("team:1")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write("gone.txt", []byte("x")))
	require.NoError(t, s.Delete("gone.txt"))
	_, err = s.Read("gone.txt")
	assert.Error(t, err)
}

func TestStorageListReturnsAllWrittenFiles(t *testing.T) {
	s, err := NewStorage("team:1")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write("one.txt", []byte("1")))
	require.NoError(t, s.Write("sub/two.txt", []byte("2")))

	names, err := s.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one.txt", "sub/two.txt"}, names)
}

func TestStorageCloseRemovesBackingDirectory(t *testing.T) {
	s, err := NewStorage("team:1")
	require.NoError(t, err)
	require.NoError(t, s.Write("x.txt", []byte("x")))
	require.NoError(t, s.Close())

	_, err = s.Read("x.txt")
	assert.Error(t, err)
}
