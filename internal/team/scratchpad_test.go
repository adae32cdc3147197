package team

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCreatesEmptyDocumentOnFirstAccess(t *testing.T) {
	s := NewScratchpad()
	doc := s.Get("notes")
	assert.Equal(t, "notes", doc.ID)
	assert.Empty(t, doc.Lines)
}

func TestEditLinesAppendsWhenStartAtEnd(t *testing.T) {
	s := NewScratchpad()
	doc, err := s.EditLines("notes", 0, -1, "line one\nline two", "agent:a")
	require.NoError(t, err)
	require.Len(t, doc.Lines, 2)
	assert.Equal(t, "line one", doc.Lines[0].Content)
	assert.Equal(t, "agent:a", doc.Lines[0].LastModifiedBy)
}

func TestEditLinesReplacesRange(t *testing.T) {
	s := NewScratchpad()
	s.EditLines("notes", 0, -1, "a\nb\nc", "agent:a")

	doc, err := s.EditLines("notes", 1, 1, "B", "agent:b")
	require.NoError(t, err)
	require.Len(t, doc.Lines, 3)
	assert.Equal(t, "a", doc.Lines[0].Content)
	assert.Equal(t, "B", doc.Lines[1].Content)
	assert.Equal(t, "c", doc.Lines[2].Content)
}

func TestEditLinesRejectsNegativeStart(t *testing.T) {
	s := NewScratchpad()
	_, err := s.EditLines("notes", -1, -1, "x", "agent:a")
	assert.Error(t, err)
}

func TestEditLinesRejectsStartBeyondLength(t *testing.T) {
	s := NewScratchpad()
	s.EditLines("notes", 0, -1, "a", "agent:a")
	_, err := s.EditLines("notes", 5, -1, "x", "agent:a")
	assert.Error(t, err)
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	s := NewScratchpad()
	s.EditLines("notes", 0, -1, "a", "agent:a")

	doc := s.Get("notes")
	doc.Lines[0].Content = "mutated"

	fresh := s.Get("notes")
	assert.Equal(t, "a", fresh.Lines[0].Content)
}

func TestListDocumentsReturnsAllTouchedIDs(t *testing.T) {
	s := NewScratchpad()
	s.Get("a")
	s.EditLines("b", 0, -1, "x", "agent:a")
	assert.ElementsMatch(t, []string{"a", "b"}, s.ListDocuments())
}
