package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeForErrorMapsKnownTypes(t *testing.T) {
	assert.Equal(t, 1, exitCodeForError(&workspaceNotFoundError{path: "/tmp/ws"}))
	assert.Equal(t, 2, exitCodeForError(&configError{err: errors.New("bad config")}))
	assert.Equal(t, 1, exitCodeForError(errors.New("something else")))
}

func TestConfigErrorUnwraps(t *testing.T) {
	inner := errors.New("inner")
	ce := &configError{err: inner}
	assert.ErrorIs(t, ce, inner)
	assert.Equal(t, "inner", ce.Error())
}

func TestWorkspaceNotFoundErrorMessage(t *testing.T) {
	err := &workspaceNotFoundError{path: "/tmp/ws"}
	assert.Contains(t, err.Error(), "/tmp/ws")
}
