package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectKeys(t *testing.T) {
	assert.Equal(t, "cv/ab/abcdef.pdf", CVOriginalKey("abcdef", ".PDF"))
	assert.Equal(t, "cv/a/a.txt", CVOriginalKey("a", ".txt"))
	assert.Equal(t, "transcripts/abc123.json", TranscriptKey("abc123"))
}

func TestGetContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", getContentType(".PDF"))
	assert.Equal(t, "text/plain", getContentType(".txt"))
	assert.Equal(t, "application/octet-stream", getContentType(".bin"))
}
