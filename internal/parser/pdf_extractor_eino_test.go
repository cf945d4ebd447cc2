package parser

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPDFTextExtractor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	extractor, err := NewPDFTextExtractor(ctx)
	require.NoError(t, err, "创建PDF提取器不应返回错误")
	require.NotNil(t, extractor.parser)
	assert.Equal(t, defaultPDFTimeout, extractor.timeout)

	extractor, err = NewPDFTextExtractor(ctx, WithPDFTimeout(3*time.Second), WithPDFLogger(zerolog.Nop()))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, extractor.timeout)

	extractor, err = NewPDFTextExtractor(ctx, WithPDFTimeout(0))
	require.NoError(t, err)
	assert.Equal(t, defaultPDFTimeout, extractor.timeout, "非正数超时应被忽略")
}

func TestExtractText_EmptyInput(t *testing.T) {
	extractor, err := NewPDFTextExtractor(context.Background())
	require.NoError(t, err)

	_, err = extractor.ExtractText(context.Background(), nil, "empty.pdf")
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestExtractText_NotAPDF(t *testing.T) {
	extractor, err := NewPDFTextExtractor(context.Background())
	require.NoError(t, err)

	_, err = extractor.ExtractText(context.Background(), []byte("definitely not a pdf"), "bad.pdf")
	assert.Error(t, err)
}
