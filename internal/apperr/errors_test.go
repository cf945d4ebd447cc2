package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"synchire-go/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"validation", NewValidationError("ExtractCV", "empty text"), KindValidation},
		{"wrapped not found", fmt.Errorf("load job: %w", NewNotFoundError("GetJob", "j1", "")), KindNotFound},
		{"state transition", NewStateTransitionError("a1", types.StatusCreated, types.StatusScored), KindStateTransition},
		{"wrapped sentinel", fmt.Errorf("x: %w", ErrExtractionFailure), KindExtractionFailure},
		{"unknown", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewExtractionError("Extract", "abc", errors.New("llm down")))
	assert.True(t, errors.Is(err, ErrExtractionFailure))
	assert.True(t, errors.Is(err, &Error{Kind: KindExtractionFailure}))
	assert.False(t, errors.Is(err, ErrNotFound))

	ste := NewStateTransitionError("a1", types.StatusMatched, types.StatusScored)
	assert.True(t, errors.Is(ste, ErrStateTransition))
	assert.Contains(t, ste.Error(), "MATCHED")
	assert.Contains(t, ste.Error(), "SCORED")
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindValidation))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindStateTransition))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(KindExtractionFailure))
	assert.Equal(t, http.StatusOK, HTTPStatus(KindDuplicateEvent))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
}
