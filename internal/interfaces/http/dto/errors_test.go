package dto

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodePersistence, http.StatusInternalServerError},
		{ErrCodeUnitConversion, http.StatusInternalServerError},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeUsageRejected, http.StatusUnprocessableEntity},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeTokenExpired, http.StatusUnauthorized},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeConcurrencyConflict, http.StatusConflict},
		{ErrCodeInvalidState, http.StatusUnprocessableEntity},
		{ErrCodeInsufficientStock, http.StatusUnprocessableEntity},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		// Unknown code should return 500
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestNormalizeErrorCode(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"NOT_FOUND", ErrCodeNotFound},
		{"INVALID_STATE", ErrCodeInvalidState},
		{"CONCURRENCY_CONFLICT", ErrCodeConcurrencyConflict},
		{"INSUFFICIENT_STOCK", ErrCodeInsufficientStock},
		{"UNIT_CONVERSION_ERROR", ErrCodeUnitConversion},
		{"PERSISTENCE_ERROR", ErrCodePersistence},
		{"VALIDATION_FAILED", ErrCodeUsageRejected},
		{ErrCodeNotFound, ErrCodeNotFound},
		{"CUSTOM_ERROR", "CUSTOM_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeErrorCode(tt.input))
		})
	}
}

func TestEveryMappedCodeHasAStatus(t *testing.T) {
	for domainCode, apiCode := range DomainErrorCodeMapping {
		_, ok := ErrorCodeHTTPStatus[apiCode]
		assert.Truef(t, ok, "%s maps to %s which has no status", domainCode, apiCode)
	}
}

func TestResponses(t *testing.T) {
	t.Run("meta counts pages", func(t *testing.T) {
		resp := NewSuccessResponseWithMeta([]int{1, 2}, 41, 2, 20)
		require.NotNil(t, resp.Meta)
		assert.Equal(t, 3, resp.Meta.TotalPages)
		assert.True(t, resp.Success)
	})

	t.Run("rejections carry their lines", func(t *testing.T) {
		lines := []map[string]any{{"line_index": 0, "code": "INSUFFICIENT_STOCK"}}
		resp := NewRejectedResponse("Usage record rejected", "req-1", lines)

		raw, err := json.Marshal(resp)
		require.NoError(t, err)

		var decoded struct {
			Success bool `json:"success"`
			Error   struct {
				Code      string           `json:"code"`
				RequestID string           `json:"request_id"`
				Lines     []map[string]any `json:"lines"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.False(t, decoded.Success)
		assert.Equal(t, ErrCodeUsageRejected, decoded.Error.Code)
		assert.Equal(t, "req-1", decoded.Error.RequestID)
		require.Len(t, decoded.Error.Lines, 1)
		assert.Equal(t, "INSUFFICIENT_STOCK", decoded.Error.Lines[0]["code"])
	})

	t.Run("validation details", func(t *testing.T) {
		resp := NewValidationErrorResponse("Request validation failed", "", []ValidationDetail{{Field: "usage_date", Message: "This field is required"}})
		assert.Equal(t, ErrCodeValidation, resp.Error.Code)
		assert.Len(t, resp.Error.Details, 1)
		assert.Empty(t, resp.Error.RequestID)
	})
}
