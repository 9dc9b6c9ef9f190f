package httputil

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "test error")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "test error", resp["error"])
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"message": "hello"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"message":"hello"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"count": 42})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":42}`, rec.Body.String())
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func(http.ResponseWriter)
		code int
	}{
		{"method", MethodNotAllowed, http.StatusMethodNotAllowed},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "x") }, http.StatusBadRequest},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "x") }, http.StatusInternalServerError},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "x") }, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.fn(rec)
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestQueryInt(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/?bead=3&start=x", nil)
	v, err := QueryInt(r, "bead", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = QueryInt(r, "end", 17)
	require.NoError(t, err)
	assert.Equal(t, 17, v)

	_, err = QueryInt(r, "start", 0)
	assert.Error(t, err)
}

func TestJSONFloat(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal([]JSONFloat{1.5, JSONFloat(math.NaN()), JSONFloat(math.Inf(1))})
	require.NoError(t, err)
	assert.Equal(t, "[1.5,null,null]", string(out))
}
