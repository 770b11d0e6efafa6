package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("rating", "must be between 0 and 10"), http.StatusBadRequest},
		{fmt.Errorf("update status: %w", NotFound("reading list entry")), http.StatusNotFound},
		{ErrAuth, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{Conflict("username taken"), http.StatusConflict},
		{Upstream(errors.New("dial tcp: refused")), http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Status(tc.err), tc.err.Error())
	}
}

func TestValidationError_Unwrap(t *testing.T) {
	err := error(Validation("genres", "at most 3 genres in simple mode"))
	assert.ErrorIs(t, err, ErrValidation)

	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, "genres", ve.Errors[0].Field)
	assert.Equal(t, "genres: at most 3 genres in simple mode", err.Error())
}

func TestWrite_HidesInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Write(c, errors.New("sql: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
}
