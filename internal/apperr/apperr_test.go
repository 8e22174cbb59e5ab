package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKind(t *testing.T) {
	err := NotFound("forget", "node abc")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))

	wrapped := fmt.Errorf("outer: %w", Validation("store", "content required"))
	assert.True(t, errors.Is(wrapped, ErrValidation))
	assert.Equal(t, KindValidation, KindOf(wrapped))
}

func TestStoragePassesClassifiedErrors(t *testing.T) {
	conflict := Conflict("add", "already exists")
	assert.Same(t, conflict, Storage("add", conflict))

	plain := errors.New("disk full")
	err := Storage("write", plain)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, plain))
	assert.Nil(t, Storage("noop", nil))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "recall: node x not found", NotFound("recall", "node x").Error())
	assert.Equal(t, "probe: boom", Sync("probe", errors.New("boom")).Error())
	assert.Equal(t, "fetch: status 500", Syncf("fetch", "status %d", 500).Error())
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("op", "bad"), http.StatusBadRequest},
		{NotFound("op", "x"), http.StatusNotFound},
		{Conflict("op", "dup"), http.StatusConflict},
		{Syncf("op", "down"), http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, HTTPStatus(c.err), c.err.Error())
	}
}
