package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/go-resty/resty/v2"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("rejected by server")
)

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrValidation) && !errors.Is(err, ErrUnauthorized)
}

func mapStatus(code int, body string) error {
	body = strings.TrimSpace(body)
	if len(body) > 200 {
		body = body[:200]
	}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d %s", ErrUnauthorized, code, body)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: status %d %s", ErrValidation, code, body)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: status %d %s", common.ErrNotFound, code, body)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: status %d %s", ErrUnavailable, code, body)
	default:
		return fmt.Errorf("unexpected status %d: %s", code, body)
	}
}

func mapError(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp == nil {
		return ErrUnavailable
	}
	if resp.IsError() {
		return mapStatus(resp.StatusCode(), resp.String())
	}
	return nil
}
