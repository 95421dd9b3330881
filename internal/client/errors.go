package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/northwind-digital/agency/internal/identity"
	"github.com/northwind-digital/agency/internal/platform/httpx"
)

// StatusError is a non-2xx answer that carried a problem body.
type StatusError struct {
	Status int
	Title  string
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Title)
}

// identityError converts an auth API failure into an identity.Error.
func identityError(res *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	var body identity.Error
	if err := json.Unmarshal(data, &body); err == nil && body.Kind != "" {
		return &body
	}
	if res.StatusCode == http.StatusUnauthorized {
		return identity.ErrUnauthorized
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return identity.NewError(identity.KindUnavailable, http.StatusText(res.StatusCode))
	}
	return identity.NewError(identity.KindValidation, http.StatusText(res.StatusCode))
}

// statusError reads an RFC 7807 body.
func statusError(res *http.Response) *StatusError {
	data, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	var problem httpx.ProblemDetail
	_ = json.Unmarshal(data, &problem)
	if problem.Title == "" {
		problem.Title = http.StatusText(res.StatusCode)
	}
	return &StatusError{Status: res.StatusCode, Title: problem.Title, Detail: problem.Detail}
}
