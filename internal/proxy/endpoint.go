package proxy

import (
	"context"
	"errors"
	"net/http"

	"scribe/api/internal/completion"
)

// localClient keys the quota of completions that carry no caller address.
const localClient = "local"

// Endpoint runs proxied completions in-process through a Handler, so the
// quota is counted against the caller recorded with
// completion.WithClientIP rather than the server's own address.
type Endpoint struct {
	handler *Handler
}

func NewEndpoint(handler *Handler) *Endpoint {
	return &Endpoint{handler: handler}
}

func (e *Endpoint) Complete(ctx context.Context, _ string, req completion.Request) (completion.Response, error) {
	ip, ok := completion.ClientIPFrom(ctx)
	if !ok {
		ip = localClient
	}
	body, decision, err := e.handler.Complete(ctx, ip, req)

	var resp completion.Response
	if decision.Limit >= 0 {
		remaining := decision.Remaining
		resp.RateLimitRemaining = &remaining
	}
	if err != nil {
		var invalid *InvalidRequestError
		var upErr *UpstreamError
		switch {
		case errors.Is(err, ErrQuotaExceeded):
			return resp, &completion.StatusError{StatusCode: http.StatusTooManyRequests}
		case errors.As(err, &invalid):
			return resp, &completion.StatusError{StatusCode: http.StatusBadRequest}
		case errors.As(err, &upErr):
			return resp, &completion.StatusError{StatusCode: upErr.StatusCode}
		}
		return resp, err
	}

	text, err := completion.TextFromBody(body)
	if err != nil {
		return resp, err
	}
	resp.Text = text
	return resp, nil
}
