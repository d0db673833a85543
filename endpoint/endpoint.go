// Package endpoint provides typed HTTP handlers for the swipelist API.
//
// A request passes through three phases:
//
//  1. Processors run in order and may short-circuit (the auth guard lives here).
//  2. The request is decoded into a typed params struct and handed to an
//     EndpointFunc, which returns a Renderer instead of writing the response.
//  3. The Renderer writes the status, headers, and body.
//
// Errors returned from any phase are rendered as a JSON body of the form
// {"error": "<message>"} with the status carried by an *EndpointError.
package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// EndpointError is a client-visible error with an HTTP status.
type EndpointError struct {
	Status int
	// Message is short and safe to show to the client.
	Message string
	Cause   error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if msg == "" {
		msg = "unknown error"
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Error returns an *EndpointError. If err already carries one it is returned
// unchanged so the innermost status wins.
func Error(status int, message string, err error) error {
	var ee *EndpointError
	if errors.As(err, &ee) {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

// Renderer writes a complete response. It must call WriteHeader.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Processor is middleware that runs before the endpoint.
//
// A processor either calls next or returns an error to stop the chain. It may
// set headers (including cookies) but must not call WriteHeader or write a body.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// EndpointFunc implements the business logic of one route. params is decoded
// from the request by Unmarshal before the call.
type EndpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// EndpointHandler is an http.Handler running Processors and then Endpoint.
type EndpointHandler[P any] struct {
	Endpoint   EndpointFunc[P]
	Processors []Processor
}

// Handler constructs an EndpointHandler, inferring P from fn.
func Handler[P any](fn EndpointFunc[P], processors ...Processor) *EndpointHandler[P] {
	return &EndpointHandler[P]{Endpoint: fn, Processors: processors}
}

// HandleFunc is Handler(fn, processors...).ServeHTTP.
func HandleFunc[P any](fn EndpointFunc[P], processors ...Processor) http.HandlerFunc {
	return Handler(fn, processors...).ServeHTTP
}

type hooksKey struct{}

// Defer registers fn to run just before the response headers are written,
// whether the request succeeds or fails. Outside an EndpointHandler it is a
// no-op.
func Defer(ctx context.Context, fn func(http.ResponseWriter)) {
	if hooks, ok := ctx.Value(hooksKey{}).(*[]func(http.ResponseWriter)); ok && hooks != nil {
		*hooks = append(*hooks, fn)
	}
}

// Commit runs the functions registered with Defer in LIFO order, once.
func Commit(ctx context.Context, w http.ResponseWriter) {
	hooks, ok := ctx.Value(hooksKey{}).(*[]func(http.ResponseWriter))
	if !ok || hooks == nil {
		return
	}
	for i := len(*hooks) - 1; i >= 0; i-- {
		(*hooks)[i](w)
	}
	*hooks = nil
}

// ServeHTTP implements http.Handler.
func (h *EndpointHandler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Endpoint == nil {
		writeError(w, http.StatusInternalServerError, "endpoint: nil EndpointFunc")
		return
	}
	if r.Context().Value(hooksKey{}) == nil {
		var hooks []func(http.ResponseWriter)
		r = r.WithContext(context.WithValue(r.Context(), hooksKey{}, &hooks))
	}

	var run func(i int, w http.ResponseWriter, r *http.Request) error
	run = func(i int, w http.ResponseWriter, r *http.Request) error {
		if i < len(h.Processors) {
			p := h.Processors[i]
			if p == nil {
				return errors.New("endpoint: nil processor")
			}
			return p.Process(w, r, func(w http.ResponseWriter, r *http.Request) error {
				return run(i+1, w, r)
			})
		}

		var params P
		if err := Unmarshal(r, &params); err != nil {
			return err
		}
		renderer, err := h.Endpoint(w, r, params)
		if err != nil {
			return err
		}
		if renderer == nil {
			return errors.New("endpoint: nil renderer")
		}
		if c, ok := renderer.(io.Closer); ok {
			defer c.Close()
		}
		Commit(r.Context(), w)
		return renderer.Render(w, r)
	}

	if err := run(0, w, r); err != nil {
		status := http.StatusInternalServerError
		message := http.StatusText(status)
		var ee *EndpointError
		if errors.As(err, &ee) && ee != nil {
			if ee.Status >= 100 {
				status = ee.Status
			}
			message = ee.Message
			if message == "" {
				message = http.StatusText(status)
			}
		}
		Commit(r.Context(), w)
		writeError(w, status, message)
	}
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: message})
}
