package interceptor

import (
	"errors"
	"net/http"
	"strconv"
)

var errRoundTripAborted = errors.New("round trip aborted")

// StatusError is reported to OnFailed when HTTPErrors is enabled and the
// server answered with a 4xx or 5xx.
type StatusError struct {
	Code   int
	Method string
	URL    string
}

func (e *StatusError) Error() string {
	return "http status " + strconv.Itoa(e.Code) + " for " + e.Method + " " + e.URL
}

func (e *StatusError) HTTPStatusCode() int { return e.Code }

// Transport wraps a RoundTripper and reports every call to Observer without
// changing the response or error returned to the caller.
type Transport struct {
	Base     http.RoundTripper
	Observer Observer
	// HTTPErrors reports 4xx/5xx responses through OnFailed as http_error.
	HTTPErrors bool
	// Skip excludes requests from observation, e.g. calls to the collector.
	Skip func(req *http.Request) bool
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, observer Observer) *Transport {
	return &Transport{Base: base, Observer: observer}
}

// Middleware returns a constructor usable in RoundTripper chains.
func Middleware(observer Observer, httpErrors bool) func(http.RoundTripper) http.RoundTripper {
	return func(next http.RoundTripper) http.RoundTripper {
		return &Transport{Base: next, Observer: observer, HTTPErrors: httpErrors}
	}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Observer == nil || (t.Skip != nil && t.Skip(req)) {
		return t.base().RoundTrip(req)
	}

	token := t.Observer.OnSending(req)
	reported := false
	defer func() {
		if !reported {
			t.Observer.OnFailed(token, req, nil, errRoundTripAborted)
		}
	}()

	resp, err := t.base().RoundTrip(req)
	switch {
	case err != nil:
		t.Observer.OnFailed(token, req, nil, err)
	case t.HTTPErrors && resp.StatusCode >= http.StatusBadRequest:
		t.Observer.OnFailed(token, req, resp, &StatusError{Code: resp.StatusCode, Method: req.Method, URL: req.URL.String()})
	default:
		t.Observer.OnCompleted(token, req, resp)
	}
	reported = true
	return resp, err
}

// CloseIdleConnections forwards to the base transport when supported.
func (t *Transport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if ci, ok := t.base().(closeIdler); ok {
		ci.CloseIdleConnections()
	}
}
