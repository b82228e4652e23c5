package tracking

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// ClassifyError maps a failed call to its error type and the status code to
// record. A response means the server answered with an error status; no
// response means the request never completed.
func ClassifyError(err error, resp *http.Response) (ErrorType, int) {
	if resp != nil {
		return ErrorHTTP, resp.StatusCode
	}
	if err == nil {
		return ErrorUnknown, 0
	}
	return classifyTransportError(err), 0
}

func classifyTransportError(err error) ErrorType {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ErrorTimeout
		}
		return ErrorDNS
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a connection failure by its message alone.
func ClassifyMessage(msg string) ErrorType {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timed out"), strings.Contains(lower, "timeout"):
		return ErrorTimeout
	case strings.Contains(lower, "could not resolve"), strings.Contains(lower, "no such host"):
		return ErrorDNS
	default:
		return ErrorConnection
	}
}
