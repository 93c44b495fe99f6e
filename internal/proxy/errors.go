package proxy

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// Sentinel errors for proxy operations.
var (
	// ErrInvalidTargetURL indicates that the upstream URL is invalid.
	ErrInvalidTargetURL = errors.New("invalid upstream URL")
)

// Error types used as metric labels.
const (
	errorTypeTimeout           = "timeout"
	errorTypeConnectionRefused = "connection_refused"
	errorTypeCanceled          = "canceled"
	errorTypeBadGateway        = "bad_gateway"
)

func classifyError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errorTypeTimeout
	case errors.Is(err, context.Canceled):
		return errorTypeCanceled
	case errors.Is(err, syscall.ECONNREFUSED):
		return errorTypeConnectionRefused
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errorTypeTimeout
	}
	return errorTypeBadGateway
}
