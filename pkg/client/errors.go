package client

import (
	"context"
	"errors"
	"fmt"

	rberrors "github.com/recordbase/recordbase-server/internal/errors"
	"google.golang.org/grpc/status"
)

// Sentinel errors, usable with errors.Is
var (
	ErrAuthenticationFailed = errors.New("recordbase: authentication failed")
	ErrConnectionFailed     = errors.New("recordbase: connection failed")
	ErrDeadlineExceeded     = errors.New("recordbase: deadline exceeded")
	ErrNotFound             = errors.New("recordbase: not found")
	ErrInvalidRequest       = errors.New("recordbase: invalid request")
	ErrInternalStorage      = errors.New("recordbase: internal storage error")
)

func sentinel(code rberrors.ErrorCode) error {
	switch code {
	case rberrors.ErrCodeAuthenticationFailed:
		return ErrAuthenticationFailed
	case rberrors.ErrCodeConnectionFailed:
		return ErrConnectionFailed
	case rberrors.ErrCodeDeadlineExceeded:
		return ErrDeadlineExceeded
	case rberrors.ErrCodeNotFound:
		return ErrNotFound
	case rberrors.ErrCodeInvalidRequest:
		return ErrInvalidRequest
	default:
		return ErrInternalStorage
	}
}

// fromRPC maps an RPC or local error onto the sentinels
func fromRPC(err error) error {
	if err == nil {
		return nil
	}
	if rberrors.IsStorageError(err) {
		return fmt.Errorf("%w: %v", sentinel(rberrors.GetCode(err)), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrDeadlineExceeded, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return fmt.Errorf("%w: %s", sentinel(rberrors.CodeFromGRPC(st.Code())), st.Message())
}
