package nfc

import (
	"context"
	"errors"
	"fmt"
)

// TechnologyReader performs the read for one technology.
//
// Read never returns an error: every transport failure is recorded in the
// ReadResult. Implementations open exactly one connection and close it before
// returning.
type TechnologyReader interface {
	Technology() Technology
	Applicable(s Session) bool
	Read(ctx context.Context, s Session) ReadResult
}

// present is the Applicable rule shared by the built-in readers.
func present(s Session, tech Technology) bool {
	return s.Technologies().Has(tech)
}

// withConn opens tech on s, hands the typed connection to fn and closes it.
// A close error does not change the outcome of fn.
func withConn[C Conn](ctx context.Context, s Session, tech Technology, fn func(C) ReadResult) ReadResult {
	conn, err := s.Open(ctx, tech)
	if err != nil {
		return failure(ctx, "Open "+tech.String(), err)
	}
	if conn == nil {
		return Failed(ReasonConnectFailed, NewConnectError("Open "+tech.String(), errors.New("no connection")))
	}
	defer func() { _ = conn.Close() }()

	typed, ok := conn.(C)
	if !ok {
		return Failed(ReasonUnsupported,
			Errorf(ErrCodeNotSupported, "Open "+tech.String(), "connection of type %T does not provide %s", conn, tech))
	}
	return fn(typed)
}

// failure classifies a transport error from op, treating an expired
// per-technology deadline as a timeout however the transport reported it.
func failure(ctx context.Context, op string, err error) ReadResult {
	reason := FailureFromError(err)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = ReasonTimeout
	}
	var nfcErr *NFCError
	if !errors.As(err, &nfcErr) {
		err = &NFCError{Code: reasonCode(reason), Op: op, Message: "transport error", Cause: err}
	}
	return Failed(reason, err)
}

func reasonCode(r FailureReason) ErrorCode {
	switch r {
	case ReasonUnsupported:
		return ErrCodeNotSupported
	case ReasonAuthenticationFailed:
		return ErrCodeAuthFailed
	case ReasonTimeout:
		return ErrCodeTimeout
	default:
		return ErrCodeConnectFailed
	}
}

// recoverRead runs r.Read, turning a transport panic into connect-failed.
func recoverRead(ctx context.Context, r TechnologyReader, s Session) (res ReadResult) {
	defer func() {
		if p := recover(); p != nil {
			res = Failed(ReasonConnectFailed, NewConnectError(r.Technology().String(), fmt.Errorf("transport panic: %v", p)))
		}
	}()
	return r.Read(ctx, s)
}
