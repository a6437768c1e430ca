package torrentapi

import "fmt"

type ErrorKind int

const (
	// KindTransport covers anything that kept us from getting an answer:
	// dial errors, timeouts, unexpected HTTP status.
	KindTransport ErrorKind = iota + 1
	// KindUpstream means torrentapi answered with an "error" field.
	KindUpstream
	// KindParse means the body was not the JSON shape we expect.
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUpstream:
		return "upstream"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Upstream error codes that mean our token is no good any more.
var tokenRejectedCodes = map[int]bool{
	1: true, // missing token
	2: true, // invalid token
	4: true, // expired token
}

type APIError struct {
	Kind    ErrorKind
	Message string
	// Code is torrentapi's error_code, zero when absent.
	Code int
	Err  error
}

func (e *APIError) Error() string {
	if e.Kind == KindUpstream {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// TokenRejected reports whether upstream refused the token itself.
func (e *APIError) TokenRejected() bool {
	return e.Kind == KindUpstream && tokenRejectedCodes[e.Code]
}

func transportErr(msg string, err error) *APIError {
	return &APIError{Kind: KindTransport, Message: msg, Err: err}
}

func parseErr(msg string, err error) *APIError {
	return &APIError{Kind: KindParse, Message: msg, Err: err}
}
