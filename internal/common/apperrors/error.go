// Package apperrors provides a flexible error handling system that supports error wrapping,
// status codes, wire codes and error classes. It implements the standard error interface
// while adding extended functionality for error chaining and status code management.
package apperrors

// Kind classifies an error for propagation decisions. Derived errors inherit the kind
// of their template unless it is overridden.
type Kind string

const (
	KindInternal    Kind = "internal"    // unexpected fault
	KindValidation  Kind = "validation"  // malformed request, never retried
	KindNotFound    Kind = "not_found"   // absent or expired resource, expected outcome
	KindResource    Kind = "resource"    // rendering or file-system failure
	KindWorker      Kind = "worker"      // provider call failed or worker crashed
	KindConcurrency Kind = "concurrency" // duplicate submission or launch
)

// Error defines the interface for application errors. It extends the standard error
// interface with additional methods for error wrapping, message manipulation, and
// status code management. All methods return Error to support method chaining.
type Error interface {
	error
	Unwrap() error // support for errors.Is / errors.As

	// Extended methods
	New(msg string) Error                  // creates a new error using current as template
	Msg(msg string) Error                  // creates a new error with message and wraps original
	MsgErr(msg string, err ...error) Error // creates error with message and wraps extra errors
	Err(err ...error) Error                // attaches additional errors to current error
	SetExpandError(bool) Error             // controls whether ErrorAll expands wrapped errors
	SetStatusCode(int) Error               // sets HTTP status code for the error
	StatusCode() int                       // returns the current status code
	SetCode(string) Error                  // sets the stable code sent to clients
	Code() string                          // returns the stable code
	SetKind(Kind) Error                    // sets the error class
	Kind() Kind                            // returns the error class
	Prefix(string) Error                   // adds a prefix to the error message
	Suffix(string) Error                   // adds a suffix to the error message
	ErrorAll() string                      // returns full message including wrapped errors
	UnwrapAll() []error                    // returns all wrapped errors
}
