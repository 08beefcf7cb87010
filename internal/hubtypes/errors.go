package hubtypes

import "errors"

// Error kinds from the error handling design. Workers classify every
// failure into exactly one of these before updating the cache flag.
var (
	// ErrValidation: caller-supplied data failed schema checks. Surfaced to
	// the caller; nothing is enqueued.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicate: identifier or informant already known. Surfaced to the
	// caller by SubmitCollected. A duplicate found later by the analysis
	// worker is counted as dropped; no cache flag is written for it.
	ErrDuplicate = errors.New("duplicate item")

	// ErrTransientProvider: retryable (network, 429, 5xx, parse-after-repair).
	// Consumed internally by the retry loop; on exhaustion the item gets E.
	ErrTransientProvider = errors.New("transient provider error")

	// ErrSensitiveProvider: HTTP 400 from the provider. Never retried; the
	// cache flag becomes S.
	ErrSensitiveProvider = errors.New("sensitive provider refusal")

	// ErrTerminalProvider: any other non-sensitive terminal provider error
	// after retries are exhausted. Cache flag becomes E.
	ErrTerminalProvider = errors.New("terminal provider error")

	// ErrNoValue: the analysis response lacked EVENT_TEXT. Cache flag D.
	ErrNoValue = errors.New("response carries no value")

	// ErrPostProcess: failure writing the archive record or upserting
	// vector chunks. Cache flag E.
	ErrPostProcess = errors.New("post-process failure")

	// ErrInfrastructure: document store connection failure, vector service
	// error, disk-full on export. The affected subsystem degrades but the
	// hub keeps running.
	ErrInfrastructure = errors.New("infrastructure error")

	// ErrConnect: document-store connection-layer failure (C1).
	ErrConnect = errors.New("document store connect error")

	// ErrOperation: document-store operation-layer failure (C1).
	ErrOperation = errors.New("document store operation error")

	// ErrServiceUnavailable: a non-blocking caller observed the vector
	// service in a not-ready state.
	ErrServiceUnavailable = errors.New("vector service unavailable")

	// ErrNoClient: the manager has no available client matching the
	// selection rule at this moment.
	ErrNoClient = errors.New("no available AI client")

	// ErrDuplicateTask: a scheduler task id was already registered.
	ErrDuplicateTask = errors.New("duplicate scheduler task id")
)
