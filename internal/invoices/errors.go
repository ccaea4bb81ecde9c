package invoices

import "errors"

var (
	// ErrNotFound indicates no invoice exists for the id.
	ErrNotFound = errors.New("invoice not found")

	// ErrValidation indicates bad input.
	ErrValidation = errors.New("validation error")

	// ErrNotUploaded indicates the document has not reached the blob store yet.
	ErrNotUploaded = errors.New("invoice not uploaded")

	// ErrStorageWrite indicates the local staged document could not be written or read.
	ErrStorageWrite = errors.New("storage write error")

	// ErrUpload indicates the remote write of the staged document failed.
	ErrUpload = errors.New("upload error")

	// ErrRemoteStore indicates a blob store operation other than upload failed.
	ErrRemoteStore = errors.New("remote store error")

	// ErrSimulatedFailure is returned by fault injectors.
	ErrSimulatedFailure = errors.New("simulated failure")

	// ErrEnqueue indicates the invoice was stored but its id could not be published.
	ErrEnqueue = errors.New("enqueue error")
)
