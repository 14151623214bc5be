package consts

import "errors"

var (
	ErrMissingSender    = errors.New("missing sender address")
	ErrMissingContent   = errors.New("missing message content")
	ErrMalformedMessage = errors.New("malformed message")

	ErrObjectNotFound = errors.New("object not found")
	ErrMalformedFeed  = errors.New("malformed feed document")

	ErrS3UploadFailed = errors.New("s3 upload failed")

	ErrSerializationFailed = errors.New("serialization failed")
)
