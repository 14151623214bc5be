package helpers

import "fmt"

// NewS3Key constructs an S3 key for an object owned by a sender.
func NewS3Key(domain, localPart, name string) string {
	return fmt.Sprintf("%s/%s/%s", domain, localPart, name)
}
