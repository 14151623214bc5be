package helpers

import "strings"

// SplitEmailAddress splits an address into its local part and domain.
// Case is preserved. The second return value is empty when there is no "@".
func SplitEmailAddress(email string) (string, string) {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at == -1 {
		return email, ""
	}
	return email[:at], email[at+1:]
}

// BaseLocalPart returns the local part without the detail (everything before the first "+").
func BaseLocalPart(localPart string) string {
	if plusIndex := strings.Index(localPart, "+"); plusIndex != -1 {
		return localPart[:plusIndex]
	}
	return localPart
}
