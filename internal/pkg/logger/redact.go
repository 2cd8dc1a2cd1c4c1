package logger

import "strings"

// RedactEmail masks the local part of an address so queue and suppression
// log lines never carry a full subscriber email. The domain stays visible
// for debugging delivery problems.
//
// "john.doe@example.com" becomes "jo***@example.com"; local parts of two
// characters or fewer are masked entirely. Anything that does not look like
// a single address is replaced wholesale.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
