package archive

import (
	"regexp"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`)
)

// ScrubContact replaces emails with [EMAIL] and phone numbers with [PHONE].
func ScrubContact(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	return text
}

func scrubRecord(r *SummaryRecord) {
	r.Diagnosis = ScrubContact(r.Diagnosis)
	r.Recommendations = ScrubContact(r.Recommendations)
	r.FollowUp = ScrubContact(r.FollowUp)
}
