package bridge

import "strings"

// Instructions builds the system prompt for a tutoring session. The output is
// deterministic for a given course id and content snapshot so two sessions
// over the same material get the same tutor behaviour.
func Instructions(courseID, content string) string {
	var b strings.Builder
	b.WriteString("You are a patient, encouraging voice tutor for the course ")
	b.WriteString(courseID)
	b.WriteString(". Ground every answer in the course material below. ")
	b.WriteString("Keep spoken answers short and conversational, check the learner's ")
	b.WriteString("understanding with follow-up questions, and say so plainly when a ")
	b.WriteString("question falls outside the material.\n\n")
	b.WriteString("Course material:\n\n")
	b.WriteString(strings.TrimSpace(content))
	return b.String()
}
