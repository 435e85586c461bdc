package agents

import (
	"strings"
)

// Node names of the five agents.
const (
	Architect = "architect"
	Coder     = "coder"
	Tester    = "tester"
	Reviewer  = "reviewer"
	Manager   = "manager"
)

// Decision is the manager's verdict on a cycle.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionRewrite Decision = "rewrite"
)

// ArchitectPrompt asks for a high-level design of task.
func ArchitectPrompt(task string) string {
	return "Design a high-level architecture for: " + task
}

// CoderPrompt asks for an implementation of architecture. A non-empty
// feedback (the previous review) is appended on rewrite cycles.
func CoderPrompt(architecture, feedback string) string {
	var b strings.Builder
	b.WriteString("Write Python code based on this architecture:\n\n")
	b.WriteString(architecture)
	b.WriteString("\n")
	if feedback != "" {
		b.WriteString("\nA reviewer asked for changes to the previous version:\n\n")
		b.WriteString(feedback)
		b.WriteString("\n")
	}
	return b.String()
}

// TesterPrompt asks for pytest cases covering code.
func TesterPrompt(code string) string {
	return "Write pytest test cases for the following code:\n\n" + code + "\n"
}

// ReviewerPrompt asks for a free-text review of code and tests.
func ReviewerPrompt(code, tests string) string {
	return "Review this code and tests.\nSay if changes are required or not.\n\n" +
		"Code:\n" + code + "\n\n" +
		"Tests:\n" + tests + "\n"
}

// ManagerPrompt asks for a one-word verdict on review.
func ManagerPrompt(review string) string {
	return "You are a software manager.\n\n" +
		"Review:\n" + review + "\n\n" +
		"Reply with ONLY one word:\n- rewrite\n- approve\n"
}

// ParseDecision maps a raw manager reply to a Decision. Any reply containing
// "rewrite" in any case is a rewrite; everything else, including an empty
// reply, approves.
func ParseDecision(raw string) Decision {
	if strings.Contains(strings.ToLower(strings.TrimSpace(raw)), string(DecisionRewrite)) {
		return DecisionRewrite
	}
	return DecisionApprove
}
