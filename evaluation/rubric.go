package evaluation

import (
	"fmt"
	"strings"
)

// KPICount is the number of items in the fixed rubric.
const KPICount = 16

// KPIs lists the rubric items in order; KPIs[i] is KPI number i+1.
var KPIs = [KPICount]string{
	"Was the customer greeted with Good [Time of Day] Pinnaca Retail Solutions,[Engineer Speaking], How May I Help?",
	"Was the customer asked for their Name, Company, & Location?",
	"Did the engineer put the call on proper hold as per the script?",
	"Did the engineer thank the caller after putting them on hold?",
	"Was there any dead air during the call?",
	"Was the customer given a ticket number?",
	"Was the proper closing script followed?",
	"Did the engineer ask for further assistance?",
	"Politeness and professionalism in all interactions.",
	"Active listening skills to understand customer concerns.",
	"Empathy and understanding of customer frustrations.",
	"Clear explanation of solutions and next steps.",
	"Need to improve customer Interaction.",
	"Active listening and responding.",
	"Effective troubleshooting and problem-solving.",
	"Clear and concise communication with the customer.",
}

// ValidKPI reports whether n is one of the rubric identifiers.
func ValidKPI(n int) bool { return n >= 1 && n <= KPICount }

// SystemPrompt is sent verbatim as the evaluator's system message. Backends
// are tuned against this exact wording, so edits change scoring.
var SystemPrompt = buildSystemPrompt()

func buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString(`
You are a call quality assurance evaluator for technical support calls.

Your job is to evaluate the agent's performance based on these 16 fixed KPIs.

For each KPI:
- Give a score out of 5
- Note if a penalty applies (Yes/No)
- Give a short justification

KPI List:
`)
	for i, kpi := range KPIs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, kpi)
	}
	b.WriteString(`
MAKEE SURE TO RETURN OUTPUT IN THIS EXACT JSON format:

{
  "evaluation": [
    {
      "kpi_number": <1-16>,
      "description": "<brief KPI description>",
      "score": <0-5>,
      "penalty": <true|false>,
      "justification": "<short explanation>"
    },
    ...
  ]
  }
`)
	return b.String()
}

// UserPrompt wraps a transcript in the user message the rubric expects.
func UserPrompt(transcript string) string {
	return `
Evaluate the following agent transcript against the KPIs listed in the system prompt.

Transcript:
"""
` + transcript + `
"""
`
}
