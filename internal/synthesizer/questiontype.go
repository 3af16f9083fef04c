package synthesizer

import "strings"

// QuestionType steers the prompt towards the kind of clause a question is after
type QuestionType string

const (
	TypeTimePeriod   QuestionType = "time_period"
	TypeDefinition   QuestionType = "definition"
	TypeCoverage     QuestionType = "coverage"
	TypeDiscount     QuestionType = "discount"
	TypeLimits       QuestionType = "limits"
	TypeProcess      QuestionType = "process"
	TypeRequirements QuestionType = "requirements"
	TypeGeneral      QuestionType = "general"
)

type questionRule struct {
	qtype    QuestionType
	keywords []string
	focus    []string
}

// first matching rule wins
var questionRules = []questionRule{
	{
		qtype:    TypeTimePeriod,
		keywords: []string{"grace period", "waiting period", "period", "how long", "duration"},
		focus: []string{
			"Specific durations (days, months, years)",
			"Grace periods, waiting periods or policy periods",
			"Time-based conditions",
			"Exact values with units, e.g. \"30 days\", \"36 months\"",
		},
	},
	{
		qtype:    TypeDefinition,
		keywords: []string{"define", "definition", "what is", "what does", "means"},
		focus: []string{
			"Formal definitions",
			"Criteria that make something qualify",
			"Complete explanations rather than passing mentions",
		},
	},
	{
		qtype:    TypeCoverage,
		keywords: []string{"cover", "coverage", "included", "include", "benefit", "scope"},
		focus: []string{
			"What is covered or included",
			"Conditions and restrictions on the benefit",
			"Eligibility for the benefit",
		},
	},
	{
		qtype:    TypeDiscount,
		keywords: []string{"discount", "reduction", "deduction", "savings", "rebate"},
		focus: []string{
			"Discount percentages or amounts",
			"Conditions for earning the discount",
			"Maximum or minimum amounts",
		},
	},
	{
		qtype:    TypeLimits,
		keywords: []string{"limit", "cap", "maximum", "minimum", "threshold", "restriction"},
		focus: []string{
			"Maximum and minimum amounts",
			"Caps, sub-limits and thresholds",
			"Conditions that impose the limit",
		},
	},
	{
		qtype:    TypeProcess,
		keywords: []string{"process", "procedure", "step", "how to", "how do", "method"},
		focus: []string{
			"Step-by-step procedures",
			"Deadlines and documents required at each step",
		},
	},
	{
		qtype:    TypeRequirements,
		keywords: []string{"requirement", "criteria", "condition", "eligible", "qualification"},
		focus: []string{
			"Eligibility criteria",
			"Mandatory conditions or prerequisites",
		},
	},
}

// Classify picks the question type from keywords in the question
func Classify(question string) QuestionType {
	q := strings.ToLower(question)
	for _, rule := range questionRules {
		for _, kw := range rule.keywords {
			if strings.Contains(q, kw) {
				return rule.qtype
			}
		}
	}
	return TypeGeneral
}

// focusBlock renders the look-for hints of a question type, empty for general questions
func focusBlock(t QuestionType) string {
	for _, rule := range questionRules {
		if rule.qtype != t {
			continue
		}
		var b strings.Builder
		b.WriteString("\nFOCUS: look for\n")
		for _, f := range rule.focus {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
		return b.String()
	}
	return ""
}
