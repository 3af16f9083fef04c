package models

const (
	ThinkTag         = `(?s)<think>.*?</think>`
	AnswerSection    = `(?is)ANSWER:\s*(.*?)(?:\n\s*CONFIDENCE:|\n\s*REASONING:|\z)`
	ConfidenceLine   = `(?i)CONFIDENCE:\s*([0-9]*\.?[0-9]+)`
	ReasoningSection = `(?is)REASONING:\s*(.*?)\z`
	ContextSeparator = "\n---\n"

	// InsufficientContextAnswer is returned without calling the LLM when retrieval is empty
	InsufficientContextAnswer     = "The provided document does not contain information relevant to this question."
	InsufficientContextConfidence = 0.0
	// UncertaintyCeiling caps confidence when the model declares it cannot answer
	UncertaintyCeiling = 0.2
)

// UncertaintyMarkers are lower-case phrases that signal the model could not ground its answer
var UncertaintyMarkers = []string{
	"cannot determine",
	"can't determine",
	"unable to determine",
	"cannot be determined",
	"does not contain",
	"doesn't contain",
	"does not specify",
	"does not mention",
	"not mentioned",
	"not specified",
	"not enough information",
	"insufficient information",
	"insufficient context",
	"no information",
	"not clear from",
}

const (
	ContextPromptTemplate = `<document>
%s
</document>
Here is the chunk we want to situate within the whole document
<chunk>
%s
</chunk>
Please give a short succinct context to situate this chunk within the overall document for the purposes of improving search retrieval of the chunk. Answer only with the succinct context and nothing else.
`

	// AnswerPromptTemplate takes the question type, the question, the focus block and the numbered context
	AnswerPromptTemplate = `You are an expert analyst of insurance, legal, HR and compliance documents. Answer the question using ONLY the document excerpts below.

QUESTION TYPE: %s
QUESTION: %s
%s
DOCUMENT EXCERPTS (most relevant first, cite them by chunk id):
%s

INSTRUCTIONS:
- Use only information explicitly stated in the excerpts. Do not use outside knowledge.
- Quote numbers, percentages, time periods, names and conditions exactly as written.
- Include the conditions, exceptions and limits that qualify the answer.
- If the excerpts do not contain the information, answer "The provided document does not contain information about <topic>" and say what related information is available.

RESPONSE FORMAT:
ANSWER: <direct, complete answer>
CONFIDENCE: <0.0 to 1.0, 0.9+ only when explicitly stated, 0.0-0.2 when not found>
REASONING: <the chunk ids and text that support the answer>
`

	SummaryPromptTemplate = `Provide a concise summary of this document (max %d characters):

%s

Focus on:
- Document type and purpose
- Key coverage areas or topics
- Important terms and conditions
- Main benefits or provisions`

	KeyClausesPromptTemplate = `Analyze the following document text and extract key clauses related to %s.

TEXT:
%s

Extract the most important clauses, conditions, and policy details. Focus on:
- Coverage details and limits
- Waiting periods and conditions
- Premium and payment terms
- Benefits and exclusions
- Important definitions

Return only the key clauses, one per line.`
)

// DefaultClauseKeywords are the topics key clause extraction looks for
var DefaultClauseKeywords = []string{"policy", "coverage", "premium", "claim", "benefit", "waiting period", "exclusion"}
