package models

// TokenUsage reports provider token counts for one LLM call
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens
func (u TokenUsage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Answer is produced once per question and never modified afterwards
type Answer struct {
	Question       string     `json:"question"`
	Text           string     `json:"answer"`
	Confidence     float64    `json:"confidence"`
	SourceChunkIDs []int      `json:"source_chunk_ids"`
	ProcessingTime float64    `json:"processing_time"`
	Reasoning      string     `json:"reasoning,omitempty"`
	TokenUsage     TokenUsage `json:"token_usage"`
}

// ErrorInfo is the per-question error descriptor returned to callers
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Result is the slot for one input question: either an Answer or an error
type Result struct {
	Index    int        `json:"index"`
	Question string     `json:"question"`
	Answer   *Answer    `json:"answer,omitempty"`
	Error    *ErrorInfo `json:"error,omitempty"`
	Err      error      `json:"-"`
}

// Succeeded builds a result slot holding an answer
func Succeeded(index int, question string, answer Answer) Result {
	return Result{Index: index, Question: question, Answer: &answer}
}

// Failed builds a result slot holding an error descriptor
func Failed(index int, question string, err error) Result {
	return Result{
		Index:    index,
		Question: question,
		Error:    &ErrorInfo{Kind: KindOf(err), Message: err.Error()},
		Err:      err,
	}
}

// BatchState tracks the lifecycle of one request
type BatchState string

const (
	BatchReceived      BatchState = "received"
	BatchDocumentReady BatchState = "document_ready"
	BatchProcessing    BatchState = "processing"
	BatchCompleted     BatchState = "completed"
	BatchFailed        BatchState = "failed"
)

// BatchResult aggregates all results of one request in input order
type BatchResult struct {
	ID             string     `json:"id"`
	DocumentRef    string     `json:"document_ref"`
	State          BatchState `json:"state"`
	Results        []Result   `json:"results"`
	ProcessingTime float64    `json:"processing_time"`
	TotalTokens    int        `json:"total_tokens"`
}

// Answers returns the answer texts in input order; failed slots carry their error message
func (b *BatchResult) Answers() []string {
	out := make([]string, len(b.Results))
	for i, r := range b.Results {
		if r.Answer != nil {
			out[i] = r.Answer.Text
			continue
		}
		if r.Error != nil {
			out[i] = "Error: " + r.Error.Message
		}
	}
	return out
}

// DocumentAnalysis describes the structure of a document
type DocumentAnalysis struct {
	DocumentRef       string       `json:"document_ref"`
	DocumentType      DocumentType `json:"document_type"`
	TotalChunks       int          `json:"total_chunks"`
	TotalWords        int          `json:"total_words"`
	AverageChunkWords int          `json:"average_chunk_words"`
	KeyClauses        []string     `json:"key_clauses"`
}
