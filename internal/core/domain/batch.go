package domain

// BatchInput starts a batch coordinator. A nil Records slice makes the
// coordinator ask the listing activity for pending records.
type BatchInput struct {
	Records []Record `json:"records"`
	Limit   int      `json:"limit,omitempty"`
}

// BatchOutput is the aggregate result of a batch.
type BatchOutput struct {
	Succeeded bool                  `json:"succeeded"`
	Results   []OrchestrationOutput `json:"results,omitempty"`
	// Failed lists child instances that ended in a substrate failure.
	Failed []string `json:"failed,omitempty"`
}
