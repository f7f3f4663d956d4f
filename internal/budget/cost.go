package budget

// Model pricing in USD per million tokens. Fixed for the process lifetime;
// the audit trail records the dollar impact computed from these.
const (
	InputPricePerMTok  = 3.0
	OutputPricePerMTok = 15.0
)

// OutputProjectionRatio is the worst-case output volume assumed by Check
// before the operation runs, as a fraction of the input tokens. The actual
// output count passed to Deduct is authoritative; the projection only has to
// be pessimistic enough that an 8,000-token input against a 10,000-token
// session limit is rejected up front.
const OutputProjectionRatio = 0.5

// CalculateCost returns the dollar cost of a token count pair.
func CalculateCost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1e6*InputPricePerMTok +
		float64(outputTokens)/1e6*OutputPricePerMTok
}

// ProjectTokens returns the worst-case total token count for an operation
// with the given estimated input.
func ProjectTokens(estimatedInput int64) int64 {
	return estimatedInput + int64(float64(estimatedInput)*OutputProjectionRatio)
}
