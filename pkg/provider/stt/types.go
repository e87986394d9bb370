package stt

// Transcript is a single recognition result. Both interim and final results
// use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal marks an authoritative result. Interim results are superseded by
	// the next result of either kind.
	IsFinal bool

	// Confidence is the score in [0, 1]. Zero means the provider did not
	// report one; consumers apply their own default.
	Confidence float64
}

// KeywordBoost is a recognition hint for a single word.
type KeywordBoost struct {
	// Keyword is the text to boost.
	Keyword string

	// Boost is the provider-specific intensity.
	Boost float64
}
