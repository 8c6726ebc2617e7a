package torrent

// Displayer defines the interface for displaying progress during
// hashing and verification
type Displayer interface {
	ShowProgress(total int)
	UpdateProgress(completed int, rate float64)
	FinishProgress()
}
