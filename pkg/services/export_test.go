package services

// TrackedRuns returns the number of orchestrators r holds.
func TrackedRuns(r *Runs) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.orchestrators)
}
