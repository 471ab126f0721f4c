package identity

// SyncEvent is the provider-published payload announcing a member profile.
// The first sync for an id creates the local member row; later syncs refresh
// the display attributes.
type SyncEvent struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Major      string `json:"major"`
	CohortYear int    `json:"cohort_year"`
}
