package downloader

// Action is the decision taken before writing a product on disk
type Action int

const (
	// ResumeFrom appends the remote bytes from Offset
	ResumeFrom Action = iota
	// Skip leaves the local file unchanged: it is complete
	Skip
	// RestartFromZero truncates the local file, which is larger than the remote one
	RestartFromZero
)

func (a Action) String() string {
	switch a {
	case Skip:
		return "Skip"
	case RestartFromZero:
		return "RestartFromZero"
	}
	return "ResumeFrom"
}

// Plan is the outcome of ResumePlan
type Plan struct {
	Action Action
	Offset int64
}

// ResumePlan decides how to complete a local file of size existing, given the size of the remote one.
// A negative remote size means unknown: the download resumes at existing.
func ResumePlan(existing, remote int64) Plan {
	switch {
	case remote < 0:
		return Plan{Action: ResumeFrom, Offset: existing}
	case existing == remote:
		return Plan{Action: Skip, Offset: existing}
	case existing > remote:
		return Plan{Action: RestartFromZero}
	}
	return Plan{Action: ResumeFrom, Offset: existing}
}
