package nanobanana

// Request is the body sent to the draw endpoint. URLs carries the resolved
// reference image payloads and is omitted entirely when no images are
// selected. ID is filled in once the server assigns a job id and must be
// echoed on every later call for the same logical job.
type Request struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	AspectRatio string   `json:"aspectRatio"`
	ImageSize   string   `json:"imageSize"`
	URLs        []string `json:"urls,omitempty"`
	ID          string   `json:"id,omitempty"`
}

// Clone returns a deep copy so a rerun can reuse the bound parameters without
// sharing the URL slice with the original.
func (r Request) Clone() Request {
	out := r
	if len(r.URLs) > 0 {
		out.URLs = append([]string(nil), r.URLs...)
	}
	return out
}

// Task status values reported by the API.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ResultImage is one generated image reference.
type ResultImage struct {
	URL string `json:"url"`
}

// Event is a decoded progress/result record. The same shape arrives both as a
// single JSON document and as individual stream records; every field is
// independently optional and co-occurring facets must all be applied.
type Event struct {
	ID            string        `json:"id,omitempty"`
	Progress      *float64      `json:"progress,omitempty"`
	Status        string        `json:"status,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Error         string        `json:"error,omitempty"`
	Results       []ResultImage `json:"results,omitempty"`
}

// Terminal reports whether the event carries the chain's terminal result.
func (e *Event) Terminal() bool {
	return e.Status == StatusSucceeded || e.Status == StatusFailed || e.Error != ""
}
