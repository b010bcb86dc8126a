// Package oracle defines the external scoring and capture collaborators.
//
// The scoring service is opaque: it sees a screenshot and returns a quality
// score with improvement recommendations. How it arrives at either is its
// own business; callers only rely on the shape of the answer.
package oracle

import "context"

// Recommendation is a single improvement proposed by the scoring oracle.
// Immutable once produced.
type Recommendation struct {
	Dimension   string  `json:"dimension"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Impact      float64 `json:"impact"`
	Effort      float64 `json:"effort"`
}

// Review is one oracle response: an overall 0-10 score plus recommendations.
type Review struct {
	Score           float64          `json:"score"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Screenshot is an opaque captured image handed to the scorer.
type Screenshot struct {
	Data      []byte `json:"-"`
	MIME      string `json:"mime"`
	SourceURL string `json:"source_url,omitempty"`
	Path      string `json:"path,omitempty"`
}

// Scorer scores a screenshot. Implementations may be slow (remote calls)
// and fallible; callers retry transient failures.
type Scorer interface {
	Name() string
	Score(ctx context.Context, shot Screenshot) (*Review, error)
}

// Capturer produces a screenshot of the rendered target.
type Capturer interface {
	Name() string
	Capture(ctx context.Context, url string) (Screenshot, error)
}
