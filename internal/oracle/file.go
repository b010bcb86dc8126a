package oracle

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileScorer reads reviews from a reviewer-maintained YAML file. Each call
// consumes the next entry of the `reviews:` list, so a human can script an
// offline run the way they would steer a live one.
type FileScorer struct {
	Path string

	next int
}

func (s *FileScorer) Name() string { return "file" }

type reviewFile struct {
	Reviews []fileReview `yaml:"reviews"`
}

type fileReview struct {
	Score           float64              `yaml:"score"`
	Recommendations []fileRecommendation `yaml:"recommendations"`
}

type fileRecommendation struct {
	Dimension   string  `yaml:"dimension"`
	Title       string  `yaml:"title"`
	Description string  `yaml:"description"`
	Impact      float64 `yaml:"impact"`
	Effort      float64 `yaml:"effort"`
}

func (s *FileScorer) Score(ctx context.Context, _ Screenshot) (*Review, error) {
	_ = ctx

	if s.Path == "" {
		return nil, fmt.Errorf("review file path is required")
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read review file: %w", err)
	}

	var file reviewFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse review file: %w", err)
	}
	if len(file.Reviews) == 0 {
		return nil, fmt.Errorf("review file must contain a `reviews:` list")
	}

	idx := s.next
	if idx >= len(file.Reviews) {
		idx = len(file.Reviews) - 1
	}
	s.next++

	entry := file.Reviews[idx]
	review := &Review{Score: entry.Score}
	for _, rec := range entry.Recommendations {
		if rec.Title == "" {
			continue
		}
		review.Recommendations = append(review.Recommendations, Recommendation{
			Dimension:   rec.Dimension,
			Title:       rec.Title,
			Description: rec.Description,
			Impact:      rec.Impact,
			Effort:      rec.Effort,
		})
	}
	if err := validateReview(review); err != nil {
		return nil, err
	}
	return review, nil
}
