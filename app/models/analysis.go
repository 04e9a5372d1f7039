package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MisinformationScoreThreshold is the trust score below which a page is
// considered to carry misinformation even without flagged snippets.
const MisinformationScoreThreshold = 70

var ErrInvalidResult = errors.New("invalid analysis result")

type FlaggedSnippet struct {
	Text        string `json:"text"`
	Category    string `json:"category"`
	Explanation string `json:"explanation"`
	Severity    string `json:"severity"`
	IsQuote     bool   `json:"is_quote"`
}

type ResultMetadata struct {
	Model  string `json:"model,omitempty"`
	Source string `json:"source,omitempty"`
}

// AnalysisResult is the payload produced by the inference service.
type AnalysisResult struct {
	Score           int              `json:"score"`
	Bias            string           `json:"bias"`
	FlaggedSnippets []FlaggedSnippet `json:"flagged_snippets"`
	Summary         string           `json:"summary,omitempty"`
	Metadata        *ResultMetadata  `json:"metadata,omitempty"`
}

// HasMisinformation is the single derivation used by every analysis path.
func HasMisinformation(score, flagged int) bool {
	return score < MisinformationScoreThreshold || flagged > 0
}

func (r AnalysisResult) HasMisinformation() bool {
	return HasMisinformation(r.Score, len(r.FlaggedSnippets))
}

// Tags returns each snippet's category in order. Duplicates are kept so tag
// statistics count occurrences.
func (r AnalysisResult) Tags() []string {
	tags := make([]string, 0, len(r.FlaggedSnippets))
	for _, s := range r.FlaggedSnippets {
		tags = append(tags, s.Category)
	}
	return tags
}

type rawResult struct {
	Score           *int             `json:"score"`
	Bias            *string          `json:"bias"`
	FlaggedSnippets []FlaggedSnippet `json:"flagged_snippets"`
	Summary         string           `json:"summary"`
	Metadata        *ResultMetadata  `json:"metadata"`
}

// DecodeAnalysisResult decodes and validates an inference payload. Any shape
// mismatch yields an error wrapping ErrInvalidResult.
func DecodeAnalysisResult(data []byte) (AnalysisResult, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return AnalysisResult{}, fmt.Errorf("%w: empty payload", ErrInvalidResult)
	}
	var raw rawResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return AnalysisResult{}, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	if raw.Score == nil {
		return AnalysisResult{}, fmt.Errorf("%w: missing score", ErrInvalidResult)
	}
	if raw.Bias == nil {
		return AnalysisResult{}, fmt.Errorf("%w: missing bias", ErrInvalidResult)
	}
	res := AnalysisResult{
		Score:           *raw.Score,
		Bias:            *raw.Bias,
		FlaggedSnippets: raw.FlaggedSnippets,
		Summary:         raw.Summary,
		Metadata:        raw.Metadata,
	}
	if res.FlaggedSnippets == nil {
		res.FlaggedSnippets = []FlaggedSnippet{}
	}
	if err := res.Validate(); err != nil {
		return AnalysisResult{}, err
	}
	return res, nil
}

func (r AnalysisResult) Validate() error {
	if r.Score < 0 || r.Score > 100 {
		return fmt.Errorf("%w: score %d out of range", ErrInvalidResult, r.Score)
	}
	for i, s := range r.FlaggedSnippets {
		if s.Text == "" {
			return fmt.Errorf("%w: snippet %d has no text", ErrInvalidResult, i)
		}
		if s.Category == "" {
			return fmt.Errorf("%w: snippet %d has no category", ErrInvalidResult, i)
		}
	}
	return nil
}

// AnalysisRecord is one row of a user's analysis history.
type AnalysisRecord struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"userId"`
	URL               *string   `json:"url"`
	Title             *string   `json:"title"`
	TrustScore        int       `json:"trustScore"`
	HasMisinformation bool      `json:"hasMisinformation"`
	Tags              []string  `json:"tags"`
	Bias              string    `json:"bias"`
	AnalyzedAt        time.Time `json:"analyzedAt"`
}

// NewAnalysisRecord derives a history record from a completed result.
func NewAnalysisRecord(userID int64, url, title *string, res AnalysisResult, at time.Time) AnalysisRecord {
	return AnalysisRecord{
		UserID:            userID,
		URL:               url,
		Title:             title,
		TrustScore:        res.Score,
		HasMisinformation: res.HasMisinformation(),
		Tags:              res.Tags(),
		Bias:              res.Bias,
		AnalyzedAt:        at,
	}
}

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

type HistoryStats struct {
	Total              int        `json:"total"`
	WithMisinformation int        `json:"withMisinformation"`
	AverageScore       float64    `json:"averageScore"`
	Tags               []TagCount `json:"tags"`
}
