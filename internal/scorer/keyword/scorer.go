// Package keyword scores posts for business-lead signals using keyword
// matches and weighted text heuristics.
package keyword

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"

	"github.com/bizradar/reddit-scanner/internal/scanner"
)

// Urgency levels assigned to scored posts.
const (
	UrgencyHigh   = "high"
	UrgencyMedium = "medium"
	UrgencyLow    = "low"
)

// Scoring weights. A post's base score is its keyword-match count, then
// each matching heuristic multiplies it.
const (
	weightMultipleKeywords = 1.5
	weightTitleBonus       = 1.2
	weightHighUrgency      = 2.0
	weightMediumUrgency    = 1.3
	weightScale            = 1.8
	weightManualProcess    = 2.2
	weightTimeWaste        = 1.7
	weightAutomationAsk    = 2.5
	weightEngagement       = 0.8
)

var defaultKeywords = []string{
	"manual data entry", "copy and paste", "repetitive task",
	"automation", "streamline", "workflow", "bottleneck",
	"time-consuming", "manual process", "integrate systems",
}

var (
	highUrgencyRe = regexp.MustCompile(`(?i)\b(asap|urgent|crisis|emergency|crashing|failing|broken|down)\b`)
	medUrgencyRe  = regexp.MustCompile(`(?i)\b(soon|quickly|rushing|hurry|deadline|pressure|stressed)\b`)
	highValueRe   = regexp.MustCompile(`(?i)\$\d+k\b|\$\d+,\d+|\b(million|billion|profit|revenue)\b|\bcost\s*saving\b`)
	scaleRe       = regexp.MustCompile(`(?i)\b(hundreds?\s+of|thousands?\s+of|millions?\s+of|multiple\s+times|everyday|daily|weekly|scale|bulk|mass|large\s+volume)\b`)
	manualRe      = regexp.MustCompile(`(?i)\b(manual|by\s+hand|one\s+by\s+one|individually|repetitive|tedious)\b`)
	timeWasteRe   = regexp.MustCompile(`(?i)\b(takes\s+hours|time-consuming|wasting\s+time|eating\s+up\s+time|spending\s+all\s+day)\b`)
	automationRe  = regexp.MustCompile(`(?i)\b(automat\w*|script|tool|software|app|program|solution|integrat\w*)\b`)
)

// Scorer detects business opportunities in post text. Safe for concurrent
// use; all state is read-only after construction.
type Scorer struct {
	keywords []string
}

// New builds a Scorer over the default keyword list.
func New() *Scorer {
	return NewWithKeywords(defaultKeywords)
}

// NewWithKeywords builds a Scorer over a custom keyword list. Keywords
// match case-insensitively as substrings.
func NewWithKeywords(keywords []string) *Scorer {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			lowered = append(lowered, strings.ToLower(kw))
		}
	}
	return &Scorer{keywords: lowered}
}

// LoadKeywords reads a JSON array of keywords from disk, falling back to
// the defaults when the file is absent.
func LoadKeywords(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultKeywords, nil
		}
		return nil, fmt.Errorf("read keywords: %w", err)
	}
	var keywords []string
	if err := json.Unmarshal(data, &keywords); err != nil {
		return nil, fmt.Errorf("decode keywords: %w", err)
	}
	if len(keywords) == 0 {
		return defaultKeywords, nil
	}
	return keywords, nil
}

// Score annotates the post with a business score, urgency level, and the
// keywords that triggered it.
func (s *Scorer) Score(post scanner.Post) scanner.ScoredPost {
	title := strings.ToLower(post.Title)
	combined := title + " " + strings.ToLower(post.Text)

	var matched []string
	for _, kw := range s.keywords {
		if strings.Contains(combined, kw) {
			matched = append(matched, kw)
		}
	}

	score := float64(len(matched))
	if len(matched) > 1 {
		score *= weightMultipleKeywords
	}
	for _, kw := range s.keywords {
		if strings.Contains(title, kw) {
			score *= weightTitleBonus
			break
		}
	}

	urgency := urgencyLevel(combined)
	switch urgency {
	case UrgencyHigh:
		score *= weightHighUrgency
	case UrgencyMedium:
		score *= weightMediumUrgency
	}

	if scaleRe.MatchString(combined) {
		score *= weightScale
	}
	if manualRe.MatchString(combined) {
		score *= weightManualProcess
	}
	if timeWasteRe.MatchString(combined) {
		score *= weightTimeWaste
	}
	if automationRe.MatchString(combined) {
		score *= weightAutomationAsk
	}

	engagement := float64(post.Score+post.NumComments) / 100
	score *= math.Min(2.0, math.Max(0.5, engagement)) * weightEngagement

	return scanner.ScoredPost{
		Post:              post,
		BusinessScore:     math.Round(score*100) / 100,
		Urgency:           urgency,
		ProblemIndicators: matched,
	}
}

func urgencyLevel(text string) string {
	switch {
	case highUrgencyRe.MatchString(text), highValueRe.MatchString(text):
		return UrgencyHigh
	case medUrgencyRe.MatchString(text):
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}
