// Package relevance checks whether search results actually match the query
// that produced them, and generates degraded fallback queries when they
// do not. Search engines silently generalize niche queries; this is the
// deterministic defense against that drift.
package relevance

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/trendradar/orchestrator/internal/metrics"
	"github.com/trendradar/orchestrator/internal/models"
)

// Verdict is the outcome of validating one result set.
type Verdict struct {
	IsValid      bool
	Score        float64 // matched results / considered results
	MatchedCount int
	TotalChecked int
	CoreEntities []string
	MatchedTerms []string
	Issues       []string
	Suggestions  []string
}

// Config tunes the validator.
type Config struct {
	Threshold      float64 // minimum score to pass
	TopK           int     // results considered per validation
	FuzzySimilar   float64 // token similarity that counts as a match
	MinTokenLength int     // shorter tokens are never core entities
}

// DefaultConfig returns the standard validator tuning.
func DefaultConfig() Config {
	return Config{
		Threshold:      0.30,
		TopK:           10,
		FuzzySimilar:   0.85,
		MinTokenLength: 2,
	}
}

// Validator scores result relevance against query core entities.
type Validator struct {
	cfg    Config
	logger *zap.Logger
}

// NewValidator creates a validator.
func NewValidator(cfg Config, logger *zap.Logger) *Validator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	if cfg.FuzzySimilar <= 0 {
		cfg.FuzzySimilar = DefaultConfig().FuzzySimilar
	}
	if cfg.MinTokenLength <= 0 {
		cfg.MinTokenLength = DefaultConfig().MinTokenLength
	}
	return &Validator{cfg: cfg, logger: logger}
}

// Validate scores how many of the top-K result titles contain (exactly or
// fuzzily) any core entity of the query. Zero results is always invalid.
func (v *Validator) Validate(query string, results []models.Record) Verdict {
	if len(results) == 0 {
		return Verdict{
			IsValid: false,
			Issues:  []string{"search returned zero results"},
			Suggestions: []string{
				"broaden the search or adjust the keyword",
			},
		}
	}

	entities := CoreEntities(query, v.cfg.MinTokenLength)
	considered := results
	if len(considered) > v.cfg.TopK {
		considered = considered[:v.cfg.TopK]
	}

	matched := 0
	matchedTerms := make(map[string]struct{})
	for i := range considered {
		title := strings.ToLower(considered[i].Title)
		if title == "" {
			continue
		}
		if term, ok := v.titleMatches(title, entities); ok {
			matched++
			matchedTerms[term] = struct{}{}
		}
	}

	score := 0.0
	if len(considered) > 0 {
		score = float64(matched) / float64(len(considered))
	}
	metrics.RelevanceScore.Observe(score)

	verdict := Verdict{
		IsValid:      score >= v.cfg.Threshold,
		Score:        score,
		MatchedCount: matched,
		TotalChecked: len(considered),
		CoreEntities: entities,
		MatchedTerms: keys(matchedTerms),
	}

	if !verdict.IsValid {
		verdict.Issues = []string{
			fmt.Sprintf("only %d/%d results contain core terms %v", matched, len(considered), entities),
			fmt.Sprintf("relevance %.0f%% below threshold %.0f%%", score*100, v.cfg.Threshold*100),
		}
		verdict.Suggestions = FallbackSuggestions(query, entities, verdict.MatchedTerms)
		v.logger.Debug("Relevance validation failed",
			zap.String("query", query),
			zap.Float64("score", score),
			zap.Strings("entities", entities),
		)
	}
	return verdict
}

func (v *Validator) titleMatches(title string, entities []string) (string, bool) {
	titleTokens := tokenize(title)
	for _, entity := range entities {
		if strings.Contains(title, entity) {
			return entity, true
		}
		for _, token := range titleTokens {
			if similarity(entity, token) >= v.cfg.FuzzySimilar {
				return entity, true
			}
		}
	}
	return "", false
}

// Bilingual stop words: question words, articles, connectives in the two
// supported query languages.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"为什么", "怎么", "如何", "什么", "哪个", "哪些", "的", "了", "是", "在", "有", "和", "与", "或", "吗",
		"why", "how", "what", "when", "where", "who", "which", "the", "a", "an", "is", "are", "was", "were",
		"be", "been", "do", "does", "did", "can", "could", "will", "would", "should",
		"to", "of", "in", "on", "at", "for", "and", "or", "with", "this", "that", "it", "use", "using",
	} {
		stopwords[w] = struct{}{}
	}
}

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(text, -1)
}

// CoreEntities extracts the query terms worth matching against: lowered
// tokens minus stop words and too-short fragments.
func CoreEntities(query string, minLen int) []string {
	var out []string
	for _, token := range tokenize(strings.ToLower(query)) {
		if _, isStop := stopwords[token]; isStop {
			continue
		}
		if len([]rune(token)) < minLen {
			continue
		}
		out = append(out, token)
	}
	return out
}

// ProperNouns returns tokens that look like brand or product names:
// capitalized or mixed-case.
func ProperNouns(query string) []string {
	var out []string
	for _, token := range tokenize(query) {
		runes := []rune(token)
		if unicode.IsUpper(runes[0]) {
			out = append(out, token)
			continue
		}
		for _, r := range runes[1:] {
			if unicode.IsUpper(r) {
				out = append(out, token)
				break
			}
		}
	}
	return out
}

// similarity is a sequence-similarity ratio in [0,1]:
// 2*matches/(len(a)+len(b)) over the longest common subsequence.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	lcs := prev[len(rb)]
	return 2 * float64(lcs) / float64(len(ra)+len(rb))
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
