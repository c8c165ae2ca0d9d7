package relevance

import (
	"fmt"
	"unicode"

	"github.com/trendradar/orchestrator/internal/models"
)

// Layer tags for degraded queries.
const (
	LayerOriginal   = "original"
	LayerPrecise    = "layer1_precise"
	LayerFunctional = "layer2_functional"
	LayerGeneric    = "layer3_generic"
)

// Layers holds the degraded query variants for one original query:
// precise (exact entity), functional (entity + action phrase), generic
// (domain phrase).
type Layers struct {
	Precise    []string
	Functional []string
	Generic    []string
}

// Terms stripped before picking a functional main entity: they describe
// content form, not subject.
var descriptorWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"教程", "指南", "评测", "解析", "动态", "制作", "深度", "保姆级", "最新",
		"tutorial", "guide", "review", "analysis", "making", "latest",
	} {
		descriptorWords[w] = struct{}{}
	}
}

// Domain phrase lookup for layer-3 generalization.
var domainPhrases = map[string]string{
	"ai":      "AI automation tools",
	"manus":   "AI agent platforms",
	"chatgpt": "AI chatbot tools",
	"python":  "programming tutorials",
	"react":   "web development frameworks",
	"人工智能":    "AI工具",
	"ai工具":    "AI自动化",
	"编程":      "编程教程",
	"前端":      "Web开发",
}

// IsChinese reports whether the text is predominantly CJK (>30% of runes).
func IsChinese(text string) bool {
	if text == "" {
		return false
	}
	total, cjk := 0, 0
	for _, r := range text {
		total++
		if unicode.Is(unicode.Han, r) {
			cjk++
		}
	}
	return float64(cjk) > float64(total)*0.3
}

// IsEnglish reports whether the text is predominantly ASCII (>70%).
func IsEnglish(text string) bool {
	if text == "" {
		return false
	}
	ascii := 0
	for _, r := range text {
		if r < 128 {
			ascii++
		}
	}
	return float64(ascii)/float64(len([]rune(text))) > 0.7
}

// GenerateFallbackLayers builds the degraded query variants used by the
// retry chain when the original query drifts.
func GenerateFallbackLayers(original string, platform models.Platform) Layers {
	entities := CoreEntities(original, 2)
	if len(entities) == 0 {
		return Layers{Precise: []string{original}}
	}

	chinese := IsChinese(original)
	proper := ProperNouns(original)

	var layers Layers
	if len(proper) > 0 {
		layers.Precise = []string{proper[0], fmt.Sprintf("%q", proper[0])}
	} else {
		layers.Precise = []string{entities[0]}
	}

	layers.Functional = functionalQueries(mainEntity(entities, proper), platform, chinese)
	layers.Generic = genericQueries(entities, chinese)
	return layers
}

// mainEntity prefers a proper noun, else the first entity that is not a
// content descriptor.
func mainEntity(entities, proper []string) string {
	if len(proper) > 0 {
		return proper[0]
	}
	for _, e := range entities {
		if _, desc := descriptorWords[e]; !desc {
			return e
		}
	}
	return "AI"
}

func functionalQueries(entity string, platform models.Platform, chinese bool) []string {
	var out []string
	switch platform {
	case models.PlatformBilibili:
		if chinese {
			out = []string{
				entity + " 保姆级教程",
				entity + " 使用教程",
				entity + " 深度评测",
				entity + " 实操演示",
			}
		} else {
			out = []string{
				entity + " 教程",
				entity + " 使用指南",
				entity + " 评测",
			}
		}
	default:
		if chinese {
			out = []string{
				entity + " 教程",
				entity + " 使用指南",
				entity + " 评测",
			}
		} else {
			out = []string{
				entity + " tutorial",
				entity + " guide",
				entity + " review",
				"how to use " + entity,
			}
		}
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

func genericQueries(entities []string, chinese bool) []string {
	for _, e := range entities {
		if phrase, ok := domainPhrases[e]; ok {
			if chinese {
				return []string{phrase + " 最新"}
			}
			return []string{phrase}
		}
	}

	// No mapping matched: guess the domain from the entities.
	has := func(words ...string) bool {
		for _, w := range words {
			for _, e := range entities {
				if e == w {
					return true
				}
			}
		}
		return false
	}
	if chinese {
		switch {
		case has("ai", "智能", "agent"):
			return []string{"AI工具推荐 最新"}
		case has("编程", "python", "code"):
			return []string{"编程教程 最新"}
		default:
			return []string{entities[0] + " 相关内容"}
		}
	}
	switch {
	case has("ai", "artificial", "intelligence"):
		return []string{"AI tools"}
	case has("code", "programming", "python"):
		return []string{"programming tutorials"}
	default:
		return []string{entities[0] + " related"}
	}
}

// FallbackSuggestions renders the three-tier degradation as human-readable
// advice attached to an invalid verdict.
func FallbackSuggestions(query string, entities, matched []string) []string {
	var out []string

	if len(entities) > 0 {
		if proper := ProperNouns(query); len(proper) > 0 {
			out = append(out, fmt.Sprintf("try exact match: %q", proper[0]))
		} else {
			out = append(out, fmt.Sprintf("simplify to core term: %q", entities[0]))
		}
	}

	chinese := IsChinese(query)
	suffix := "tutorial"
	if chinese {
		suffix = "教程"
	}
	if len(matched) > 0 {
		out = append(out, fmt.Sprintf("add functional term: %q", matched[0]+" "+suffix))
	} else if len(entities) > 0 {
		out = append(out, fmt.Sprintf("add functional term: %q", entities[0]+" "+suffix))
	}

	for _, e := range entities {
		if phrase, ok := domainPhrases[e]; ok {
			out = append(out, fmt.Sprintf("generalize to domain: %q", phrase))
			break
		}
	}

	if len(out) == 0 {
		out = append(out,
			"check the spelling",
			"the topic may be too new or niche for platform search",
		)
	}
	return out
}
