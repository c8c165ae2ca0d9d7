package executor

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/trendradar/orchestrator/internal/models"
)

// Channel and author URL shapes recognized in discovery output.
var (
	youtubeHandleRe  = regexp.MustCompile(`youtube\.com/@([A-Za-z0-9_.-]+)`)
	youtubeChannelRe = regexp.MustCompile(`youtube\.com/channel/(UC[A-Za-z0-9_-]{10,})`)
	youtubeCustomRe  = regexp.MustCompile(`youtube\.com/c/([A-Za-z0-9_.-]+)`)
	bilibiliSpaceRe  = regexp.MustCompile(`space\.bilibili\.com/(\d+)`)
	hashtagRe        = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)
)

// harvestDiscovery mines web search output for leads and author sources
// instead of treating it as content. Discovery rows rarely carry view
// counts, so they never become candidates directly.
func (e *Executor) harvestDiscovery(task *models.Task, args map[string]any, records []models.Record) {
	query, _ := args["query"].(string)

	leads := make([]models.Lead, 0, len(records))
	var authors []models.Influencer
	for i := range records {
		r := &records[i]
		if r.Title == "" && r.URL == "" {
			continue
		}
		leads = append(leads, models.Lead{
			Title:     r.Title,
			URL:       r.URL,
			Source:    domainOf(r.URL),
			Snippet:   r.Snippet,
			TopicHint: query,
			Tags:      extractTags(r.Title + " " + r.Snippet),
		})
		authors = append(authors, extractAuthors(r)...)
	}

	e.session.AddLeads(leads)
	e.session.AddInfluencers(authors)

	for _, a := range authors {
		if a.Confidence == "high" {
			e.session.AddPendingMonitor(a)
		}
	}

	if len(leads) > 0 {
		e.note(fmt.Sprintf("discovery %q: %d leads, %d author sources", query, len(leads), len(authors)))
	}
	e.logger.Debug("Discovery output harvested",
		zap.String("query", query),
		zap.Int("leads", len(leads)),
		zap.Int("authors", len(authors)),
	)
}

// extractAuthors pulls channel references out of a discovery row. A channel
// in the result URL itself is a strong signal; one merely mentioned in the
// snippet is weaker.
func extractAuthors(r *models.Record) []models.Influencer {
	var out []models.Influencer
	collect := func(text, confidence string) {
		for _, m := range youtubeChannelRe.FindAllStringSubmatch(text, -1) {
			out = append(out, models.Influencer{
				Name: m[1], Platform: models.PlatformYouTube, Identifier: m[1],
				MentionCount: 1, SourceURL: r.URL, Confidence: confidence,
			})
		}
		for _, m := range youtubeHandleRe.FindAllStringSubmatch(text, -1) {
			out = append(out, models.Influencer{
				Name: m[1], Platform: models.PlatformYouTube, Identifier: "@" + m[1],
				MentionCount: 1, SourceURL: r.URL, Confidence: confidence,
			})
		}
		for _, m := range youtubeCustomRe.FindAllStringSubmatch(text, -1) {
			out = append(out, models.Influencer{
				Name: m[1], Platform: models.PlatformYouTube, Identifier: m[1],
				MentionCount: 1, SourceURL: r.URL, Confidence: confidence,
			})
		}
		for _, m := range bilibiliSpaceRe.FindAllStringSubmatch(text, -1) {
			out = append(out, models.Influencer{
				Name: m[1], Platform: models.PlatformBilibili, Identifier: m[1],
				MentionCount: 1, SourceURL: r.URL, Confidence: confidence,
			})
		}
	}
	collect(r.URL, "high")
	collect(r.Snippet, "medium")

	if r.AuthorName != "" {
		out = append(out, models.Influencer{
			Name: r.AuthorName, Platform: platformOrWeb(r.Platform), Identifier: r.AuthorID,
			MentionCount: 1, SourceURL: r.URL, Confidence: "low",
		})
	}
	return out
}

func platformOrWeb(p models.Platform) models.Platform {
	if p == "" {
		return models.PlatformWeb
	}
	return p
}

// extractTags collects hashtags from lead text, capped, lowered, deduped.
func extractTags(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, m := range hashtagRe.FindAllStringSubmatch(text, -1) {
		tag := strings.ToLower(m[1])
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
		if len(out) == 5 {
			break
		}
	}
	return out
}

func domainOf(url string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	trimmed = strings.TrimPrefix(trimmed, "www.")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}
