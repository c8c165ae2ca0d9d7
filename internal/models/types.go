package models

import (
	"fmt"
	"reflect"
	"time"
)

// Platform identifies where a piece of content was published.
type Platform string

const (
	PlatformYouTube  Platform = "youtube"
	PlatformBilibili Platform = "bilibili"
	PlatformReddit   Platform = "reddit"
	PlatformWeb      Platform = "web"
)

// Other reports whether the platform is outside the two balanced video platforms.
func (p Platform) Other() bool {
	return p != PlatformYouTube && p != PlatformBilibili
}

// Opposite returns the peer video platform, or empty for anything else.
func (p Platform) Opposite() Platform {
	switch p {
	case PlatformYouTube:
		return PlatformBilibili
	case PlatformBilibili:
		return PlatformYouTube
	default:
		return ""
	}
}

// Engine tags which discovery strategy produced a task or item.
type Engine string

const (
	// EngineMonitor follows known authors and watches their output.
	EngineMonitor Engine = "engine1"
	// EngineHunter runs broad keyword searches across a platform.
	EngineHunter Engine = "engine2"
)

// TaskKind classifies schedulable work.
type TaskKind string

const (
	TaskDiscovery     TaskKind = "discovery"
	TaskContentSearch TaskKind = "content_search"
	TaskAuthorChase   TaskKind = "influencer_search"
	TaskQualityRetry  TaskKind = "quality_retry"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// SuggestedAction is the fixed action vocabulary of a quality verdict.
type SuggestedAction string

const (
	ActionContinue       SuggestedAction = "continue"
	ActionRetry          SuggestedAction = "retry"
	ActionAdjustParams   SuggestedAction = "adjust_params"
	ActionChangeStrategy SuggestedAction = "change_strategy"
	ActionSkip           SuggestedAction = "skip"
)

// Valid reports whether the action is one of the fixed vocabulary values.
func (a SuggestedAction) Valid() bool {
	switch a {
	case ActionContinue, ActionRetry, ActionAdjustParams, ActionChangeStrategy, ActionSkip:
		return true
	}
	return false
}

// Annotation keys used on CollectedItem.
const (
	AnnotEngine         = "engine"
	AnnotSourceChain    = "source_chain"
	AnnotNormalizedView = "normalized_view"
	AnnotEngagementRate = "engagement_rate"
	AnnotDetectionType  = "detection_type"
	AnnotAnalysisNote   = "analysis_note"
	AnnotFromAuthorTask = "from_influencer_search"
	AnnotSourceAuthor   = "source_influencer"
	AnnotTopicHint      = "topic_hint"
)

// CollectedItem is one discovered content record. The URL is the dedup key;
// the filter assigns Score and never mutates an item after filtering.
type CollectedItem struct {
	Platform       Platform       `json:"platform"`
	SourceType     string         `json:"source_type"`
	Title          string         `json:"title"`
	URL            string         `json:"url"`
	AuthorName     string         `json:"author_name"`
	AuthorID       string         `json:"author_id"`
	AuthorFans     int64          `json:"author_fans"`
	AuthorAvgViews int64          `json:"author_avg_views"`
	PublishTime    string         `json:"publish_time"`
	ViewCount      int64          `json:"view_count"`
	Interaction    int64          `json:"interaction"`
	Score          float64        `json:"score"`
	Annotations    map[string]any `json:"annotations,omitempty"`
}

// Annotate sets one annotation, allocating the bag on first use.
func (c *CollectedItem) Annotate(key string, value any) {
	if c.Annotations == nil {
		c.Annotations = make(map[string]any)
	}
	c.Annotations[key] = value
}

// CloneAnnotations replaces the annotation bag with its own copy, so later
// Annotate calls cannot leak into other holders of the original map.
func (c *CollectedItem) CloneAnnotations() {
	if c.Annotations == nil {
		return
	}
	cloned := make(map[string]any, len(c.Annotations))
	for k, v := range c.Annotations {
		cloned[k] = v
	}
	c.Annotations = cloned
}

// Annotation returns an annotation value, or nil when absent.
func (c *CollectedItem) Annotation(key string) any {
	if c.Annotations == nil {
		return nil
	}
	return c.Annotations[key]
}

// AnnotationFloat returns a numeric annotation, tolerating the types JSON
// decoding produces.
func (c *CollectedItem) AnnotationFloat(key string) float64 {
	switch v := c.Annotation(key).(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Engine returns the engine annotation, if any.
func (c *CollectedItem) Engine() Engine {
	if v, ok := c.Annotation(AnnotEngine).(string); ok {
		return Engine(v)
	}
	if v, ok := c.Annotation(AnnotEngine).(Engine); ok {
		return v
	}
	return ""
}

// SourceChain returns the provenance chain annotation as a string slice.
func (c *CollectedItem) SourceChain() []string {
	switch v := c.Annotation(AnnotSourceChain).(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

// FromAuthorTask reports whether the item came from a chase-the-lead search.
func (c *CollectedItem) FromAuthorTask() bool {
	v, ok := c.Annotation(AnnotFromAuthorTask).(bool)
	return ok && v
}

// Task is one schedulable unit of work.
type Task struct {
	ID        string         `json:"task_id"`
	Kind      TaskKind       `json:"task_type"`
	Priority  int            `json:"priority"`
	Engine    Engine         `json:"engine"`
	Platform  Platform       `json:"platform"`
	Tool      string         `json:"tool_name"`
	Args      map[string]any `json:"arguments"`
	Status    TaskStatus     `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	Reason    string         `json:"reasoning"`
}

// SameInvocation reports whether two tasks would call the same tool with
// identical arguments. Used by the queue dedup rule.
func (t *Task) SameInvocation(other *Task) bool {
	return t.Tool == other.Tool && reflect.DeepEqual(t.Args, other.Args)
}

// Signature keys retry-guard state per (tool, argument) combination.
func (t *Task) Signature() string {
	return InvocationSignature(t.Tool, t.Args)
}

// InvocationSignature builds a stable key for a tool call. fmt renders maps
// in sorted key order, so equal argument bags produce equal signatures.
func InvocationSignature(tool string, args map[string]any) string {
	return fmt.Sprintf("%s:%v", tool, args)
}

// QualityVerdict is the quality gate's judgment on one tool execution.
// AdjustmentPlan is only meaningful when Action is retry or adjust_params.
type QualityVerdict struct {
	Passed         bool            `json:"passed"`
	Confidence     float64         `json:"confidence"`
	Score          float64         `json:"score"`
	Issues         []string        `json:"issues"`
	RootCause      string          `json:"root_cause,omitempty"`
	Action         SuggestedAction `json:"suggested_action"`
	AdjustmentPlan map[string]any  `json:"adjustment_plan,omitempty"`
	Reasoning      string          `json:"reasoning"`

	// Execution context, filled by the executor when the verdict is recorded.
	Tool      string         `json:"tool_name,omitempty"`
	Args      map[string]any `json:"tool_args,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// TopicQueries is the structured per-topic query plan the scheduler
// materializes the initial task set from.
type TopicQueries struct {
	Topic            string `json:"topic"`
	DiscoveryQueryEN string `json:"discovery_query_en"`
	DiscoveryQueryZH string `json:"discovery_query_zh"`
	ContentQueryEN   string `json:"content_query_en"`
	ContentQueryZH   string `json:"content_query_zh"`
}

// Influencer is an author discovered from upstream lead extraction,
// candidate for a chase-the-lead task.
type Influencer struct {
	Name         string   `json:"name"`
	Platform     Platform `json:"platform"`
	Identifier   string   `json:"identifier"`
	MentionCount int      `json:"mention_count"`
	SourceURL    string   `json:"source_url,omitempty"`
	Confidence   string   `json:"confidence"` // high | medium | low
}

// ConfidenceRank orders influencers for chase-the-lead scheduling.
func (i *Influencer) ConfidenceRank() int {
	switch i.Confidence {
	case "high":
		return 3
	case "medium":
		return 2
	default:
		return 1
	}
}

// Lead is a lightweight clue harvested from generic web search.
type Lead struct {
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	Source    string   `json:"source"`
	Snippet   string   `json:"snippet,omitempty"`
	TopicHint string   `json:"topic_hint"`
	Tags      []string `json:"tags,omitempty"`
}

// ItemRef is the lightweight handle kept in memory after a candidate has
// been externalized to the blob store.
type ItemRef struct {
	RefID     string   `json:"ref_id"`
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	Platform  Platform `json:"platform"`
	ViewCount int64    `json:"view_count"`
}
