package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Record is the normalized shape every scrape/search adapter returns. The
// core assumes nothing about the provider wire format beyond this.
type Record struct {
	Platform       Platform       `json:"platform"`
	SourceType     string         `json:"source_type,omitempty"`
	Title          string         `json:"title"`
	URL            string         `json:"url"`
	AuthorName     string         `json:"author_name,omitempty"`
	AuthorID       string         `json:"author_id,omitempty"`
	AuthorFans     int64          `json:"author_fans,omitempty"`
	AuthorAvgViews int64          `json:"author_avg_views,omitempty"`
	PublishTime    string         `json:"publish_time,omitempty"`
	ViewCount      int64          `json:"view_count,omitempty"`
	Interaction    int64          `json:"interaction,omitempty"`
	Snippet        string         `json:"snippet,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// ErrInvalidRecord marks malformed tool output; ingestion skips such
// records individually instead of aborting the batch.
var ErrInvalidRecord = errors.New("invalid record")

// Validate checks the minimum shape required for ingestion.
func (r *Record) Validate() error {
	if r.Title == "" && r.URL == "" {
		return fmt.Errorf("%w: missing both title and url", ErrInvalidRecord)
	}
	if r.ViewCount < 0 || r.Interaction < 0 {
		return fmt.Errorf("%w: negative counts", ErrInvalidRecord)
	}
	return nil
}

// ItemFromRecord converts a validated record into a candidate item,
// carrying the record's extra fields into the annotation bag.
func ItemFromRecord(r Record) (CollectedItem, error) {
	if err := r.Validate(); err != nil {
		return CollectedItem{}, err
	}
	item := CollectedItem{
		Platform:       r.Platform,
		SourceType:     r.SourceType,
		Title:          r.Title,
		URL:            r.URL,
		AuthorName:     r.AuthorName,
		AuthorID:       r.AuthorID,
		AuthorFans:     r.AuthorFans,
		AuthorAvgViews: r.AuthorAvgViews,
		PublishTime:    r.PublishTime,
		ViewCount:      r.ViewCount,
		Interaction:    r.Interaction,
	}
	for k, v := range r.Extra {
		item.Annotate(k, v)
	}
	return item, nil
}

// EncodeItem serializes a candidate for the blob-store boundary.
func EncodeItem(item *CollectedItem) ([]byte, error) {
	return json.MarshalIndent(item, "", "  ")
}

// DecodeItem is the inverse of EncodeItem.
func DecodeItem(data []byte) (*CollectedItem, error) {
	var item CollectedItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	return &item, nil
}
