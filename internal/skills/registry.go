// Package skills loads operator-authored playbooks from a skills directory.
// Each skill is a SKILL.md with YAML frontmatter (name, description, trigger
// keywords, priority) followed by a markdown body; matching skill bodies are
// injected into planner prompts as extra context.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const skillFile = "SKILL.md"

// Skill is one loaded playbook.
type Skill struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Triggers    []string `yaml:"triggers"`
	Priority    int      `yaml:"priority"`
	Body        string   `yaml:"-"`
}

// Registry holds the loaded skills.
type Registry struct {
	skills []Skill
	logger *zap.Logger
}

// Load scans dir for <skill>/SKILL.md files. A missing directory yields an
// empty registry; a malformed skill is skipped with a warning.
func Load(dir string, logger *zap.Logger) *Registry {
	r := &Registry{logger: logger}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Skills directory unreadable", zap.String("dir", dir), zap.Error(err))
		}
		return r
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), skillFile)
		skill, err := parseSkillFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("Skill skipped", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		if skill.Name == "" {
			skill.Name = entry.Name()
		}
		r.skills = append(r.skills, skill)
	}

	sort.SliceStable(r.skills, func(i, j int) bool {
		return r.skills[i].Priority > r.skills[j].Priority
	})
	logger.Info("Skills loaded", zap.String("dir", dir), zap.Int("count", len(r.skills)))
	return r
}

func parseSkillFile(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}
	front, body, err := splitFrontmatter(string(data))
	if err != nil {
		return Skill{}, err
	}
	var skill Skill
	if err := yaml.Unmarshal([]byte(front), &skill); err != nil {
		return Skill{}, fmt.Errorf("parse skill frontmatter: %w", err)
	}
	skill.Body = strings.TrimSpace(body)
	return skill, nil
}

// splitFrontmatter separates the leading "---" YAML block from the markdown
// body.
func splitFrontmatter(text string) (front, body string, err error) {
	trimmed := strings.TrimLeft(text, "\ufeff\n\r ")
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", fmt.Errorf("missing frontmatter delimiter")
	}
	rest := trimmed[3:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return "", "", fmt.Errorf("unterminated frontmatter")
	}
	front = rest[:idx]
	body = rest[idx+len("\n---"):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	return front, body, nil
}

// All returns the loaded skills, highest priority first.
func (r *Registry) All() []Skill {
	out := make([]Skill, len(r.skills))
	copy(out, r.skills)
	return out
}

// Match returns the skills whose trigger keywords appear in the hint,
// highest priority first.
func (r *Registry) Match(hint string) []Skill {
	lowered := strings.ToLower(hint)
	var out []Skill
	for _, s := range r.skills {
		for _, trigger := range s.Triggers {
			if trigger != "" && strings.Contains(lowered, strings.ToLower(trigger)) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// GetContext renders up to maxSnippets matching skill bodies as one prompt
// fragment. Empty when nothing matches.
func (r *Registry) GetContext(hint string, maxSnippets int) string {
	matched := r.Match(hint)
	if len(matched) == 0 || maxSnippets <= 0 {
		return ""
	}
	if len(matched) > maxSnippets {
		matched = matched[:maxSnippets]
	}
	var b strings.Builder
	for i, s := range matched {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n%s", s.Name, s.Body)
	}
	return b.String()
}
