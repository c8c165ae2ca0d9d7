package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0o644))
}

const bilibiliSkill = `---
name: bilibili-search
description: Effective bilibili keyword strategies
triggers: [bilibili, b站]
priority: 10
---
Use Chinese functional phrases like 保姆级教程 for tutorial content.
`

const youtubeSkill = `---
name: youtube-search
description: YouTube search tips
triggers: [youtube]
priority: 5
---
Prefer concise English noun phrases.
`

func TestLoadAndMatch(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "bilibili-search", bilibiliSkill)
	writeSkill(t, dir, "youtube-search", youtubeSkill)

	r := Load(dir, zaptest.NewLogger(t))
	require.Len(t, r.All(), 2)
	assert.Equal(t, "bilibili-search", r.All()[0].Name, "highest priority first")

	matched := r.Match("searching bilibili for manus demos")
	require.Len(t, matched, 1)
	assert.Equal(t, "bilibili-search", matched[0].Name)

	assert.Empty(t, r.Match("reddit roundup"))
}

func TestGetContext(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "bilibili-search", bilibiliSkill)
	writeSkill(t, dir, "youtube-search", youtubeSkill)

	r := Load(dir, zaptest.NewLogger(t))

	ctx := r.GetContext("cover both youtube and bilibili", 2)
	assert.Contains(t, ctx, "## bilibili-search")
	assert.Contains(t, ctx, "保姆级教程")
	assert.Contains(t, ctx, "## youtube-search")

	capped := r.GetContext("cover both youtube and bilibili", 1)
	assert.Contains(t, capped, "bilibili-search")
	assert.NotContains(t, capped, "youtube-search")

	assert.Empty(t, r.GetContext("nothing relevant", 3))
}

func TestLoadTrimsByteOrderMark(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "youtube-search", "\ufeff"+youtubeSkill)

	r := Load(dir, zaptest.NewLogger(t))
	require.Len(t, r.All(), 1)
	assert.Equal(t, "youtube-search", r.All()[0].Name)
}

func TestLoadMissingDirectory(t *testing.T) {
	r := Load(filepath.Join(t.TempDir(), "absent"), zaptest.NewLogger(t))
	assert.Empty(t, r.All())
}

func TestLoadSkipsMalformedSkill(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "broken", "no frontmatter here")
	writeSkill(t, dir, "youtube-search", youtubeSkill)

	r := Load(dir, zaptest.NewLogger(t))
	require.Len(t, r.All(), 1)
	assert.Equal(t, "youtube-search", r.All()[0].Name)
}

func TestSkillNameDefaultsToDirectory(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "unnamed", "---\ntriggers: [x]\npriority: 1\n---\nbody\n")

	r := Load(dir, zaptest.NewLogger(t))
	require.Len(t, r.All(), 1)
	assert.Equal(t, "unnamed", r.All()[0].Name)
}
