package slack

import (
	"strings"
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sectionText(t *testing.T, block goslack.Block) string {
	t.Helper()
	section, ok := block.(*goslack.SectionBlock)
	require.True(t, ok)
	return section.Text.Text
}

func TestBuildStartedMessage(t *testing.T) {
	blocks := BuildStartedMessage("task-42", "add login", "begin-implementation", "https://dash.example.com")
	require.Len(t, blocks, 2)

	text := sectionText(t, blocks[0])
	assert.Contains(t, text, "Task started")
	assert.Contains(t, text, "[task task-42]")
	assert.Contains(t, text, "add login")
	assert.Contains(t, text, "begin-implementation")

	actions, ok := blocks[1].(*goslack.ActionBlock)
	require.True(t, ok)
	btn, ok := actions.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	require.True(t, ok)
	assert.Equal(t, "https://dash.example.com/tasks/task-42", btn.URL)
}

func TestBuildFailedMessage(t *testing.T) {
	blocks := BuildFailedMessage("task-7", "fix cart", "typecheck exploded", "")
	require.Len(t, blocks, 1)

	text := sectionText(t, blocks[0])
	assert.Contains(t, text, "Task failed")
	assert.Contains(t, text, "*Error:*")
	assert.Contains(t, text, "typecheck exploded")
}

func TestBuildCompletedMessageWithoutDashboard(t *testing.T) {
	blocks := BuildCompletedMessage("task-9", "ship it", "")
	require.Len(t, blocks, 1)
	assert.Contains(t, sectionText(t, blocks[0]), "Task completed")
}

func TestTruncateForSlack(t *testing.T) {
	long := strings.Repeat("x", maxBlockTextLength+100)
	out := truncateForSlack(long)
	assert.LessOrEqual(t, len(out), maxBlockTextLength+50)
	assert.Contains(t, out, "truncated")
	assert.Equal(t, "short", truncateForSlack("short"))
}
