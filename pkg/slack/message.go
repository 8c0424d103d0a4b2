package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

// TaskMarker is the stable text embedded in every notification for a
// task, used to locate its thread in channel history.
func TaskMarker(taskID string) string {
	return fmt.Sprintf("[task %s]", taskID)
}

func taskURL(taskID, dashboardURL string) string {
	return fmt.Sprintf("%s/tasks/%s", dashboardURL, taskID)
}

// BuildStartedMessage creates Block Kit blocks for a task start notification.
func BuildStartedMessage(taskID, title, transition, dashboardURL string) []goslack.Block {
	text := fmt.Sprintf(":hammer_and_wrench: *Task started* %s\n%s",
		TaskMarker(taskID), truncateForSlack(title))
	if transition != "" {
		text += fmt.Sprintf("\n_%s_", transition)
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
	return appendDashboardButton(blocks, taskID, dashboardURL, "View Task")
}

// BuildCompletedMessage creates Block Kit blocks for a task done notification.
func BuildCompletedMessage(taskID, title, dashboardURL string) []goslack.Block {
	text := fmt.Sprintf(":white_check_mark: *Task completed* %s\n%s",
		TaskMarker(taskID), truncateForSlack(title))

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
	return appendDashboardButton(blocks, taskID, dashboardURL, "View Task")
}

// BuildFailedMessage creates Block Kit blocks for a task failure notification.
func BuildFailedMessage(taskID, title, reason, dashboardURL string) []goslack.Block {
	text := fmt.Sprintf(":x: *Task failed* %s\n%s",
		TaskMarker(taskID), truncateForSlack(title))
	if reason != "" {
		text += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(reason))
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
	return appendDashboardButton(blocks, taskID, dashboardURL, "View Details")
}

func appendDashboardButton(blocks []goslack.Block, taskID, dashboardURL, label string) []goslack.Block {
	if dashboardURL == "" {
		return blocks
	}
	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, label, false, false))
	btn.URL = taskURL(taskID, dashboardURL)
	return append(blocks, goslack.NewActionBlock("", btn))
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
