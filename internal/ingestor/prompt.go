package ingestor

import (
	"fmt"
	"strings"
	"time"
)

const instructionsBlock = `<instructions>
Produce two JSON lists: task_updates and system_actions.
- Include a task_update only if the current frame contradicts or extends that
  task's latest note; emit an empty task_updates list when nothing changed.
- A transition to zero (e.g. a counted quantity returning to zero) and a
  transition away from zero are always reportable.
- Set task_done = true on a task_update to close that task.
- Populate system_actions only when a task explicitly requires an action and
  its trigger condition is satisfied in this frame.
</instructions>`

// buildPrompt assembles the structured per-task block plus the fixed
// instructions body. Returns the prompt and whether it exceeds the
// soft warning threshold.
func buildPrompt(tasks []*TaskHandle) (string, bool) {
	var b strings.Builder
	for _, h := range tasks {
		snap := h.Snapshot()
		b.WriteString(fmt.Sprintf("<task number=%d>\n", snap.TaskNumber))
		b.WriteString("  desc: " + snap.TaskDesc + "\n")
		if len(snap.Notes) > 0 {
			latest := snap.Notes[len(snap.Notes)-1]
			ts := time.Unix(latest.Timestamp, 0).Format(time.RFC3339)
			b.WriteString(fmt.Sprintf("  latest_note: %q @ %s\n", latest.Content, ts))
		} else {
			b.WriteString("  latest_note: (none)\n")
		}
		b.WriteString("</task>\n")
	}
	b.WriteString(instructionsBlock)

	prompt := b.String()
	return prompt, len(prompt) > promptWarnChars
}
