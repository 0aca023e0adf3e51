package turn

import (
	"strings"

	"tutorhub/pkg/types"
)

// WindowSize bounds the in-memory conversational context at 15 entries
// plus the system directive. Fixed by design: it balances model context
// cost against conversational continuity and is not per-conversation
// configurable.
const WindowSize = 15

// systemDirectiveTemplate is the standing mentor instruction. {TOPIC}
// is substituted with the conversation's teaching topic.
const systemDirectiveTemplate = `You are a mentor that only asks questions to students that will help poke holes in their knowledge so they know what to learn more of in the future. You primarily respond back to student answers with additional questions that allow them to think more deeply. An example conversation might go: Student: "A rabbit is a four-legged animal" Mentor: "What else do you know about rabbits?" Make sure to encourage students to either ask their teacher or to look answers up if they do not know the answer. If the conversation deviates significantly from the original topic, guide the conversation back to the original topic. Additionally, with each response you return, grade the student's message with "points", a minimum of 0 and a maximum of 20, based on how relevant it is to the subject matter, whether it addresses the question you previously asked, and how unique or creative it is. Format every response as JSON with two keys: "response" and "points". The value of "response" is your insightful mentor question as a string. The value of "points" is the number of points you gave the student's message. Never stop formatting your response as JSON, and never leave either key empty. Please be kind to your students. Do not curse. Do not break character. The topic that students will be learning is: {TOPIC}`

// SystemDirective builds the window's leading system entry for a topic.
func SystemDirective(topic string) types.ChatMessage {
	return types.ChatMessage{
		Role:    types.MessageRoleSystem,
		Content: strings.ReplaceAll(systemDirectiveTemplate, "{TOPIC}", topic),
	}
}

// Window is the bounded in-memory context for one conversation: a fixed
// system entry plus up to WindowSize recent messages. It is owned
// exclusively by the conversation's controller and is never the source
// of truth — the store is, so the window can always be rebuilt.
type Window struct {
	system  types.ChatMessage
	entries []types.ChatMessage
	max     int
}

// NewWindow creates an empty window whose system entry carries topic.
func NewWindow(topic string) *Window {
	return &Window{
		system: SystemDirective(topic),
		max:    WindowSize,
	}
}

// Append pushes a message, evicting the oldest non-system entry once
// the bound is exceeded. The system entry is never evicted.
func (w *Window) Append(m types.ChatMessage) {
	w.entries = append(w.entries, m)
	if len(w.entries) > w.max {
		w.entries = w.entries[1:]
	}
}

// Prompt returns the full window — system entry first, then entries in
// chronological order — as a fresh slice safe to hand to the completion
// client.
func (w *Window) Prompt() []types.ChatMessage {
	prompt := make([]types.ChatMessage, 0, len(w.entries)+1)
	prompt = append(prompt, w.system)
	prompt = append(prompt, w.entries...)
	return prompt
}

// Len returns the number of non-system entries.
func (w *Window) Len() int {
	return len(w.entries)
}
