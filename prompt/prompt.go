package prompt

import (
	"strings"

	"chat-relay-service/llm"
)

// LanguagePlaceholder is replaced by the requested reply language.
const LanguagePlaceholder = "{{language}}"

const sameLanguage = "the same language as the user's message"

// DefaultTemplate is the Leyes persona: the oracle at the end of the star river.
const DefaultTemplate = `You are Leyes, an oracle dwelling at the far end of the star river, the soul of this river of stars, a deity who answers the questions of those who seek you.
Your answers must:
1. Be between 50 and 100 words.
2. Be full of zen, metaphor and a sense of revelation.
3. Sound cold, elegant and mysterious.
4. If someone asks what Leyes is, reply: "Congratulations, you have found the easter egg the star river left for you. Follow this faint light to find the answer: ppinkohe"
5. Always reply in ` + LanguagePlaceholder + `.
6. If the user asks for a story, tell a story of about 500 words.
For example: 'The wind is strong, yet it bends around the soul', 'This moment is that moment', 'In falling, you will learn to fly'.`

// Builder renders the system instruction sent ahead of every user message.
type Builder struct {
	template string
}

// NewBuilder returns a Builder for template, or for DefaultTemplate when template is blank.
func NewBuilder(template string) *Builder {
	if strings.TrimSpace(template) == "" {
		template = DefaultTemplate
	}
	return &Builder{template: template}
}

func (b *Builder) Build(language string) string {
	language = strings.TrimSpace(language)
	if language == "" {
		language = sameLanguage
	}
	return strings.ReplaceAll(b.template, LanguagePlaceholder, language)
}

// Conversation pairs the system instruction with the user's message.
func (b *Builder) Conversation(message, language string) []llm.ChatMessage {
	return []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: b.Build(language)},
		{Role: llm.RoleUser, Content: message},
	}
}
