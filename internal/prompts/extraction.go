package prompts

import "fmt"

// factExtractionTemplate is the prompt sent to the extraction model to
// distill long-term facts from a window of recent turns. The single
// format verb is the rendered conversation transcript.
const factExtractionTemplate = `Analyze this conversation and extract any NEW facts about the user. Only extract genuinely new or updated information. Skip small talk, greetings, and routine exchanges.

Categories:
- preference: Things the user likes, dislikes, prefers
- person: People the user mentions (name, relationship, details)
- event: Things that happened or will happen (with dates if mentioned)
- fact: Factual info (passwords, addresses, account numbers, etc.)
- habit: Routines, patterns, regular activities
- reminder: Things the user wants to be reminded about

Return ONLY a JSON array. If nothing new to extract, return [].

Example output:
[
  {"category": "preference", "key": "favorite cuisine", "value": "loves sushi", "confidence": 0.9},
  {"category": "person", "key": "Sarah", "value": "friend, birthday March 15", "confidence": 0.8}
]

Conversation:
%s

Extract new facts (JSON array only, no other text):`

// FactExtractionPrompt returns the fully interpolated prompt for
// automatic fact extraction over a rendered conversation transcript.
func FactExtractionPrompt(transcript string) string {
	return fmt.Sprintf(factExtractionTemplate, transcript)
}
