// Package prompts contains all LLM prompt templates used internally by Apex.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use string interpolation, benefit from compile-time embedding, and
// can be validated by tests. User-facing configuration lives in apex.yaml;
// this package holds the instructions we send to models for internal
// operations (the conversational system prompt, fact extraction).
//
// Convention: each prompt category gets its own file (system.go,
// extraction.go) with an exported function that accepts the dynamic parts
// and returns the fully interpolated prompt string.
package prompts
