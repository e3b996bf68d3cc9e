// Package prompts holds every prompt template the agent sends to a
// language model, plus the small helpers that interpolate them.
// Keeping them in one place makes tone and behavior reviewable without
// hunting through the control loop.
package prompts

import (
	"fmt"
	"strings"
)

// FallbackAnswer is the user-facing message returned when no assistant
// message without pending tool calls exists at the end of a turn. The
// loop must never report an empty final answer.
const FallbackAnswer = "I processed your request but wasn't able to compose a response. Please try again."

// NoMemoriesTemplate is injected into the system prompt when the
// user's memory namespace yields no records for the current question.
const NoMemoriesTemplate = "No stored information about this user yet."

// personaTemplate is the base system prompt. The two format verbs are
// the user id and the display name (may be empty).
const personaTemplate = `You are Buddy, a patient assistant with long-term memory. Answer the user's questions directly and do not produce content unrelated to the question. The user's id is: %s.%s

Memory rules:
1. When a question involves personal information, preferences, or past conversations, rely on the stored memories below before answering.
2. Use the retrieve_memory tool to look up additional memories when the ones below are not enough.
3. Use the retrieve_context tool to consult the knowledge base, and web_search for current information.
4. If the user asks about the weather, make sure you know their location first. If the question does not say where they are, use the get_user_location tool before get_weather_for_location.`

// memoriesSection is appended to the persona when stored memories
// exist. The format verb is the bulleted memory list.
const memoriesSection = `

Stored memories about this user:
%s`

// System builds the system prompt for a DECIDE invocation. memories is
// the ranked list of memory facts fetched for this turn; empty slices
// produce the no-information template.
func System(userID, displayName string, memories []string) string {
	var name string
	if displayName != "" {
		name = fmt.Sprintf(" Address the user as %s.", displayName)
	}
	base := fmt.Sprintf(personaTemplate, userID, name)

	if len(memories) == 0 {
		return base + fmt.Sprintf(memoriesSection, NoMemoriesTemplate)
	}

	var sb strings.Builder
	for _, m := range memories {
		sb.WriteString("- ")
		sb.WriteString(m)
		sb.WriteString("\n")
	}
	return base + fmt.Sprintf(memoriesSection, strings.TrimRight(sb.String(), "\n"))
}

// gradeTemplate asks for a binary relevance verdict on retrieved
// evidence. Format verbs: evidence, question.
const gradeTemplate = `You are a grader assessing the relevance of a retrieved document to a user question.
Here is the retrieved document:
%s
Here is the user question: %s
If the document contains keywords or semantic meaning related to the user question, grade it as relevant.
Give a binary score 'yes' or 'no' to indicate whether the document is relevant to the question.`

// Grade returns the grading prompt for a (question, evidence) pair.
func Grade(question, evidence string) string {
	return fmt.Sprintf(gradeTemplate, evidence, question)
}

// GradeSchema is the structured-output schema for the grading call.
func GradeSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"binary_score": map[string]any{
				"type":        "string",
				"description": "Relevance score: 'yes' if relevant, 'no' if not relevant",
				"enum":        []string{"yes", "no"},
			},
		},
		"required": []string{"binary_score"},
	}
}

// rewriteRefineTemplate reformulates a question to improve knowledge
// base retrieval. Format verb: the original question.
const rewriteRefineTemplate = `Look at the input and try to reason about the underlying semantic intent.
Here is the initial question:
-------
%s
-------
Formulate an improved question for searching a knowledge base. Respond with the improved question only.`

// rewriteWebTemplate reformulates a question for a web search after the
// knowledge base came up empty. Format verb: the original question.
const rewriteWebTemplate = `The knowledge base had no useful material for this question, so it will be answered from a web search instead.
Here is the initial question:
-------
%s
-------
Formulate a concise web search query that captures the question's intent. Respond with the query only.`

// RewriteRefine returns the rewrite prompt for the refine-retrieval strategy.
func RewriteRefine(question string) string {
	return fmt.Sprintf(rewriteRefineTemplate, question)
}

// RewriteWebSearch returns the rewrite prompt for the web-search strategy.
func RewriteWebSearch(question string) string {
	return fmt.Sprintf(rewriteWebTemplate, question)
}

// answerTemplate generates the final answer from the original question
// and the best available evidence. Format verbs: question, context.
const answerTemplate = `You are an assistant for question-answering tasks. Use the retrieved context below to answer the question. If you don't know the answer, just say that you don't know. Use three sentences maximum and keep the answer concise.
Question:
%s
Context:
%s`

// Answer returns the final answer-generation prompt.
func Answer(question, context string) string {
	return fmt.Sprintf(answerTemplate, question, context)
}

// shouldPersistTemplate asks whether an exchange contains durable
// personal facts. Format verbs: user id, question, answer.
const shouldPersistTemplate = `Analyze the following exchange and decide whether it should be saved to the user's long-term memory.

User id: %s
User question: %s
Assistant answer: %s

Save it when it contains:
- Personal information the user shared (name, age, occupation)
- The user's preferences, likes, or habits
- Important events, commitments, or promises
- Anything else worth remembering long-term

If it should be saved, reply "YES" followed by a brief reason. If not, reply "NO".`

// ShouldPersist returns the memory-judgment prompt.
func ShouldPersist(userID, question, answer string) string {
	return fmt.Sprintf(shouldPersistTemplate, userID, question, answer)
}

// summarizeMemoryTemplate condenses text into one durable fact. Format
// verb: the text to condense.
const summarizeMemoryTemplate = `Condense the following into one short declarative fact about the user, written in the third person (for example: "User's name is Jason", "User prefers tea over coffee"). Reply with the fact only.

%s`

// SummarizeMemory returns the memory condensation prompt.
func SummarizeMemory(text string) string {
	return fmt.Sprintf(summarizeMemoryTemplate, text)
}
