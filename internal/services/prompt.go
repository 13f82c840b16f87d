package services

import (
	"fmt"
	"strings"

	"searchchat-backend/internal/models"
)

const (
	noContextText      = "No relevant context found."
	truncationMarker   = "\n... [Content truncated for length] ..."
	passageSeparator   = "\n\n---\n\n"
	metadataNotPresent = "N/A"
)

// metadataFields are rendered, in order, in each passage header.
var metadataFields = []string{
	"DOC_TITLE",
	"DOC_DESCRIPTION",
	"DOC_DESCRIPTION_FORMATTED",
	"TAGS",
	"PRESENTATION_DATE",
	"DOC_MODULE",
	"PRESENTATION_LINK",
	"PRESENTER_1_NAME",
}

// RenderGrounding formats passages with inline metadata blocks for the prompt.
func RenderGrounding(passages []models.Passage, maxChars int) string {
	if len(passages) == 0 {
		return noContextText
	}
	parts := make([]string, 0, len(passages))
	for _, p := range passages {
		var b strings.Builder
		b.WriteString("[METADATA]\n")
		ref := p.Metadata["DOC_REF_ID"]
		if ref == "" {
			ref = p.ID
		}
		fmt.Fprintf(&b, "  DOC_REF_ID: %s\n", ref)
		fmt.Fprintf(&b, "  SCORE: %.3f\n", p.Score)
		for _, f := range metadataFields {
			v := strings.TrimSpace(p.Metadata[f])
			if v == "" {
				v = metadataNotPresent
			}
			fmt.Fprintf(&b, "  %s: %s\n", f, v)
		}
		b.WriteString("[/METADATA]\n")
		b.WriteString(truncateText(strings.TrimSpace(p.Text), maxChars))
		parts = append(parts, b.String())
	}
	return strings.Join(parts, passageSeparator)
}

// truncateText cuts text to maxChars runes and appends the truncation marker.
func truncateText(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars]) + truncationMarker
}

func answerSystemPrompt(grounding string) string {
	return `You are a knowledge assistant for internal documents such as policies, training decks and presentations. You are friendly, precise and helpful.

How to answer:
- Greetings, thanks and feedback get a short, warm reply without using the context.
- Every other question is answered ONLY from the context below. Never use outside knowledge and never guess.
- If the context does not contain the answer, say so politely.
- Prefer passages with a higher SCORE. Include PRESENTATION_LINK as a markdown link when it is available. Mention DOC_TITLE or PRESENTER_1_NAME only when it helps clarity.
- Format the answer in Markdown. Use bullet points for lists and ## headers for longer answers.

Each passage of the context starts with a [METADATA] block with these fields:
DOC_REF_ID, SCORE, DOC_TITLE, DOC_DESCRIPTION, DOC_DESCRIPTION_FORMATTED, TAGS, PRESENTATION_DATE, DOC_MODULE, PRESENTATION_LINK, PRESENTER_1_NAME.

CONTEXT:
------------------------------
` + grounding + `
------------------------------

Respond with ONLY a JSON object of this shape:
{"answer": "<markdown answer>", "confidence_score": <number between 0.0 and 1.0>}`
}

func suggestionSystemPrompt(limit int) string {
	return fmt.Sprintf(`You propose follow-up questions for a document search assistant.

Rules:
- Propose at most %d short questions the user could ask next.
- Every question MUST be answerable from the passages provided. Never reference anything outside them.
- Do not repeat the user's question.

Respond with ONLY a JSON object of this shape:
{"suggestions": ["<question>", "..."]}`, limit)
}

func suggestionUserPrompt(question, answer, grounding string) string {
	return "PASSAGES:\n" + grounding +
		"\n\nUSER QUESTION:\n" + question +
		"\n\nANSWER GIVEN:\n" + answer
}
