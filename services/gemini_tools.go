package services

import "google.golang.org/genai"

// answerSchema constrains Gemini's structured output to models.StructuredAnswer.
func answerSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"answer": {
				Type:        genai.TypeString,
				Description: "The answer to the user's question, grounded in the document context.",
			},
			"sources": {
				Type:        genai.TypeString,
				Description: "The exact passages from the document context the answer was taken from.",
			},
			"reasoning": {
				Type:        genai.TypeString,
				Description: "A short explanation of how the sources support the answer.",
			},
		},
		Required:         []string{"answer", "sources", "reasoning"},
		PropertyOrdering: []string{"answer", "sources", "reasoning"},
	}
}

// structuredSuffix is appended to prompts for models without schema support.
const structuredSuffix = `
Respond with a single JSON object with exactly these string fields:
{"answer": "...", "sources": "...", "reasoning": "..."}
"sources" quotes the passages you used; "reasoning" explains how they support the answer.`
