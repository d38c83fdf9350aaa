package services

import (
	"strings"

	"github/itish2003/pdfrag/models"
)

// UncertainReply is what the model is told to say when the context does not
// hold the answer.
const UncertainReply = "I'm not sure based on the current documents."

const promptPreamble = `You are a helpful assistant grounded in the user's PDF documents. You answer strictly from the provided context.`

const promptInstructions = `INSTRUCTIONS:
- Answer only using the DOCUMENT CONTEXT and relevant CHAT HISTORY.
- If the context is insufficient, reply: "` + UncertainReply + `"
- Do not fabricate information.
- Answer concisely and factually, and include a brief citation line listing the file names you used.`

// BuildPrompt renders the grounded prompt for one question. History pairs
// come first, oldest to newest; the chunks form the context block in rank order.
func BuildPrompt(question string, history []models.HistoryPair, results []models.RetrievalResult) string {
	var sb strings.Builder
	sb.WriteString(promptPreamble)
	sb.WriteString("\n\n")

	if len(history) > 0 {
		sb.WriteString("CHAT HISTORY:\n")
		sb.WriteString(FormatHistory(history))
		sb.WriteString("\n\n")
	}

	sb.WriteString("DOCUMENT CONTEXT:\n")
	sb.WriteString(FormatContext(results))
	sb.WriteString("\n\n")

	sb.WriteString("QUESTION:\n")
	sb.WriteString(question)
	sb.WriteString("\n\n")

	sb.WriteString(promptInstructions)
	sb.WriteString("\n\nANSWER:\n")
	return sb.String()
}

// FormatHistory renders "User: ...\nAssistant: ..." per pair, blank-line separated.
func FormatHistory(history []models.HistoryPair) string {
	turns := make([]string, 0, len(history))
	for _, p := range history {
		turns = append(turns, "User: "+p.Question+"\nAssistant: "+p.Answer)
	}
	return strings.Join(turns, "\n\n")
}

// FormatContext renders each chunk as "[SOURCE: label]\ntext".
func FormatContext(results []models.RetrievalResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, "[SOURCE: "+sourceLabel(r.Chunk)+"]\n"+r.Chunk.Text)
	}
	return strings.Join(parts, "\n\n")
}

func sourceLabel(c models.Chunk) string {
	switch {
	case c.FileName != "":
		return c.FileName
	case c.SourcePath != "":
		return c.SourcePath
	default:
		return "unknown"
	}
}
