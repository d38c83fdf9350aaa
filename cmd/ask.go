package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github/itish2003/pdfrag/models"
)

var (
	askSession      string
	askK            int
	askStructured   bool
	askNoHistory    bool
	askHistoryLimit int
	askJSON         bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask one question against the indexed PDFs",
	Long: `Retrieves the most relevant chunks, asks the language model and stores the
turn in the conversation store. Pass --session to continue a session; the
session id is printed so it can be reused.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "session id or external key")
	askCmd.Flags().IntVar(&askK, "k", models.DefaultK, "number of chunks to retrieve")
	askCmd.Flags().BoolVar(&askStructured, "structured", false, "ask for answer, sources and reasoning")
	askCmd.Flags().BoolVar(&askNoHistory, "no-history", false, "ignore earlier turns of the session")
	askCmd.Flags().IntVar(&askHistoryLimit, "history-limit", models.DefaultHistoryLimit, "maximum earlier turns to include")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	opts := models.ChatOptions{
		K:            askK,
		UseHistory:   !askNoHistory,
		HistoryLimit: askHistoryLimit,
		Structured:   askStructured,
	}
	sessionID, answer, err := a.rag.HandleQuestion(ctx, askSession, args[0], opts)
	if err != nil {
		return fmt.Errorf("chat failed: %w", err)
	}

	if askJSON {
		data, err := json.MarshalIndent(models.ChatResponse{
			SessionID: sessionID,
			Answer:    answer.Text,
			Sources:   answer.Sources,
			Reasoning: answer.Reasoning,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(answer.Text)
	cmd.Println()
	if answer.Reasoning != "" {
		cmd.Printf("Reasoning: %s\n\n", answer.Reasoning)
	}
	if len(answer.Sources) > 0 {
		cmd.Println("Sources:")
		for i, s := range answer.Sources {
			cmd.Printf("  [%d] %s\n", i+1, s.FileName)
		}
		cmd.Println()
	}
	cmd.Printf("Session: %s\n", sessionID)
	return nil
}
