package cmd

import (
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List chat sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var messagesCmd = &cobra.Command{
	Use:   "messages [session-id]",
	Short: "Print the messages of a session in order",
	Args:  cobra.ExactArgs(1),
	RunE:  runMessages,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(messagesCmd)
}

func runSessions(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	sessions, err := a.rag.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		cmd.Println("No sessions found.")
		return nil
	}
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		cmd.Printf("%s  %s  %d messages  %s\n", s.ID, s.LastActivityAt.Local().Format("2006-01-02 15:04"), s.MessageCount, title)
	}
	return nil
}

func runMessages(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	msgs, err := a.rag.GetSessionMessages(ctx, args[0])
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		cmd.Println("No messages found.")
		return nil
	}
	for _, m := range msgs {
		cmd.Printf("[%s] %s\n", m.Role, m.Content)
		for _, s := range m.Sources {
			cmd.Printf("    - %s\n", s.FileName)
		}
	}
	return nil
}
