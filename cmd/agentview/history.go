package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ashureev/agentview/internal/config"
	"github.com/ashureev/agentview/internal/store"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer repo.Close()

		sessions, err := repo.ListSessions(cmd.Context())
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		if len(sessions) == 0 {
			fmt.Println(stageStyle.Render("no stored conversations"))
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CONVERSATION\tMESSAGES\tLAST ACTIVITY\tSTATUS")
		for _, s := range sessions {
			status := "settled"
			if s.RunInProgress {
				status = "interrupted"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
				s.ConversationID,
				len(s.Messages),
				s.UpdatedAt.Format("2006-01-02 15:04"),
				status,
			)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
