package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/ashureev/agentview/internal/config"
	"github.com/ashureev/agentview/internal/markdown"
	"github.com/ashureev/agentview/internal/session"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat with the agent",
	Long: `Opens a readline loop against the configured agent. Streaming text,
progress stages and the tool-call trace are rendered live. Ctrl-C aborts the
run in flight without leaving the chat; Ctrl-D or /quit exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		sess, _, cleanup, err := openSession(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		// Ctrl-C cancels the run in flight, never the program.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)
		defer signal.Stop(sigCh)
		go func() {
			for range sigCh {
				sess.Abort()
			}
		}()

		printHistory(sess)

		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print(userStyle.Render("you") + " > ")
			if !scanner.Scan() {
				fmt.Println()
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			switch line {
			case "":
				continue
			case "/quit", "/exit":
				return nil
			case "/clear":
				if err := sess.Clear(ctx); err != nil {
					fmt.Println(errorStyle.Render(err.Error()))
				}
				continue
			}

			runTurn(ctx, sess, line)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// runTurn drives one exchange and renders its lifecycle to the terminal.
// Text deltas are printed as they stream; the styled markdown rendering is
// used when the terminal frame carried the whole answer at once.
func runTurn(ctx context.Context, sess *session.Session, line string) {
	var printedStages, printedText int
	msg, err := sess.Start(ctx, line, func(u session.Update) {
		for _, st := range u.Stages[printedStages:] {
			fmt.Println(stageStyle.Render("· " + st.Label))
		}
		if len(u.Stages) > printedStages {
			printedStages = len(u.Stages)
		}
		if u.State == session.StateStreaming && len(u.Text) > printedText {
			if printedText == 0 {
				fmt.Println(assistantStyle.Render("agent") + ":")
			}
			fmt.Print(u.Text[printedText:])
			printedText = len(u.Text)
		}
	})

	switch {
	case errors.Is(err, session.ErrAborted):
		fmt.Println(stageStyle.Render("(aborted)"))
		return
	case errors.Is(err, session.ErrNotFound):
		fmt.Println(errorStyle.Render("not found: " + err.Error()))
		return
	case err != nil:
		fmt.Println(errorStyle.Render(err.Error()))
		// Partial content survives an error settle; show what arrived.
		if msgs := sess.Messages(); len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			if last.Content != "" {
				fmt.Println(renderTerminal(markdown.Render(last.Content)))
			}
		}
		return
	}

	if printedText == 0 {
		fmt.Println(assistantStyle.Render("agent") + ":")
		fmt.Println(renderTerminal(markdown.Render(msg.Content)))
	} else {
		fmt.Println()
	}
	if out := renderTrace(msg.Trace); out != "" {
		fmt.Print(out)
	}
	if out := renderSources(msg.Sources); out != "" {
		fmt.Println(traceStyle.Render("sources:"))
		fmt.Print(out)
	}
	if msg.Timing.TotalMs > 0 {
		fmt.Println(stageStyle.Render(fmt.Sprintf("(%dms)", msg.Timing.TotalMs)))
	}
	fmt.Println()
}

// printHistory replays the restored conversation on startup.
func printHistory(sess *session.Session) {
	for _, msg := range sess.Messages() {
		switch msg.Role {
		case "user":
			fmt.Println(userStyle.Render("you") + " > " + msg.Content)
		default:
			fmt.Println(assistantStyle.Render("agent") + ":")
			fmt.Println(renderTerminal(markdown.Render(msg.Content)))
		}
	}
}
