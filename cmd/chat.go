package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/snakeclub/chat-robot/internal/qa"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the QA robot in the terminal",
	Long:  `Opens a session and answers questions typed at the prompt until exit, quit or Ctrl-D. Menus are answered by typing the option number.`,
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringToString("info", nil, "session info as key=value pairs, e.g. --info name=李雷")
	chatCmd.Flags().String("collection", "", "restrict matching to one collection")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	pairs, _ := cmd.Flags().GetStringToString("info")
	collection, _ := cmd.Flags().GetString("collection")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	info := map[string]any{"ip": "console"}
	for k, v := range pairs {
		info[k] = v
	}
	sid, err := a.sessions.Create(ctx, info)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer a.sessions.Delete(ctx, sid)

	fmt.Printf("chat-robot %s (%d questions indexed). Type exit to leave.\n", Version, a.index.Count())

	prompt := promptui.Prompt{Label: "您"}
	for {
		line, err := prompt.Run()
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		res, err := a.engine.Search(ctx, qa.Request{SessionID: sid, Question: line, Collection: collection})
		if err != nil {
			fmt.Printf("robot: [error] %v\n", err)
			continue
		}
		for _, r := range res.Replies {
			fmt.Printf("robot: %s\n", r.String())
		}
	}
}
