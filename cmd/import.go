package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snakeclub/chat-robot/internal/progress"
	"github.com/snakeclub/chat-robot/internal/vectordb"
)

var importCmd = &cobra.Command{
	Use:   "import [pattern...]",
	Short: "Load seed files into the answer database and index their questions",
	Long: `Imports YAML seed files holding collections, common params, polarity words,
standard questions with their answers and extension questions, and intent
rules. Patterns may use ** to match nested directories. With --reindex and no
patterns, the vector index is rebuilt from the answer database.`,
	RunE: runImport,
}

func init() {
	importCmd.Flags().Bool("reindex", false, "rebuild the vector index from the answer database")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	reindex, _ := cmd.Flags().GetBool("reindex")
	if len(args) == 0 && !reindex {
		return fmt.Errorf("no seed file patterns given")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	a, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if reindex {
		a.index = vectordb.NewChromemIndex(a.embedder)
	}
	// New questions go into the existing index, so it must hold the stored
	// ones first.
	if a.index.Count() == 0 {
		n, err := a.importer(progress.NewReporter("indexing stored questions")).Reindex(ctx)
		if err != nil {
			return fmt.Errorf("building vector index: %w", err)
		}
		if n > 0 {
			fmt.Printf("Indexed %d stored questions\n", n)
		}
	}
	if len(args) == 0 {
		return nil
	}

	sum, err := a.importer(progress.NewReporter("indexing imported questions")).ImportFiles(ctx, args)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d file(s): %d questions, %d extension questions, %d intent rules, %d vectors\n",
		sum.Files, sum.Questions, sum.ExtQuestions, sum.Intents, sum.Vectors)
	if !cfg.Vector.Persist {
		fmt.Println("Note: vector.persist is off, so the index is rebuilt from the database on every start.")
	}
	return nil
}
