package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/snakeclub/chat-robot/internal/embeddings"
	"github.com/snakeclub/chat-robot/internal/progress"
	"github.com/snakeclub/chat-robot/internal/vectordb"
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Semantically search the standard questions",
	Long:  `Searches the vector index with a natural language question and lists the nearest standard questions, without answering.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().Int("limit", 5, "maximum number of results per collection")
	queryCmd.Flags().String("collection", "", "search only this collection")
	queryCmd.Flags().String("partition", "", "search only this partition of the collection")
	queryCmd.Flags().Bool("json", false, "output results as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	queryText := args[0]

	limit, _ := cmd.Flags().GetInt("limit")
	collection, _ := cmd.Flags().GetString("collection")
	partition, _ := cmd.Flags().GetString("partition")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openStore(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if a.index.Count() == 0 {
		if _, err := a.importer(progress.NewReporter("indexing questions")).Reindex(ctx); err != nil {
			return fmt.Errorf("building vector index: %w", err)
		}
	}
	if a.index.Count() == 0 {
		fmt.Println("No questions indexed. Run `chat-robot import` first.")
		return nil
	}

	vec, err := embeddings.EmbedOne(ctx, a.embedder, queryText)
	if err != nil {
		return fmt.Errorf("embedding query: %w", err)
	}

	collections := a.index.Collections()
	if collection != "" {
		collections = []string{collection}
	}
	var results []vectordb.Candidate
	for _, c := range collections {
		found, err := a.vectors.Candidates(ctx, c, partition, vec, limit)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		results = append(results, found...)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })

	if jsonOutput {
		return printQueryResultsJSON(results)
	}
	fmt.Print(vectordb.FormatResults(results))
	return nil
}

type queryResultJSON struct {
	Rank          int     `json:"rank"`
	Similarity    float64 `json:"similarity"`
	Collection    string  `json:"collection"`
	Partition     string  `json:"partition,omitempty"`
	StdQuestionID int64   `json:"std_question_id"`
	Question      string  `json:"question"`
	Matched       string  `json:"matched"`
}

func printQueryResultsJSON(results []vectordb.Candidate) error {
	out := make([]queryResultJSON, 0, len(results))
	for i, r := range results {
		out = append(out, queryResultJSON{
			Rank:          i + 1,
			Similarity:    float64(r.Similarity),
			Collection:    r.Collection,
			Partition:     r.Partition,
			StdQuestionID: r.Question.ID,
			Question:      r.Question.Question,
			Matched:       r.Text,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(out)
}
