// Package seed loads answer data from YAML files into the answer store and
// indexes the questions for vector search.
package seed

import (
	"fmt"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/snakeclub/chat-robot/internal/answers"
	"github.com/snakeclub/chat-robot/internal/intent"
)

// File is the content of one seed file.
type File struct {
	Path string `yaml:"-"`

	Collections  []answers.Collection  `yaml:"collections"`
	CommonParams map[string]any        `yaml:"common_params"`
	Polarity     []intent.PolarityWord `yaml:"polarity"`
	Questions    []Question            `yaml:"questions"`
	Intents      []Intent              `yaml:"intents"`
}

// Question is a standard question with its answer and extension
// questions. A zero VectorID is allocated by the store.
type Question struct {
	Tag        string   `yaml:"tag"`
	Collection string   `yaml:"collection"`
	Partition  string   `yaml:"partition"`
	Question   string   `yaml:"question"`
	VectorID   int64    `yaml:"vector_id"`
	Ext        []string `yaml:"ext"`
	Answer     Answer   `yaml:"answer"`
}

// Answer describes the answer of a seeded question. Param holds the
// handler of job and ask answers. JSON, when set, is encoded as the literal
// answer of a json answer.
type Answer struct {
	Type          answers.Kind `yaml:"type"`
	Text          string       `yaml:"text"`
	JSON          any          `yaml:"json"`
	ReplacePreDef bool         `yaml:"replace_pre_def"`
	Param         any          `yaml:"param"`
	Options       []OptionRef  `yaml:"options"`
}

// OptionRef points an options entry at a question by id or by tag.
type OptionRef struct {
	StdQuestionID int64  `yaml:"std_question_id"`
	Tag           string `yaml:"tag"`
	Label         string `yaml:"label"`
}

// Intent is an intent rule whose target may be given by tag.
type Intent struct {
	intent.Rule `yaml:",inline"`
	Tag         string `yaml:"std_question_tag"`
}

// Load parses one seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	f.Path = path
	return &f, nil
}

// Match expands glob patterns, ** included, to the sorted list of
// matching files.
func Match(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}
