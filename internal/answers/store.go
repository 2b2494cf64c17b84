// Package answers persists standard questions, their answers and the
// dictionaries the dialogue engine loads at start.
package answers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/snakeclub/chat-robot/internal/db"
	"github.com/snakeclub/chat-robot/internal/intent"
	"github.com/snakeclub/chat-robot/internal/plugins"
)

// Store manages the answer database.
type Store struct {
	db *db.DB
}

// NewStore creates a new answer store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// AddStdQuestion inserts a standard question together with its answer.
// A zero VectorID allocates the next free vector id.
func (s *Store) AddStdQuestion(ctx context.Context, q StdQuestion, a Answer) (*StdQuestion, error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("standard question %q: collection is required", q.Question)
	}
	if q.Type == "" {
		q.Type = QuestionAsk
	}
	if a.Payload == nil {
		a.Payload = TextPayload{}
	}
	kind, typeParam, err := EncodePayload(a.Payload)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if q.VectorID == 0 {
		if q.VectorID, err = nextVectorID(ctx, tx); err != nil {
			return nil, err
		}
	}
	q.CreatedAt = time.Now().UTC()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO std_questions (tag, q_type, vector_id, collection, partition_name, question, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.Tag, q.Type, q.VectorID, q.Collection, q.Partition, q.Question, q.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting standard question: %w", err)
	}
	if q.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading standard question id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO answers (std_question_id, a_type, type_param, replace_pre_def, answer) VALUES (?, ?, ?, ?, ?)`,
		q.ID, kind, typeParam, a.ReplacePreDef, a.Text,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting answer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing standard question: %w", err)
	}
	return &q, nil
}

// AddExtQuestion adds an alternate phrasing for a standard question.
func (s *Store) AddExtQuestion(ctx context.Context, e ExtQuestion) (*ExtQuestion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if e.VectorID == 0 {
		if e.VectorID, err = nextVectorID(ctx, tx); err != nil {
			return nil, err
		}
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO ext_questions (vector_id, std_question_id, question) VALUES (?, ?, ?)`,
		e.VectorID, e.StdQuestionID, e.Question,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting extension question: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading extension question id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing extension question: %w", err)
	}
	return &e, nil
}

func nextVectorID(ctx context.Context, tx *sql.Tx) (int64, error) {
	var maxID int64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(m) FROM (
		   SELECT COALESCE(MAX(vector_id), 0) AS m FROM std_questions
		   UNION ALL
		   SELECT COALESCE(MAX(vector_id), 0) FROM ext_questions
		 )`,
	).Scan(&maxID)
	if err != nil {
		return 0, fmt.Errorf("allocating vector id: %w", err)
	}
	return maxID + 1, nil
}

const stdColumns = `id, tag, q_type, vector_id, collection, partition_name, question, created_at`

func scanStd(row interface{ Scan(...any) error }) (*StdQuestion, error) {
	var q StdQuestion
	err := row.Scan(&q.ID, &q.Tag, &q.Type, &q.VectorID, &q.Collection, &q.Partition, &q.Question, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// StdQuestion returns the standard question with the given id.
func (s *Store) StdQuestion(ctx context.Context, id int64) (*StdQuestion, error) {
	q, err := scanStd(s.db.QueryRowContext(ctx,
		`SELECT `+stdColumns+` FROM std_questions WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("standard question %d: %w", id, err)
	}
	return q, nil
}

// StdQuestionByVector returns the standard question indexed under
// vectorID in the given scope. Ties go to the lowest id.
func (s *Store) StdQuestionByVector(ctx context.Context, vectorID int64, collection, partition string) (*StdQuestion, error) {
	q, err := scanStd(s.db.QueryRowContext(ctx,
		`SELECT `+stdColumns+` FROM std_questions
		 WHERE vector_id = ? AND collection = ? AND partition_name = ?
		 ORDER BY id LIMIT 1`, vectorID, collection, partition))
	if err != nil {
		return nil, fmt.Errorf("standard question for vector %d: %w", vectorID, err)
	}
	return q, nil
}

// StdQuestionByTag returns the standard question with tag in collection.
// An empty collection searches all collections.
func (s *Store) StdQuestionByTag(ctx context.Context, tag, collection string) (*StdQuestion, error) {
	query := `SELECT ` + stdColumns + ` FROM std_questions WHERE tag = ?`
	args := []any{tag}
	if collection != "" {
		query += ` AND collection = ?`
		args = append(args, collection)
	}
	query += ` ORDER BY id LIMIT 1`
	q, err := scanStd(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("standard question tagged %q: %w", tag, err)
	}
	return q, nil
}

// ExtQuestionOwner returns the standard question owning the extension
// question indexed under vectorID in the given scope.
func (s *Store) ExtQuestionOwner(ctx context.Context, vectorID int64, collection, partition string) (*StdQuestion, error) {
	q, err := scanStd(s.db.QueryRowContext(ctx,
		`SELECT s.id, s.tag, s.q_type, s.vector_id, s.collection, s.partition_name, s.question, s.created_at
		 FROM ext_questions e JOIN std_questions s ON s.id = e.std_question_id
		 WHERE e.vector_id = ? AND s.collection = ? AND s.partition_name = ?
		 ORDER BY s.id LIMIT 1`, vectorID, collection, partition))
	if err != nil {
		return nil, fmt.Errorf("extension question for vector %d: %w", vectorID, err)
	}
	return q, nil
}

// Answer returns the answer of a standard question with its payload decoded.
func (s *Store) Answer(ctx context.Context, stdQuestionID int64) (*Answer, error) {
	var (
		kind      Kind
		typeParam string
		a         Answer
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT std_question_id, a_type, type_param, replace_pre_def, answer FROM answers WHERE std_question_id = ?`,
		stdQuestionID,
	).Scan(&a.StdQuestionID, &kind, &typeParam, &a.ReplacePreDef, &a.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("answer of %d: %w", stdQuestionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting answer of %d: %w", stdQuestionID, err)
	}
	if a.Payload, err = DecodePayload(kind, typeParam); err != nil {
		return nil, fmt.Errorf("answer of %d: %w", stdQuestionID, err)
	}
	return &a, nil
}

// LogNoMatch records an utterance nothing matched.
func (s *Store) LogNoMatch(ctx context.Context, sessionInfo map[string]any, question string) error {
	info, err := json.Marshal(sessionInfo)
	if err != nil {
		return fmt.Errorf("encoding session info: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO no_match_answers (session_info, question, create_time) VALUES (?, ?, ?)`,
		string(info), question, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("logging unmatched question: %w", err)
	}
	return nil
}

// NoMatches returns the most recent unmatched utterances, newest first.
func (s *Store) NoMatches(ctx context.Context, limit int) ([]NoMatchRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_info, question, create_time FROM no_match_answers ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unmatched questions: %w", err)
	}
	defer rows.Close()

	var out []NoMatchRecord
	for rows.Next() {
		var (
			r    NoMatchRecord
			info string
		)
		if err := rows.Scan(&r.ID, &info, &r.Question, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning unmatched question: %w", err)
		}
		if info != "" {
			if err := json.Unmarshal([]byte(info), &r.SessionInfo); err != nil {
				return nil, fmt.Errorf("decoding session info of unmatched question %d: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CommonParams returns every common parameter with its JSON value decoded.
func (s *Store) CommonParams(ctx context.Context) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM common_params`)
	if err != nil {
		return nil, fmt.Errorf("listing common params: %w", err)
	}
	defer rows.Close()

	params := make(map[string]any)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("scanning common param: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("common param %s: %w", name, err)
		}
		params[name] = v
	}
	return params, rows.Err()
}

// SetCommonParam stores value as JSON under name.
func (s *Store) SetCommonParam(ctx context.Context, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding common param %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO common_params (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, string(raw),
	)
	if err != nil {
		return fmt.Errorf("saving common param %s: %w", name, err)
	}
	return nil
}

// PolarityWords returns the polarity table.
func (s *Store) PolarityWords(ctx context.Context) ([]intent.PolarityWord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT word, sign, word_class FROM polarity_words ORDER BY word, word_class`)
	if err != nil {
		return nil, fmt.Errorf("listing polarity words: %w", err)
	}
	defer rows.Close()

	var out []intent.PolarityWord
	for rows.Next() {
		var w intent.PolarityWord
		if err := rows.Scan(&w.Word, &w.Sign, &w.WordClass); err != nil {
			return nil, fmt.Errorf("scanning polarity word: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// AddPolarityWord adds a word to the polarity table.
func (s *Store) AddPolarityWord(ctx context.Context, w intent.PolarityWord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO polarity_words (word, sign, word_class) VALUES (?, ?, ?)`,
		w.Word, w.Sign, w.WordClass,
	)
	if err != nil {
		return fmt.Errorf("adding polarity word %q: %w", w.Word, err)
	}
	return nil
}

// IntentRules returns every intent rule, highest priority first.
func (s *Store) IntentRules(ctx context.Context) ([]intent.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, match_collection, match_partition, collection, partition_name, std_question_id, order_num,
		        exact_match_words, exact_ignorecase, match_words, ignorecase, word_scale, info_call, check_call
		 FROM intent_rules ORDER BY order_num DESC, rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing intent rules: %w", err)
	}
	defer rows.Close()

	var out []intent.Rule
	for rows.Next() {
		var (
			r                 intent.Rule
			exact, fuzzy      string
			infoRef, checkRef string
		)
		if err := rows.Scan(&r.Action, &r.MatchCollection, &r.MatchPartition, &r.Collection, &r.Partition,
			&r.StdQuestionID, &r.Priority, &exact, &r.ExactIgnoreCase, &fuzzy, &r.IgnoreCase, &r.WordScale,
			&infoRef, &checkRef); err != nil {
			return nil, fmt.Errorf("scanning intent rule: %w", err)
		}
		if err := decodeJSON(exact, &r.ExactWords); err != nil {
			return nil, fmt.Errorf("intent rule %s exact words: %w", r.Action, err)
		}
		if err := decodeJSON(fuzzy, &r.MatchWords); err != nil {
			return nil, fmt.Errorf("intent rule %s match words: %w", r.Action, err)
		}
		if err := decodeJSON(infoRef, &r.Info); err != nil {
			return nil, fmt.Errorf("intent rule %s info call: %w", r.Action, err)
		}
		if err := decodeJSON(checkRef, &r.Check); err != nil {
			return nil, fmt.Errorf("intent rule %s check call: %w", r.Action, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertIntentRule inserts or replaces the rule keyed by
// (action, match collection, match partition).
func (s *Store) UpsertIntentRule(ctx context.Context, r intent.Rule) error {
	exact, err := json.Marshal(nonNil(r.ExactWords))
	if err != nil {
		return err
	}
	fuzzy, err := json.Marshal(nonNil(r.MatchWords))
	if err != nil {
		return err
	}
	infoRef, err := encodeRef(r.Info)
	if err != nil {
		return err
	}
	checkRef, err := encodeRef(r.Check)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO intent_rules (action, match_collection, match_partition, collection, partition_name, std_question_id,
		   order_num, exact_match_words, exact_ignorecase, match_words, ignorecase, word_scale, info_call, check_call)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(action, match_collection, match_partition) DO UPDATE SET
		   collection = excluded.collection, partition_name = excluded.partition_name,
		   std_question_id = excluded.std_question_id, order_num = excluded.order_num,
		   exact_match_words = excluded.exact_match_words, exact_ignorecase = excluded.exact_ignorecase,
		   match_words = excluded.match_words, ignorecase = excluded.ignorecase, word_scale = excluded.word_scale,
		   info_call = excluded.info_call, check_call = excluded.check_call`,
		r.Action, r.MatchCollection, r.MatchPartition, r.Collection, r.Partition, r.StdQuestionID,
		r.Priority, string(exact), r.ExactIgnoreCase, string(fuzzy), r.IgnoreCase, r.WordScale, infoRef, checkRef,
	)
	if err != nil {
		return fmt.Errorf("saving intent rule %s: %w", r.Action, err)
	}
	return nil
}

// Collections returns the QA collections, highest search priority first.
func (s *Store) Collections(ctx context.Context) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection, order_num, remark FROM collection_order ORDER BY order_num DESC, collection`)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		if err := rows.Scan(&c.Name, &c.Order, &c.Remark); err != nil {
			return nil, fmt.Errorf("scanning collection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetCollectionOrder creates or updates a collection's search priority.
func (s *Store) SetCollectionOrder(ctx context.Context, c Collection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collection_order (collection, order_num, remark) VALUES (?, ?, ?)
		 ON CONFLICT(collection) DO UPDATE SET order_num = excluded.order_num, remark = excluded.remark`,
		c.Name, c.Order, c.Remark,
	)
	if err != nil {
		return fmt.Errorf("saving collection %s: %w", c.Name, err)
	}
	return nil
}

// VectorEntries returns every indexed text, standard and extension
// questions alike, for rebuilding the vector index.
func (s *Store) VectorEntries(ctx context.Context) ([]VectorEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vector_id, collection, partition_name, question FROM std_questions
		 UNION ALL
		 SELECT e.vector_id, s.collection, s.partition_name, e.question
		 FROM ext_questions e JOIN std_questions s ON s.id = e.std_question_id
		 ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("listing vector entries: %w", err)
	}
	defer rows.Close()

	var out []VectorEntry
	for rows.Next() {
		var v VectorEntry
		if err := rows.Scan(&v.VectorID, &v.Collection, &v.Partition, &v.Text); err != nil {
			return nil, fmt.Errorf("scanning vector entry: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func decodeJSON(raw string, dst any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func encodeRef(ref plugins.Ref) (string, error) {
	if ref.IsZero() {
		return "", nil
	}
	b, err := json.Marshal(ref)
	if err != nil {
		return "", fmt.Errorf("encoding callback %s: %w", ref, err)
	}
	return string(b), nil
}

func nonNil(words []string) []string {
	if words == nil {
		return []string{}
	}
	return words
}
