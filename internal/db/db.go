package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB holding the answer store, the dictionaries and the
// message queue.
type DB struct {
	*sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	d := &DB{DB: sqlDB, path: path}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// OpenMemory creates an in-memory SQLite database (useful for testing).
// Every pooled connection to ":memory:" would get its own empty database,
// so the pool is pinned to a single connection.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	d := &DB{DB: sqlDB, path: ":memory:"}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// Path returns the file the database was opened from.
func (d *DB) Path() string { return d.path }

// migrate runs all schema migrations.
func (d *DB) migrate() error {
	_, err := d.Exec(schema)
	return err
}

// schema contains the full database schema. New tables are added here.
const schema = `
CREATE TABLE IF NOT EXISTS collection_order (
    collection TEXT PRIMARY KEY,
    order_num INTEGER NOT NULL DEFAULT 0,
    remark TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS std_questions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tag TEXT NOT NULL DEFAULT '',
    q_type TEXT NOT NULL DEFAULT 'ask' CHECK(q_type IN ('ask','context')),
    vector_id INTEGER NOT NULL,
    collection TEXT NOT NULL,
    partition_name TEXT NOT NULL DEFAULT '',
    question TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_std_questions_vector ON std_questions(vector_id, collection, partition_name);
CREATE INDEX IF NOT EXISTS idx_std_questions_tag ON std_questions(tag, collection);

CREATE TABLE IF NOT EXISTS ext_questions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    vector_id INTEGER NOT NULL,
    std_question_id INTEGER NOT NULL REFERENCES std_questions(id) ON DELETE CASCADE,
    question TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ext_questions_vector ON ext_questions(vector_id);

CREATE TABLE IF NOT EXISTS answers (
    std_question_id INTEGER PRIMARY KEY REFERENCES std_questions(id) ON DELETE CASCADE,
    a_type TEXT NOT NULL CHECK(a_type IN ('text','json','options','job','ask')),
    type_param TEXT NOT NULL DEFAULT '',
    replace_pre_def INTEGER NOT NULL DEFAULT 0,
    answer TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS no_match_answers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_info TEXT NOT NULL DEFAULT '',
    question TEXT NOT NULL,
    create_time DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS common_params (
    name TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS polarity_words (
    word TEXT NOT NULL,
    sign TEXT NOT NULL CHECK(sign IN ('sure','negative')),
    word_class TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (word, sign, word_class)
);

CREATE TABLE IF NOT EXISTS intent_rules (
    action TEXT NOT NULL,
    match_collection TEXT NOT NULL DEFAULT '',
    match_partition TEXT NOT NULL DEFAULT '',
    collection TEXT NOT NULL DEFAULT '',
    partition_name TEXT NOT NULL DEFAULT '',
    std_question_id INTEGER NOT NULL,
    order_num INTEGER NOT NULL DEFAULT 0,
    exact_match_words TEXT NOT NULL DEFAULT '[]',
    exact_ignorecase INTEGER NOT NULL DEFAULT 0,
    match_words TEXT NOT NULL DEFAULT '[]',
    ignorecase INTEGER NOT NULL DEFAULT 0,
    word_scale REAL NOT NULL DEFAULT 0,
    info_call TEXT NOT NULL DEFAULT '',
    check_call TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (action, match_collection, match_partition)
);

CREATE TABLE IF NOT EXISTS send_message_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    from_user_id INTEGER NOT NULL DEFAULT 0,
    from_user_name TEXT NOT NULL DEFAULT '',
    user_id INTEGER NOT NULL,
    msg_type TEXT NOT NULL CHECK(msg_type IN ('text','json')),
    msg TEXT NOT NULL,
    create_time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_send_message_queue_user ON send_message_queue(user_id, create_time);

CREATE TABLE IF NOT EXISTS send_message_his (
    id INTEGER PRIMARY KEY,
    from_user_id INTEGER NOT NULL DEFAULT 0,
    from_user_name TEXT NOT NULL DEFAULT '',
    user_id INTEGER NOT NULL,
    msg_type TEXT NOT NULL,
    msg TEXT NOT NULL,
    create_time DATETIME NOT NULL,
    confirm_time DATETIME NOT NULL
);
`
