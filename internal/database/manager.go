package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	dbconfig "classpulse/pkg/database"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

var _ interfaces.DatabaseManager = (*Manager)(nil)

// Manager is the sqlite store. All writes go through a single writer goroutine;
// reads run concurrently against the WAL.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(*sql.DB) error
	result    chan error
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// NewManager opens the database and starts the writer.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			if err := op.ctx.Err(); err != nil {
				op.result <- err
				continue
			}
			err := op.operation(m.db)
			if err != nil && isRetryable(err) {
				log.Printf("Database write failed, retrying in %v: %v", m.config.WriteRetryDelay, err)
				time.Sleep(m.config.WriteRetryDelay)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// inTx runs fn inside a transaction on the writer goroutine.
func (m *Manager) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

// Sessions

func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (code, ai_model, status, created_at)
			VALUES (?, ?, ?, ?)
		`, session.Code, session.AIModel, session.Status, session.CreatedAt.UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateCode
			}
			return fmt.Errorf("failed to insert session: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read session id: %w", err)
		}
		session.ID = id
		return nil
	})
}

const sessionColumns = `id, code, ai_model, status, created_at, closed_at`

func scanSession(row rowScanner) (*types.Session, error) {
	var s types.Session
	var closedAt sql.NullTime
	if err := row.Scan(&s.ID, &s.Code, &s.AIModel, &s.Status, &s.CreatedAt, &closedAt); err != nil {
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		s.ClosedAt = &t
	}
	return &s, nil
}

func (m *Manager) GetSession(ctx context.Context, sessionID int64) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return s, nil
}

func (m *Manager) GetSessionByCode(ctx context.Context, code string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE code = ?`, code)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session by code: %w", err)
	}
	return s, nil
}

func (m *Manager) ListSessions(ctx context.Context) ([]*types.Session, error) {
	return m.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY id DESC`)
}

func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return m.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE status = 'active' ORDER BY id DESC`)
}

func (m *Manager) querySessions(ctx context.Context, query string, args ...interface{}) ([]*types.Session, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

func (m *Manager) CloseSession(ctx context.Context, sessionID int64, at time.Time) ([]int64, error) {
	var closed []int64
	err := m.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = 'closed', closed_at = ?
			WHERE id = ? AND status = 'active'
		`, at.UTC(), sessionID)
		if err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sessionMissOrClosed(ctx, tx, sessionID)
		}

		closed, err = closeOpenQuestionsTx(ctx, tx, sessionID, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func sessionMissOrClosed(ctx context.Context, tx *sql.Tx, sessionID int64) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query session status: %w", err)
	}
	return ErrSessionClosed
}

// Session questions

func (m *Manager) InsertSessionQuestions(ctx context.Context, questions []*types.SessionQuestion) error {
	if len(questions) == 0 {
		return nil
	}
	return m.inTx(ctx, func(tx *sql.Tx) error {
		for _, q := range questions {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO session_questions (session_id, template_id, text, grading_criteria, status, launched_at)
				SELECT ?, ?, ?, ?, 'open', ?
				WHERE EXISTS (SELECT 1 FROM sessions WHERE id = ? AND status = 'active')
			`, q.SessionID, q.TemplateID, q.Text, q.GradingCriteria, q.LaunchedAt.UTC(), q.SessionID)
			if err != nil {
				return fmt.Errorf("failed to insert session question: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return sessionMissOrClosed(ctx, tx, q.SessionID)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to read session question id: %w", err)
			}
			q.ID = id
			q.Status = types.QuestionStatusOpen
		}
		return nil
	})
}

const questionColumns = `id, session_id, template_id, text, grading_criteria, status, launched_at, closed_at`

func scanQuestion(row rowScanner) (*types.SessionQuestion, error) {
	var q types.SessionQuestion
	var closedAt sql.NullTime
	if err := row.Scan(&q.ID, &q.SessionID, &q.TemplateID, &q.Text, &q.GradingCriteria,
		&q.Status, &q.LaunchedAt, &closedAt); err != nil {
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		q.ClosedAt = &t
	}
	return &q, nil
}

func (m *Manager) GetSessionQuestion(ctx context.Context, sessionQuestionID int64) (*types.SessionQuestion, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM session_questions WHERE id = ?`, sessionQuestionID)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to query session question: %w", err)
	}
	return q, nil
}

// ListSessionQuestions returns questions in launch order.
func (m *Manager) ListSessionQuestions(ctx context.Context, sessionID int64, openOnly bool) ([]*types.SessionQuestion, error) {
	query := `SELECT ` + questionColumns + ` FROM session_questions WHERE session_id = ?`
	if openOnly {
		query += ` AND status = 'open'`
	}
	query += ` ORDER BY id ASC`

	rows, err := m.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session questions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var questions []*types.SessionQuestion
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session question row: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session question rows: %w", err)
	}
	return questions, nil
}

func (m *Manager) CloseSessionQuestion(ctx context.Context, sessionQuestionID int64, at time.Time) error {
	return m.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE session_questions SET status = 'closed', closed_at = ?
			WHERE id = ? AND status = 'open'
		`, at.UTC(), sessionQuestionID)
		if err != nil {
			return fmt.Errorf("failed to close session question: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}

		var status string
		err = tx.QueryRowContext(ctx, `SELECT status FROM session_questions WHERE id = ?`, sessionQuestionID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrQuestionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to query session question status: %w", err)
		}
		return ErrQuestionClosed
	})
}

func (m *Manager) CloseOpenQuestions(ctx context.Context, sessionID int64, at time.Time) ([]int64, error) {
	var closed []int64
	err := m.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to query session: %w", err)
		}
		if exists == 0 {
			return ErrSessionNotFound
		}

		closed, err = closeOpenQuestionsTx(ctx, tx, sessionID, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func closeOpenQuestionsTx(ctx context.Context, tx *sql.Tx, sessionID int64, at time.Time) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM session_questions WHERE session_id = ? AND status = 'open' ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open questions: %w", err)
	}

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan open question id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating open questions: %w", err)
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return ids, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE session_questions SET status = 'closed', closed_at = ?
		WHERE session_id = ? AND status = 'open'
	`, at.UTC(), sessionID); err != nil {
		return nil, fmt.Errorf("failed to close open questions: %w", err)
	}
	return ids, nil
}

// Responses

// InsertResponse stores a graded response only if its question is still open.
func (m *Manager) InsertResponse(ctx context.Context, r *types.Response) error {
	return m.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO responses (id, session_id, session_question_id, student_name, answer_text, score, feedback, created_at)
			SELECT ?, session_id, id, ?, ?, ?, ?, ?
			FROM session_questions WHERE id = ? AND status = 'open'
		`, r.ID, r.StudentName, r.AnswerText, r.Score, r.Feedback, r.CreatedAt.UTC(), r.SessionQuestionID)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateResponse
			}
			return fmt.Errorf("failed to insert response: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}

		var sessionID int64
		err = tx.QueryRowContext(ctx, `SELECT session_id FROM session_questions WHERE id = ?`, r.SessionQuestionID).Scan(&sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrQuestionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to query session question: %w", err)
		}
		return ErrQuestionClosed
	})
}

func (m *Manager) HasResponse(ctx context.Context, sessionQuestionID int64, studentName string) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM responses
		WHERE session_question_id = ? AND student_name = ? COLLATE NOCASE
	`, sessionQuestionID, studentName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query response: %w", err)
	}
	return count > 0, nil
}

// ListResponses returns every response in a session, oldest first.
func (m *Manager) ListResponses(ctx context.Context, sessionID int64) ([]*types.Response, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, session_id, session_question_id, student_name, answer_text, score, feedback, created_at
		FROM responses WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var responses []*types.Response
	for rows.Next() {
		var r types.Response
		if err := rows.Scan(&r.ID, &r.SessionID, &r.SessionQuestionID, &r.StudentName,
			&r.AnswerText, &r.Score, &r.Feedback, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan response row: %w", err)
		}
		responses = append(responses, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating response rows: %w", err)
	}
	return responses, nil
}

// Question bank

func (m *Manager) CreateCollection(ctx context.Context, c *types.Collection) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `INSERT INTO collections (name, created_at) VALUES (?, ?)`,
			c.Name, c.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert collection: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read collection id: %w", err)
		}
		c.ID = id
		return nil
	})
}

func (m *Manager) ListCollections(ctx context.Context) ([]*types.Collection, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.created_at, COUNT(q.id)
		FROM collections c LEFT JOIN question_templates q ON q.collection_id = c.id
		GROUP BY c.id ORDER BY c.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var collections []*types.Collection
	for rows.Next() {
		var c types.Collection
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt, &c.QuestionCount); err != nil {
			return nil, fmt.Errorf("failed to scan collection row: %w", err)
		}
		collections = append(collections, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating collection rows: %w", err)
	}
	return collections, nil
}

func (m *Manager) CreateTemplate(ctx context.Context, t *types.QuestionTemplate) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			INSERT INTO question_templates (collection_id, text, grading_criteria, created_at)
			VALUES (?, ?, ?, ?)
		`, t.CollectionID, t.Text, t.GradingCriteria, t.CreatedAt.UTC())
		if err != nil {
			if isForeignKeyViolation(err) {
				return ErrCollectionNotFound
			}
			return fmt.Errorf("failed to insert question template: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read question template id: %w", err)
		}
		t.ID = id
		return nil
	})
}

const templateColumns = `id, collection_id, text, grading_criteria, created_at`

func scanTemplate(row rowScanner) (*types.QuestionTemplate, error) {
	var t types.QuestionTemplate
	var collectionID sql.NullInt64
	if err := row.Scan(&t.ID, &collectionID, &t.Text, &t.GradingCriteria, &t.CreatedAt); err != nil {
		return nil, err
	}
	if collectionID.Valid {
		id := collectionID.Int64
		t.CollectionID = &id
	}
	return &t, nil
}

func (m *Manager) GetTemplate(ctx context.Context, templateID int64) (*types.QuestionTemplate, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM question_templates WHERE id = ?`, templateID)
	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to query question template: %w", err)
	}
	return t, nil
}

func (m *Manager) ListTemplates(ctx context.Context, collectionID *int64) ([]*types.QuestionTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM question_templates`
	var args []interface{}
	if collectionID != nil {
		query += ` WHERE collection_id = ?`
		args = append(args, *collectionID)
	}
	query += ` ORDER BY id ASC`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query question templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var templates []*types.QuestionTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question template row: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating question template rows: %w", err)
	}
	return templates, nil
}

// CollectionMembers returns the template ids of a collection in creation order.
// An existing but empty collection yields an empty slice.
func (m *Manager) CollectionMembers(ctx context.Context, collectionID int64) ([]int64, error) {
	var exists int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collections WHERE id = ?`, collectionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	if exists == 0 {
		return nil, ErrCollectionNotFound
	}

	rows, err := m.db.QueryContext(ctx, `SELECT id FROM question_templates WHERE collection_id = ? ORDER BY id ASC`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan collection member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB exposes the handle for migrations.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
