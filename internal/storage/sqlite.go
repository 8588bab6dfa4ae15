package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/repolab/repotutor/pkg/types"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Repository operations

const repoColumns = `id, repo_url, owner, name, primary_language, commit_hash, status,
	error_message, total_files, total_size_bytes, total_chunks,
	readme_content, architecture_content, created_at, updated_at`

func scanRepository(row interface{ Scan(...any) error }) (*types.Repository, error) {
	var repo types.Repository
	var status string
	err := row.Scan(&repo.ID, &repo.RepoURL, &repo.Owner, &repo.Name,
		&repo.PrimaryLanguage, &repo.CommitHash, &status, &repo.ErrorMessage,
		&repo.TotalFiles, &repo.TotalSizeBytes, &repo.TotalChunks,
		&repo.ReadmeContent, &repo.ArchitectureContent,
		&repo.CreatedAt, &repo.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan repository: %w", err)
	}
	repo.Status = types.RepoStatus(status)
	return &repo, nil
}

func (s *SQLiteStorage) CreateRepository(ctx context.Context, repo *types.Repository) error {
	now := time.Now().UTC()
	repo.CreatedAt = now
	repo.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (`+repoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		repo.ID, repo.RepoURL, repo.Owner, repo.Name, repo.PrimaryLanguage,
		repo.CommitHash, string(repo.Status), repo.ErrorMessage,
		repo.TotalFiles, repo.TotalSizeBytes, repo.TotalChunks,
		repo.ReadmeContent, repo.ArchitectureContent,
		repo.CreatedAt, repo.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetRepository(ctx context.Context, id string) (*types.Repository, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+repoColumns+` FROM repositories WHERE id = ?`, id)
	return scanRepository(row)
}

func (s *SQLiteStorage) GetRepositoryByURL(ctx context.Context, url string) (*types.Repository, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+repoColumns+` FROM repositories WHERE repo_url = ?`, url)
	return scanRepository(row)
}

func (s *SQLiteStorage) UpdateRepository(ctx context.Context, repo *types.Repository) error {
	repo.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE repositories
		SET primary_language = ?, commit_hash = ?, status = ?, error_message = ?,
			total_files = ?, total_size_bytes = ?, total_chunks = ?,
			readme_content = ?, architecture_content = ?, updated_at = ?
		WHERE id = ?`,
		repo.PrimaryLanguage, repo.CommitHash, string(repo.Status), repo.ErrorMessage,
		repo.TotalFiles, repo.TotalSizeBytes, repo.TotalChunks,
		repo.ReadmeContent, repo.ArchitectureContent, repo.UpdatedAt, repo.ID)
	if err != nil {
		return fmt.Errorf("failed to update repository: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) ListRepositories(ctx context.Context) ([]*types.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+repoColumns+` FROM repositories ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*types.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

func (s *SQLiteStorage) DeleteRepository(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return types.ErrNotFound
	}
	return nil
}

// Job operations

const jobColumns = `id, repo_id, type, status, progress, error_message, attempt,
	max_attempts, started_at, completed_at, created_at`

func scanJob(row interface{ Scan(...any) error }) (*types.Job, error) {
	var job types.Job
	var jobType, status string
	var started, completed sql.NullTime
	err := row.Scan(&job.ID, &job.RepoID, &jobType, &status, &job.Progress,
		&job.ErrorMessage, &job.Attempt, &job.MaxAttempts,
		&started, &completed, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	job.Type = types.JobType(jobType)
	job.Status = types.JobStatus(status)
	if started.Valid {
		t := started.Time
		job.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func (s *SQLiteStorage) CreateJob(ctx context.Context, job *types.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.RepoID, string(job.Type), string(job.Status), job.Progress,
		job.ErrorMessage, job.Attempt, job.MaxAttempts,
		job.StartedAt, job.CompletedAt, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (s *SQLiteStorage) UpdateJob(ctx context.Context, job *types.Job) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, progress = ?, error_message = ?, attempt = ?,
			started_at = ?, completed_at = ?
		WHERE id = ?`,
		string(job.Status), job.Progress, job.ErrorMessage, job.Attempt,
		job.StartedAt, job.CompletedAt, job.ID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) queryJobs(ctx context.Context, query string, args ...any) ([]*types.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListPendingJobs returns pending jobs oldest first, up to limit.
func (s *SQLiteStorage) ListPendingJobs(ctx context.Context, limit int) ([]*types.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		string(types.JobPending), limit)
}

// ListJobsForRepo returns a repository's jobs newest first, up to limit.
func (s *SQLiteStorage) ListJobsForRepo(ctx context.Context, repoID string, limit int) ([]*types.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE repo_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		repoID, limit)
}

// LatestJobForRepo returns the most recently created job of the given type.
func (s *SQLiteStorage) LatestJobForRepo(ctx context.Context, repoID string, jobType types.JobType) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE repo_id = ? AND type = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		repoID, string(jobType))
	return scanJob(row)
}

// Chunk operations

const chunkColumns = `id, repo_id, file_path, start_line, end_line, symbol_type,
	symbol_name, language, content, token_count, embedding_index, created_at`

func scanChunk(row interface{ Scan(...any) error }) (*types.CodeChunk, error) {
	var chunk types.CodeChunk
	err := row.Scan(&chunk.ID, &chunk.RepoID, &chunk.FilePath, &chunk.StartLine,
		&chunk.EndLine, &chunk.SymbolType, &chunk.SymbolName, &chunk.Language,
		&chunk.Content, &chunk.TokenCount, &chunk.EmbeddingIndex, &chunk.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}
	return &chunk, nil
}

// InsertChunks writes a batch of chunks in a single transaction.
func (s *SQLiteStorage) InsertChunks(ctx context.Context, chunks []*types.CodeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (`+chunkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, chunk := range chunks {
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = now
		}
		_, err := stmt.ExecContext(ctx,
			chunk.ID, chunk.RepoID, chunk.FilePath, chunk.StartLine, chunk.EndLine,
			chunk.SymbolType, chunk.SymbolName, chunk.Language, chunk.Content,
			chunk.TokenCount, chunk.EmbeddingIndex, chunk.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
	}

	return tx.Commit()
}

// GetChunksByIDs fetches chunks and returns them in the order requested.
// Missing IDs are silently omitted.
func (s *SQLiteStorage) GetChunksByIDs(ctx context.Context, ids []string) ([]*types.CodeChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*types.CodeChunk, len(ids))
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[chunk.ID] = chunk
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]*types.CodeChunk, 0, len(ids))
	for _, id := range ids {
		if chunk, ok := byID[id]; ok {
			ordered = append(ordered, chunk)
		}
	}
	return ordered, nil
}

func (s *SQLiteStorage) DeleteChunksForRepo(ctx context.Context, repoID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE repo_id = ?`, repoID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) CountChunksForRepo(ctx context.Context, repoID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE repo_id = ?`, repoID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// Tutor session operations

func scanSession(row interface{ Scan(...any) error }) (*types.TutorSession, error) {
	var session types.TutorSession
	err := row.Scan(&session.ID, &session.RepoID, &session.RepoContextSummary,
		&session.RollingSummary, &session.CreatedAt, &session.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &session, nil
}

func (s *SQLiteStorage) CreateSession(ctx context.Context, session *types.TutorSession) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastActivityAt.IsZero() {
		session.LastActivityAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tutor_sessions (id, repo_id, repo_context_summary, rolling_summary, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.RepoID, session.RepoContextSummary,
		session.RollingSummary, session.CreatedAt, session.LastActivityAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetSession(ctx context.Context, id string) (*types.TutorSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo_id, repo_context_summary, rolling_summary, created_at, last_activity_at
		FROM tutor_sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *SQLiteStorage) UpdateSession(ctx context.Context, session *types.TutorSession) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tutor_sessions
		SET rolling_summary = ?, last_activity_at = ?
		WHERE id = ?`,
		session.RollingSummary, session.LastActivityAt, session.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return types.ErrNotFound
	}
	return nil
}

// DeleteExpiredSessions removes sessions idle for longer than ttl and
// returns how many were removed.
func (s *SQLiteStorage) DeleteExpiredSessions(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	result, err := s.db.ExecContext(ctx, `DELETE FROM tutor_sessions WHERE last_activity_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// Tutor message operations

func (s *SQLiteStorage) CreateMessage(ctx context.Context, msg *types.TutorMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	refs, err := json.Marshal(msg.References)
	if err != nil {
		return fmt.Errorf("failed to marshal references: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tutor_messages (id, session_id, role, content, references_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, string(refs), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListMessages returns a session's messages in chronological order.
func (s *SQLiteStorage) ListMessages(ctx context.Context, sessionID string) ([]*types.TutorMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, references_json, created_at
		FROM tutor_messages WHERE session_id = ?
		ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*types.TutorMessage
	for rows.Next() {
		var msg types.TutorMessage
		var refs string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &refs, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(refs), &msg.References); err != nil {
			return nil, fmt.Errorf("failed to parse references: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}
