package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/quinnhq/dispatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS service_requests (
	id                    TEXT PRIMARY KEY,
	call_id               TEXT,
	caller_phone          TEXT,
	caller_phone_alias    TEXT,
	caller_name           TEXT,
	caller_address        TEXT,
	zip_code              TEXT,
	service_type          TEXT,
	description           TEXT,
	timeline              TEXT,
	call_transcript       TEXT,
	call_summary          TEXT,
	call_duration_seconds INTEGER NOT NULL DEFAULT 0,
	tracking_token        TEXT NOT NULL UNIQUE,
	status                TEXT NOT NULL DEFAULT 'pending',
	discovery_status      TEXT NOT NULL DEFAULT 'pending',
	selected_quote_id     TEXT,
	context               TEXT NOT NULL DEFAULT '[]',
	sms_sent_at           DATETIME,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS businesses (
	id                 TEXT PRIMARY KEY,
	service_request_id TEXT NOT NULL REFERENCES service_requests(id),
	place_id           TEXT,
	name               TEXT NOT NULL,
	phone              TEXT,
	email              TEXT,
	website            TEXT,
	address            TEXT,
	latitude           REAL,
	longitude          REAL,
	rating             REAL,
	review_count       INTEGER,
	category           TEXT,
	extraction_status  TEXT NOT NULL DEFAULT 'pending',
	form_status        TEXT NOT NULL DEFAULT 'pending',
	raw_scrape         BLOB,
	parsed_contacts    BLOB,
	extracted_at       DATETIME,
	created_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	job_type           TEXT NOT NULL,
	service_request_id TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	payload            TEXT NOT NULL DEFAULT '{}',
	attempts           INTEGER NOT NULL DEFAULT 0,
	max_attempts       INTEGER NOT NULL DEFAULT 3,
	scheduled_for      DATETIME NOT NULL,
	last_error         TEXT,
	result             TEXT,
	started_at         DATETIME,
	completed_at       DATETIME,
	created_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id                 TEXT PRIMARY KEY,
	service_request_id TEXT NOT NULL,
	direction          TEXT NOT NULL,
	from_phone         TEXT,
	to_phone           TEXT,
	body               TEXT NOT NULL,
	provider_sid       TEXT,
	status             TEXT NOT NULL DEFAULT 'pending',
	error_detail       TEXT,
	created_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_questions (
	id                 TEXT PRIMARY KEY,
	service_request_id TEXT NOT NULL,
	business_id        TEXT,
	source_email_id    TEXT,
	question           TEXT NOT NULL,
	answer             TEXT,
	status             TEXT NOT NULL DEFAULT 'asked',
	asked_at           DATETIME NOT NULL,
	answered_at        DATETIME
);

CREATE TABLE IF NOT EXISTS quotes (
	id                 TEXT PRIMARY KEY,
	service_request_id TEXT NOT NULL,
	business_id        TEXT NOT NULL,
	business_name      TEXT NOT NULL,
	price_usd          REAL NOT NULL DEFAULT 0,
	availability       TEXT,
	notes              TEXT,
	status             TEXT NOT NULL DEFAULT 'pending',
	presented_at       DATETIME,
	created_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_requests_token ON service_requests(tracking_token);
CREATE INDEX IF NOT EXISTS idx_requests_phone ON service_requests(caller_phone, created_at);
CREATE INDEX IF NOT EXISTS idx_businesses_request ON businesses(service_request_id);
CREATE INDEX IF NOT EXISTS idx_businesses_pending ON businesses(service_request_id, extraction_status);
CREATE INDEX IF NOT EXISTS idx_jobs_pending ON jobs(status, scheduled_for, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_request ON messages(service_request_id, created_at);
CREATE INDEX IF NOT EXISTS idx_questions_open ON pending_questions(service_request_id, status);
CREATE INDEX IF NOT EXISTS idx_quotes_request ON quotes(service_request_id, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Service requests ---

const requestColumns = `id, call_id, caller_phone, caller_phone_alias, caller_name,
	caller_address, zip_code, service_type, description, timeline,
	call_transcript, call_summary, call_duration_seconds, tracking_token,
	status, discovery_status, selected_quote_id, context, sms_sent_at,
	created_at, updated_at`

func (s *SQLiteStore) CreateServiceRequest(ctx context.Context, req *model.ServiceRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = model.RequestPending
	}
	if req.DiscoveryStatus == "" {
		req.DiscoveryStatus = model.StagePending
	}

	ctxJSON, err := json.Marshal(req.Context)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal request context")
	}
	if req.Context == nil {
		ctxJSON = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO service_requests (`+requestColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.CallID, req.CallerPhone, req.CallerPhoneAlias, req.CallerName,
		req.CallerAddress, req.ZipCode, req.ServiceType, req.Description, req.Timeline,
		req.CallTranscript, req.CallSummary, req.CallDurationSecs, req.TrackingToken,
		string(req.Status), string(req.DiscoveryStatus), req.SelectedQuoteID, string(ctxJSON), req.SMSSentAt,
		req.CreatedAt, req.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert service request")
}

func (s *SQLiteStore) GetServiceRequest(ctx context.Context, id string) (*model.ServiceRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM service_requests WHERE id = ?`, id)
	return scanRequest(row)
}

func (s *SQLiteStore) GetServiceRequestByToken(ctx context.Context, token string) (*model.ServiceRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM service_requests WHERE tracking_token = ?`, token)
	return scanRequest(row)
}

func (s *SQLiteStore) FindServiceRequestByPhone(ctx context.Context, phone string) (*model.ServiceRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM service_requests
		 WHERE caller_phone = ? ORDER BY created_at DESC LIMIT 1`, phone)
	req, err := scanRequest(row)
	if err != nil && eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return req, err
}

func (s *SQLiteStore) ListServiceRequests(ctx context.Context, limit, offset int) ([]model.ServiceRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM service_requests
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list service requests")
	}
	defer rows.Close()

	var reqs []model.ServiceRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *r)
	}
	return reqs, eris.Wrap(rows.Err(), "sqlite: list service requests iterate")
}

func (s *SQLiteStore) UpdateRequestStatus(ctx context.Context, id string, status model.RequestStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_requests SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update request status %s", id)
	}
	return checkRowsAffected(res, "service request", id)
}

func (s *SQLiteStore) SetDiscoveryStatus(ctx context.Context, id string, status model.StageStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_requests SET discovery_status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set discovery status %s", id)
	}
	return checkRowsAffected(res, "service request", id)
}

func (s *SQLiteStore) SetSelectedQuote(ctx context.Context, requestID, quoteID string) error {
	// Write-once: a request that already carries a selected quote is never
	// overwritten.
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_requests SET selected_quote_id = ?, status = ?, updated_at = ?
		 WHERE id = ? AND selected_quote_id IS NULL`,
		quoteID, string(model.RequestContractorSelected), time.Now().UTC(), requestID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set selected quote %s", requestID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("service request %s not found or quote already selected", requestID)
	}
	return nil
}

func (s *SQLiteStore) AppendContextEntry(ctx context.Context, requestID string, entry model.ContextEntry) error {
	req, err := s.GetServiceRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now().UTC()
	}
	entries := append(req.Context, entry)
	ctxJSON, err := json.Marshal(entries)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal context entries")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_requests SET context = ?, updated_at = ? WHERE id = ?`,
		string(ctxJSON), time.Now().UTC(), requestID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: append context %s", requestID)
	}
	return checkRowsAffected(res, "service request", requestID)
}

func (s *SQLiteStore) SetSMSSentAt(ctx context.Context, requestID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_requests SET sms_sent_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), requestID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set sms sent %s", requestID)
	}
	return checkRowsAffected(res, "service request", requestID)
}

// --- Businesses ---

const businessColumns = `id, service_request_id, place_id, name, phone, email,
	website, address, latitude, longitude, rating, review_count, category,
	extraction_status, form_status, raw_scrape, parsed_contacts, extracted_at, created_at`

func (s *SQLiteStore) BulkInsertBusinesses(ctx context.Context, businesses []model.Business) (int, error) {
	if len(businesses) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin business insert")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for i := range businesses {
		b := &businesses[i]
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		b.CreatedAt = now
		if b.ExtractionStatus == "" {
			b.ExtractionStatus = model.StagePending
		}
		if b.FormStatus == "" {
			b.FormStatus = model.StagePending
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO businesses (`+businessColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.ServiceRequestID, b.PlaceID, b.Name, b.Phone, b.Email,
			b.Website, b.Address, b.Latitude, b.Longitude, b.Rating, b.ReviewCount, b.Category,
			string(b.ExtractionStatus), string(b.FormStatus), b.RawScrape, b.ParsedContacts, b.ExtractedAt, b.CreatedAt,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert business %s", b.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit business insert")
	}
	return len(businesses), nil
}

func (s *SQLiteStore) ListBusinesses(ctx context.Context, requestID string) ([]model.Business, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+businessColumns+` FROM businesses
		 WHERE service_request_id = ?
		 ORDER BY rating DESC NULLS LAST, review_count DESC NULLS LAST`, requestID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list businesses")
	}
	defer rows.Close()
	return collectBusinesses(rows)
}

func (s *SQLiteStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE id = ?`, id)
	return scanBusiness(row)
}

func (s *SQLiteStore) PendingExtraction(ctx context.Context, requestID string, limit int) ([]model.Business, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+businessColumns+` FROM businesses
		 WHERE service_request_id = ? AND extraction_status = 'pending'
		   AND website IS NOT NULL AND website != ''
		 ORDER BY created_at LIMIT ?`, requestID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending extraction")
	}
	defer rows.Close()
	return collectBusinesses(rows)
}

func (s *SQLiteStore) CountBusinesses(ctx context.Context, requestID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM businesses WHERE service_request_id = ?`, requestID).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count businesses")
}

func (s *SQLiteStore) CountPendingExtraction(ctx context.Context, requestID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM businesses
		 WHERE service_request_id = ? AND extraction_status = 'pending'
		   AND website IS NOT NULL AND website != ''`, requestID).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count pending extraction")
}

func (s *SQLiteStore) SetExtractionStatus(ctx context.Context, businessID string, status model.StageStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE businesses SET extraction_status = ? WHERE id = ?`,
		string(status), businessID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set extraction status %s", businessID)
	}
	return checkRowsAffected(res, "business", businessID)
}

func (s *SQLiteStore) ApplyContactUpdate(ctx context.Context, businessID string, update model.ContactUpdate) error {
	query := `UPDATE businesses SET extraction_status = 'completed', extracted_at = ?`
	args := []any{time.Now().UTC()}

	if update.Phone != nil {
		query += `, phone = ?`
		args = append(args, *update.Phone)
	}
	if update.Email != nil {
		query += `, email = ?`
		args = append(args, *update.Email)
	}
	if update.Address != nil {
		query += `, address = ?`
		args = append(args, *update.Address)
	}
	if update.RawScrape != nil {
		query += `, raw_scrape = ?`
		args = append(args, update.RawScrape)
	}
	if update.ParsedContacts != nil {
		query += `, parsed_contacts = ?`
		args = append(args, update.ParsedContacts)
	}
	query += ` WHERE id = ?`
	args = append(args, businessID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: apply contact update %s", businessID)
	}
	return checkRowsAffected(res, "business", businessID)
}

func (s *SQLiteStore) DeleteBusinesses(ctx context.Context, requestID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM businesses WHERE service_request_id = ?`, requestID)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete businesses")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// --- Jobs ---

const jobColumns = `id, job_type, service_request_id, status, payload, attempts,
	max_attempts, scheduled_for, last_error, result, started_at, completed_at, created_at`

func (s *SQLiteStore) EnqueueJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.Status = model.JobPending
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = model.DefaultMaxAttempts
	}
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = now
	}

	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job payload")
	}
	if job.Payload == nil {
		payloadJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, job_type, service_request_id, status, payload,
		   attempts, max_attempts, scheduled_for, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Type), job.ServiceRequestID, string(job.Status), string(payloadJSON),
		job.Attempts, job.MaxAttempts, job.ScheduledFor.UTC(), job.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: enqueue job")
}

func (s *SQLiteStore) NextPendingJob(ctx context.Context, now time.Time) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'pending' AND scheduled_for <= ?
		 ORDER BY scheduled_for, created_at LIMIT 1`, now.UTC())
	job, err := scanJob(row)
	if err != nil && eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return job, err
}

func (s *SQLiteStore) MarkJobProcessing(ctx context.Context, jobID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'processing', attempts = attempts + 1, started_at = ?
		 WHERE id = ? AND status = 'pending'`,
		time.Now().UTC(), jobID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: mark job processing %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return 0, eris.Errorf("job not found or not pending: %s", jobID)
	}

	var attempts int
	err = s.db.QueryRowContext(ctx, `SELECT attempts FROM jobs WHERE id = ?`, jobID).Scan(&attempts)
	return attempts, eris.Wrapf(err, "sqlite: read job attempts %s", jobID)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job result")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'completed', result = ?, completed_at = ? WHERE id = ?`,
		string(resultJSON), time.Now().UTC(), jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) RescheduleJob(ctx context.Context, jobID, errMsg string, runAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'pending', last_error = ?, scheduled_for = ? WHERE id = ?`,
		errMsg, runAt.UTC(), jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reschedule job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', last_error = ?, completed_at = ? WHERE id = ?`,
		errMsg, time.Now().UTC(), jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

// --- Messages ---

func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.CreatedAt = time.Now().UTC()
	if msg.Status == "" {
		msg.Status = model.DeliveryPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, service_request_id, direction, from_phone, to_phone,
		   body, provider_sid, status, error_detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ServiceRequestID, string(msg.Direction), msg.FromPhone, msg.ToPhone,
		msg.Body, msg.ProviderSID, string(msg.Status), msg.ErrorDetail, msg.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert message")
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, requestID string, n int) ([]model.Message, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, service_request_id, direction, from_phone, to_phone, body,
		   provider_sid, status, error_detail, created_at
		 FROM (
		   SELECT * FROM messages WHERE service_request_id = ?
		   ORDER BY created_at DESC LIMIT ?
		 ) ORDER BY created_at`, requestID, n)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent messages")
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		err := rows.Scan(&m.ID, &m.ServiceRequestID, &m.Direction, &m.FromPhone, &m.ToPhone,
			&m.Body, &m.ProviderSID, &m.Status, &m.ErrorDetail, &m.CreatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan message")
		}
		msgs = append(msgs, m)
	}
	return msgs, eris.Wrap(rows.Err(), "sqlite: recent messages iterate")
}

// --- Pending questions ---

func (s *SQLiteStore) CreatePendingQuestion(ctx context.Context, q *model.PendingQuestion) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.AskedAt.IsZero() {
		q.AskedAt = time.Now().UTC()
	}
	if q.Status == "" {
		q.Status = model.QuestionAsked
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_questions (id, service_request_id, business_id,
		   source_email_id, question, answer, status, asked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.ServiceRequestID, q.BusinessID, q.SourceEmailID, q.Question, q.Answer,
		string(q.Status), q.AskedAt,
	)
	return eris.Wrap(err, "sqlite: create pending question")
}

func (s *SQLiteStore) OpenQuestion(ctx context.Context, requestID string) (*model.PendingQuestion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, service_request_id, business_id, source_email_id, question,
		   answer, status, asked_at, answered_at
		 FROM pending_questions
		 WHERE service_request_id = ? AND status = 'asked'
		 ORDER BY asked_at LIMIT 1`, requestID)

	var q model.PendingQuestion
	var answer sql.NullString
	err := row.Scan(&q.ID, &q.ServiceRequestID, &q.BusinessID, &q.SourceEmailID,
		&q.Question, &answer, &q.Status, &q.AskedAt, &q.AnsweredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open question")
	}
	q.Answer = answer.String
	return &q, nil
}

func (s *SQLiteStore) MarkQuestionAnswered(ctx context.Context, questionID, answer string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_questions SET status = 'answered', answer = ?, answered_at = ?
		 WHERE id = ? AND status = 'asked'`,
		answer, time.Now().UTC(), questionID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: answer question %s", questionID)
	}
	return checkRowsAffected(res, "pending question", questionID)
}

func (s *SQLiteStore) MarkQuestionReplied(ctx context.Context, questionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_questions SET status = 'replied' WHERE id = ?`, questionID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark question replied %s", questionID)
	}
	return checkRowsAffected(res, "pending question", questionID)
}

// --- Quotes ---

const quoteColumns = `id, service_request_id, business_id, business_name,
	price_usd, availability, notes, status, presented_at, created_at`

func (s *SQLiteStore) CreateQuote(ctx context.Context, q *model.Quote) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	q.CreatedAt = time.Now().UTC()
	if q.Status == "" {
		q.Status = model.QuotePending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quotes (`+quoteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.ServiceRequestID, q.BusinessID, q.BusinessName,
		q.PriceUSD, q.Availability, q.Notes, string(q.Status), q.PresentedAt, q.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: create quote")
}

func (s *SQLiteStore) GetQuote(ctx context.Context, id string) (*model.Quote, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+quoteColumns+` FROM quotes WHERE id = ?`, id)
	return scanQuote(row)
}

func (s *SQLiteStore) PresentedQuotes(ctx context.Context, requestID string) ([]model.Quote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+quoteColumns+` FROM quotes
		 WHERE service_request_id = ? AND status = 'presented'
		 ORDER BY presented_at, created_at`, requestID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: presented quotes")
	}
	defer rows.Close()

	var quotes []model.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, *q)
	}
	return quotes, eris.Wrap(rows.Err(), "sqlite: presented quotes iterate")
}

func (s *SQLiteStore) MarkQuotePresented(ctx context.Context, quoteID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quotes SET status = 'presented', presented_at = ? WHERE id = ?`,
		time.Now().UTC(), quoteID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: present quote %s", quoteID)
	}
	return checkRowsAffected(res, "quote", quoteID)
}

func (s *SQLiteStore) MarkQuoteSelected(ctx context.Context, quoteID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quotes SET status = 'selected' WHERE id = ? AND status = 'presented'`, quoteID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: select quote %s", quoteID)
	}
	return checkRowsAffected(res, "quote", quoteID)
}

func (s *SQLiteStore) RejectOtherPresented(ctx context.Context, requestID, selectedQuoteID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quotes SET status = 'rejected'
		 WHERE service_request_id = ? AND status = 'presented' AND id != ?`,
		requestID, selectedQuoteID)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reject other quotes")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// --- helpers ---

// ErrNotFound marks lookups for rows that do not exist.
var ErrNotFound = eris.New("not found")

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRequest(row scannable) (*model.ServiceRequest, error) {
	var r model.ServiceRequest
	var ctxJSON string
	var selectedQuote sql.NullString
	var smsSentAt sql.NullTime

	err := row.Scan(&r.ID, &r.CallID, &r.CallerPhone, &r.CallerPhoneAlias, &r.CallerName,
		&r.CallerAddress, &r.ZipCode, &r.ServiceType, &r.Description, &r.Timeline,
		&r.CallTranscript, &r.CallSummary, &r.CallDurationSecs, &r.TrackingToken,
		&r.Status, &r.DiscoveryStatus, &selectedQuote, &ctxJSON, &smsSentAt,
		&r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan service request")
	}

	if selectedQuote.Valid {
		r.SelectedQuoteID = &selectedQuote.String
	}
	if smsSentAt.Valid {
		t := smsSentAt.Time
		r.SMSSentAt = &t
	}
	if err := json.Unmarshal([]byte(ctxJSON), &r.Context); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal request context")
	}
	return &r, nil
}

func scanBusiness(row scannable) (*model.Business, error) {
	var b model.Business
	var extractedAt sql.NullTime

	err := row.Scan(&b.ID, &b.ServiceRequestID, &b.PlaceID, &b.Name, &b.Phone, &b.Email,
		&b.Website, &b.Address, &b.Latitude, &b.Longitude, &b.Rating, &b.ReviewCount, &b.Category,
		&b.ExtractionStatus, &b.FormStatus, &b.RawScrape, &b.ParsedContacts, &extractedAt, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan business")
	}
	if extractedAt.Valid {
		t := extractedAt.Time
		b.ExtractedAt = &t
	}
	return &b, nil
}

func collectBusinesses(rows *sql.Rows) ([]model.Business, error) {
	var businesses []model.Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		businesses = append(businesses, *b)
	}
	return businesses, eris.Wrap(rows.Err(), "sqlite: iterate businesses")
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var payloadJSON string
	var resultJSON, lastError sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&j.ID, &j.Type, &j.ServiceRequestID, &j.Status, &payloadJSON,
		&j.Attempts, &j.MaxAttempts, &j.ScheduledFor, &lastError, &resultJSON,
		&startedAt, &completedAt, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	j.LastError = lastError.String
	if err := json.Unmarshal([]byte(payloadJSON), &j.Payload); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal job payload")
	}
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &j.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal job result")
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func scanQuote(row scannable) (*model.Quote, error) {
	var q model.Quote
	var presentedAt sql.NullTime

	err := row.Scan(&q.ID, &q.ServiceRequestID, &q.BusinessID, &q.BusinessName,
		&q.PriceUSD, &q.Availability, &q.Notes, &q.Status, &presentedAt, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan quote")
	}
	if presentedAt.Valid {
		t := presentedAt.Time
		q.PresentedAt = &t
	}
	return &q, nil
}
