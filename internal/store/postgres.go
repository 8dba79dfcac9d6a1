package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/quinnhq/dispatch/internal/db"
	"github.com/quinnhq/dispatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection. These
// run every poll tick or inbound webhook; the method bodies reuse the same
// text so pgx routes them through the prepared statements.
var preparedStatements = map[string]string{
	"next_pending_job": nextPendingJobSQL,
	"find_by_phone":    findByPhoneSQL,
	"open_question":    openQuestionSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS service_requests (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
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
	context               JSONB NOT NULL DEFAULT '[]',
	sms_sent_at           TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS businesses (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	service_request_id TEXT NOT NULL REFERENCES service_requests(id),
	place_id           TEXT,
	name               TEXT NOT NULL,
	phone              TEXT,
	email              TEXT,
	website            TEXT,
	address            TEXT,
	latitude           DOUBLE PRECISION,
	longitude          DOUBLE PRECISION,
	rating             DOUBLE PRECISION,
	review_count       INTEGER,
	category           TEXT,
	extraction_status  TEXT NOT NULL DEFAULT 'pending',
	form_status        TEXT NOT NULL DEFAULT 'pending',
	raw_scrape         BYTEA,
	parsed_contacts    JSONB,
	extracted_at       TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_type           TEXT NOT NULL,
	service_request_id TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	payload            JSONB NOT NULL DEFAULT '{}',
	attempts           INTEGER NOT NULL DEFAULT 0,
	max_attempts       INTEGER NOT NULL DEFAULT 3,
	scheduled_for      TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_error         TEXT,
	result             JSONB,
	started_at         TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	service_request_id TEXT NOT NULL,
	direction          TEXT NOT NULL,
	from_phone         TEXT,
	to_phone           TEXT,
	body               TEXT NOT NULL,
	provider_sid       TEXT,
	status             TEXT NOT NULL DEFAULT 'pending',
	error_detail       TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pending_questions (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	service_request_id TEXT NOT NULL,
	business_id        TEXT,
	source_email_id    TEXT,
	question           TEXT NOT NULL,
	answer             TEXT,
	status             TEXT NOT NULL DEFAULT 'asked',
	asked_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	answered_at        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS quotes (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	service_request_id TEXT NOT NULL,
	business_id        TEXT NOT NULL,
	business_name      TEXT NOT NULL,
	price_usd          DOUBLE PRECISION NOT NULL DEFAULT 0,
	availability       TEXT,
	notes              TEXT,
	status             TEXT NOT NULL DEFAULT 'pending',
	presented_at       TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_requests_token ON service_requests(tracking_token);
CREATE INDEX IF NOT EXISTS idx_requests_phone ON service_requests(caller_phone, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_businesses_request ON businesses(service_request_id);
CREATE INDEX IF NOT EXISTS idx_businesses_pending ON businesses(service_request_id, extraction_status);
CREATE INDEX IF NOT EXISTS idx_jobs_pending ON jobs(status, scheduled_for, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_request ON messages(service_request_id, created_at);
CREATE INDEX IF NOT EXISTS idx_questions_open ON pending_questions(service_request_id, status);
CREATE INDEX IF NOT EXISTS idx_quotes_request ON quotes(service_request_id, status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// --- Service requests ---

const pgRequestColumns = `id, call_id, caller_phone, caller_phone_alias, caller_name,
	caller_address, zip_code, service_type, description, timeline,
	call_transcript, call_summary, call_duration_seconds, tracking_token,
	status, discovery_status, selected_quote_id, context, sms_sent_at,
	created_at, updated_at`

func (s *PostgresStore) CreateServiceRequest(ctx context.Context, req *model.ServiceRequest) error {
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
		return eris.Wrap(err, "postgres: marshal request context")
	}
	if req.Context == nil {
		ctxJSON = []byte("[]")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO service_requests (`+pgRequestColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		req.ID, req.CallID, req.CallerPhone, req.CallerPhoneAlias, req.CallerName,
		req.CallerAddress, req.ZipCode, req.ServiceType, req.Description, req.Timeline,
		req.CallTranscript, req.CallSummary, req.CallDurationSecs, req.TrackingToken,
		string(req.Status), string(req.DiscoveryStatus), req.SelectedQuoteID, ctxJSON, req.SMSSentAt,
		req.CreatedAt, req.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert service request")
}

func (s *PostgresStore) GetServiceRequest(ctx context.Context, id string) (*model.ServiceRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgRequestColumns+` FROM service_requests WHERE id = $1`, id)
	return pgScanRequest(row)
}

func (s *PostgresStore) GetServiceRequestByToken(ctx context.Context, token string) (*model.ServiceRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgRequestColumns+` FROM service_requests WHERE tracking_token = $1`, token)
	return pgScanRequest(row)
}

var findByPhoneSQL = `SELECT ` + pgRequestColumns + ` FROM service_requests
	 WHERE caller_phone = $1 ORDER BY created_at DESC LIMIT 1`

func (s *PostgresStore) FindServiceRequestByPhone(ctx context.Context, phone string) (*model.ServiceRequest, error) {
	row := s.pool.QueryRow(ctx, findByPhoneSQL, phone)
	req, err := pgScanRequest(row)
	if err != nil && eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return req, err
}

func (s *PostgresStore) ListServiceRequests(ctx context.Context, limit, offset int) ([]model.ServiceRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgRequestColumns+` FROM service_requests
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list service requests")
	}
	defer rows.Close()

	var reqs []model.ServiceRequest
	for rows.Next() {
		r, err := pgScanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *r)
	}
	return reqs, eris.Wrap(rows.Err(), "postgres: list service requests iterate")
}

func (s *PostgresStore) UpdateRequestStatus(ctx context.Context, id string, status model.RequestStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE service_requests SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update request status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("service request not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) SetDiscoveryStatus(ctx context.Context, id string, status model.StageStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE service_requests SET discovery_status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set discovery status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("service request not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) SetSelectedQuote(ctx context.Context, requestID, quoteID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE service_requests SET selected_quote_id = $1, status = $2, updated_at = $3
		 WHERE id = $4 AND selected_quote_id IS NULL`,
		quoteID, string(model.RequestContractorSelected), time.Now().UTC(), requestID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set selected quote %s", requestID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("service request %s not found or quote already selected", requestID)
	}
	return nil
}

func (s *PostgresStore) AppendContextEntry(ctx context.Context, requestID string, entry model.ContextEntry) error {
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now().UTC()
	}
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal context entry")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE service_requests SET context = context || $1::jsonb, updated_at = $2 WHERE id = $3`,
		entryJSON, time.Now().UTC(), requestID)
	if err != nil {
		return eris.Wrapf(err, "postgres: append context %s", requestID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("service request not found: %s", requestID)
	}
	return nil
}

func (s *PostgresStore) SetSMSSentAt(ctx context.Context, requestID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE service_requests SET sms_sent_at = $1, updated_at = $2 WHERE id = $3`,
		at.UTC(), time.Now().UTC(), requestID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set sms sent %s", requestID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("service request not found: %s", requestID)
	}
	return nil
}

// --- Businesses ---

const pgBusinessColumns = `id, service_request_id, place_id, name, phone, email,
	website, address, latitude, longitude, rating, review_count, category,
	extraction_status, form_status, raw_scrape, parsed_contacts, extracted_at, created_at`

var businessCopyColumns = []string{
	"id", "service_request_id", "place_id", "name", "phone", "email",
	"website", "address", "latitude", "longitude", "rating", "review_count",
	"category", "extraction_status", "form_status", "created_at",
}

func (s *PostgresStore) BulkInsertBusinesses(ctx context.Context, businesses []model.Business) (int, error) {
	if len(businesses) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(businesses))
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
		rows = append(rows, []any{
			b.ID, b.ServiceRequestID, b.PlaceID, b.Name, b.Phone, b.Email,
			b.Website, b.Address, b.Latitude, b.Longitude, b.Rating, b.ReviewCount,
			b.Category, string(b.ExtractionStatus), string(b.FormStatus), b.CreatedAt,
		})
	}

	n, err := db.CopyFrom(ctx, s.pool, "businesses", businessCopyColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: bulk insert businesses")
	}
	return int(n), nil
}

func (s *PostgresStore) ListBusinesses(ctx context.Context, requestID string) ([]model.Business, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgBusinessColumns+` FROM businesses
		 WHERE service_request_id = $1
		 ORDER BY rating DESC NULLS LAST, review_count DESC NULLS LAST`, requestID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list businesses")
	}
	defer rows.Close()
	return pgCollectBusinesses(rows)
}

func (s *PostgresStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgBusinessColumns+` FROM businesses WHERE id = $1`, id)
	return pgScanBusiness(row)
}

func (s *PostgresStore) PendingExtraction(ctx context.Context, requestID string, limit int) ([]model.Business, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgBusinessColumns+` FROM businesses
		 WHERE service_request_id = $1 AND extraction_status = 'pending'
		   AND website IS NOT NULL AND website != ''
		 ORDER BY created_at LIMIT $2`, requestID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pending extraction")
	}
	defer rows.Close()
	return pgCollectBusinesses(rows)
}

func (s *PostgresStore) CountBusinesses(ctx context.Context, requestID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM businesses WHERE service_request_id = $1`, requestID).Scan(&n)
	return n, eris.Wrap(err, "postgres: count businesses")
}

func (s *PostgresStore) CountPendingExtraction(ctx context.Context, requestID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM businesses
		 WHERE service_request_id = $1 AND extraction_status = 'pending'
		   AND website IS NOT NULL AND website != ''`, requestID).Scan(&n)
	return n, eris.Wrap(err, "postgres: count pending extraction")
}

func (s *PostgresStore) SetExtractionStatus(ctx context.Context, businessID string, status model.StageStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE businesses SET extraction_status = $1 WHERE id = $2`,
		string(status), businessID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set extraction status %s", businessID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("business not found: %s", businessID)
	}
	return nil
}

func (s *PostgresStore) ApplyContactUpdate(ctx context.Context, businessID string, update model.ContactUpdate) error {
	query := `UPDATE businesses SET extraction_status = 'completed', extracted_at = $1`
	args := []any{time.Now().UTC()}
	idx := 2

	appendSet := func(col string, val any) {
		query += `, ` + col + ` = $` + strconv.Itoa(idx)
		args = append(args, val)
		idx++
	}
	if update.Phone != nil {
		appendSet("phone", *update.Phone)
	}
	if update.Email != nil {
		appendSet("email", *update.Email)
	}
	if update.Address != nil {
		appendSet("address", *update.Address)
	}
	if update.RawScrape != nil {
		appendSet("raw_scrape", update.RawScrape)
	}
	if update.ParsedContacts != nil {
		appendSet("parsed_contacts", update.ParsedContacts)
	}
	query += ` WHERE id = $` + strconv.Itoa(idx)
	args = append(args, businessID)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: apply contact update %s", businessID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("business not found: %s", businessID)
	}
	return nil
}

func (s *PostgresStore) DeleteBusinesses(ctx context.Context, requestID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM businesses WHERE service_request_id = $1`, requestID)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete businesses")
	}
	return int(tag.RowsAffected()), nil
}

// --- Jobs ---

const pgJobColumns = `id, job_type, service_request_id, status, payload, attempts,
	max_attempts, scheduled_for, last_error, result, started_at, completed_at, created_at`

func (s *PostgresStore) EnqueueJob(ctx context.Context, job *model.Job) error {
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
		return eris.Wrap(err, "postgres: marshal job payload")
	}
	if job.Payload == nil {
		payloadJSON = []byte("{}")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, job_type, service_request_id, status, payload,
		   attempts, max_attempts, scheduled_for, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, string(job.Type), job.ServiceRequestID, string(job.Status), payloadJSON,
		job.Attempts, job.MaxAttempts, job.ScheduledFor.UTC(), job.CreatedAt,
	)
	return eris.Wrap(err, "postgres: enqueue job")
}

var nextPendingJobSQL = `SELECT ` + pgJobColumns + ` FROM jobs
	 WHERE status = 'pending' AND scheduled_for <= $1
	 ORDER BY scheduled_for, created_at LIMIT 1`

func (s *PostgresStore) NextPendingJob(ctx context.Context, now time.Time) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, nextPendingJobSQL, now.UTC())
	job, err := pgScanJob(row)
	if err != nil && eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return job, err
}

func (s *PostgresStore) MarkJobProcessing(ctx context.Context, jobID string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'processing', attempts = attempts + 1, started_at = $1
		 WHERE id = $2 AND status = 'pending'
		 RETURNING attempts`,
		time.Now().UTC(), jobID).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, eris.Errorf("job not found or not pending: %s", jobID)
	}
	return attempts, eris.Wrapf(err, "postgres: mark job processing %s", jobID)
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job result")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', result = $1, completed_at = $2 WHERE id = $3`,
		resultJSON, time.Now().UTC(), jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) RescheduleJob(ctx context.Context, jobID, errMsg string, runAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'pending', last_error = $1, scheduled_for = $2 WHERE id = $3`,
		errMsg, runAt.UTC(), jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: reschedule job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', last_error = $1, completed_at = $2 WHERE id = $3`,
		errMsg, time.Now().UTC(), jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgJobColumns+` FROM jobs WHERE id = $1`, jobID)
	return pgScanJob(row)
}

// --- Messages ---

func (s *PostgresStore) InsertMessage(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.CreatedAt = time.Now().UTC()
	if msg.Status == "" {
		msg.Status = model.DeliveryPending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, service_request_id, direction, from_phone, to_phone,
		   body, provider_sid, status, error_detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID, msg.ServiceRequestID, string(msg.Direction), msg.FromPhone, msg.ToPhone,
		msg.Body, msg.ProviderSID, string(msg.Status), msg.ErrorDetail, msg.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert message")
}

func (s *PostgresStore) RecentMessages(ctx context.Context, requestID string, n int) ([]model.Message, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, service_request_id, direction, from_phone, to_phone, body,
		   provider_sid, status, error_detail, created_at
		 FROM (
		   SELECT * FROM messages WHERE service_request_id = $1
		   ORDER BY created_at DESC LIMIT $2
		 ) recent ORDER BY created_at`, requestID, n)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent messages")
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		err := rows.Scan(&m.ID, &m.ServiceRequestID, &m.Direction, &m.FromPhone, &m.ToPhone,
			&m.Body, &m.ProviderSID, &m.Status, &m.ErrorDetail, &m.CreatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan message")
		}
		msgs = append(msgs, m)
	}
	return msgs, eris.Wrap(rows.Err(), "postgres: recent messages iterate")
}

// --- Pending questions ---

func (s *PostgresStore) CreatePendingQuestion(ctx context.Context, q *model.PendingQuestion) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.AskedAt.IsZero() {
		q.AskedAt = time.Now().UTC()
	}
	if q.Status == "" {
		q.Status = model.QuestionAsked
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO pending_questions (id, service_request_id, business_id,
		   source_email_id, question, answer, status, asked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		q.ID, q.ServiceRequestID, q.BusinessID, q.SourceEmailID, q.Question, q.Answer,
		string(q.Status), q.AskedAt,
	)
	return eris.Wrap(err, "postgres: create pending question")
}

const openQuestionSQL = `SELECT id, service_request_id, business_id, source_email_id, question,
	   answer, status, asked_at, answered_at
	 FROM pending_questions
	 WHERE service_request_id = $1 AND status = 'asked'
	 ORDER BY asked_at LIMIT 1`

func (s *PostgresStore) OpenQuestion(ctx context.Context, requestID string) (*model.PendingQuestion, error) {
	var q model.PendingQuestion
	var answer *string
	err := s.pool.QueryRow(ctx, openQuestionSQL, requestID).
		Scan(&q.ID, &q.ServiceRequestID, &q.BusinessID, &q.SourceEmailID,
			&q.Question, &answer, &q.Status, &q.AskedAt, &q.AnsweredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open question")
	}
	if answer != nil {
		q.Answer = *answer
	}
	return &q, nil
}

func (s *PostgresStore) MarkQuestionAnswered(ctx context.Context, questionID, answer string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_questions SET status = 'answered', answer = $1, answered_at = $2
		 WHERE id = $3 AND status = 'asked'`,
		answer, time.Now().UTC(), questionID)
	if err != nil {
		return eris.Wrapf(err, "postgres: answer question %s", questionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("pending question not found: %s", questionID)
	}
	return nil
}

func (s *PostgresStore) MarkQuestionReplied(ctx context.Context, questionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_questions SET status = 'replied' WHERE id = $1`, questionID)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark question replied %s", questionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("pending question not found: %s", questionID)
	}
	return nil
}

// --- Quotes ---

const pgQuoteColumns = `id, service_request_id, business_id, business_name,
	price_usd, availability, notes, status, presented_at, created_at`

func (s *PostgresStore) CreateQuote(ctx context.Context, q *model.Quote) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	q.CreatedAt = time.Now().UTC()
	if q.Status == "" {
		q.Status = model.QuotePending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO quotes (`+pgQuoteColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		q.ID, q.ServiceRequestID, q.BusinessID, q.BusinessName,
		q.PriceUSD, q.Availability, q.Notes, string(q.Status), q.PresentedAt, q.CreatedAt,
	)
	return eris.Wrap(err, "postgres: create quote")
}

func (s *PostgresStore) GetQuote(ctx context.Context, id string) (*model.Quote, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgQuoteColumns+` FROM quotes WHERE id = $1`, id)
	return pgScanQuote(row)
}

func (s *PostgresStore) PresentedQuotes(ctx context.Context, requestID string) ([]model.Quote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgQuoteColumns+` FROM quotes
		 WHERE service_request_id = $1 AND status = 'presented'
		 ORDER BY presented_at, created_at`, requestID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: presented quotes")
	}
	defer rows.Close()

	var quotes []model.Quote
	for rows.Next() {
		q, err := pgScanQuote(rows)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, *q)
	}
	return quotes, eris.Wrap(rows.Err(), "postgres: presented quotes iterate")
}

func (s *PostgresStore) MarkQuotePresented(ctx context.Context, quoteID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quotes SET status = 'presented', presented_at = $1 WHERE id = $2`,
		time.Now().UTC(), quoteID)
	if err != nil {
		return eris.Wrapf(err, "postgres: present quote %s", quoteID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("quote not found: %s", quoteID)
	}
	return nil
}

func (s *PostgresStore) MarkQuoteSelected(ctx context.Context, quoteID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quotes SET status = 'selected' WHERE id = $1 AND status = 'presented'`, quoteID)
	if err != nil {
		return eris.Wrapf(err, "postgres: select quote %s", quoteID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("quote not found or not presented: %s", quoteID)
	}
	return nil
}

func (s *PostgresStore) RejectOtherPresented(ctx context.Context, requestID, selectedQuoteID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quotes SET status = 'rejected'
		 WHERE service_request_id = $1 AND status = 'presented' AND id != $2`,
		requestID, selectedQuoteID)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reject other quotes")
	}
	return int(tag.RowsAffected()), nil
}

// --- scan helpers ---

func pgScanRequest(row pgx.Row) (*model.ServiceRequest, error) {
	var r model.ServiceRequest
	var ctxJSON []byte

	err := row.Scan(&r.ID, &r.CallID, &r.CallerPhone, &r.CallerPhoneAlias, &r.CallerName,
		&r.CallerAddress, &r.ZipCode, &r.ServiceType, &r.Description, &r.Timeline,
		&r.CallTranscript, &r.CallSummary, &r.CallDurationSecs, &r.TrackingToken,
		&r.Status, &r.DiscoveryStatus, &r.SelectedQuoteID, &ctxJSON, &r.SMSSentAt,
		&r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan service request")
	}
	if err := json.Unmarshal(ctxJSON, &r.Context); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal request context")
	}
	return &r, nil
}

func pgScanBusiness(row pgx.Row) (*model.Business, error) {
	var b model.Business
	err := row.Scan(&b.ID, &b.ServiceRequestID, &b.PlaceID, &b.Name, &b.Phone, &b.Email,
		&b.Website, &b.Address, &b.Latitude, &b.Longitude, &b.Rating, &b.ReviewCount, &b.Category,
		&b.ExtractionStatus, &b.FormStatus, &b.RawScrape, &b.ParsedContacts, &b.ExtractedAt, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan business")
	}
	return &b, nil
}

func pgCollectBusinesses(rows pgx.Rows) ([]model.Business, error) {
	var businesses []model.Business
	for rows.Next() {
		b, err := pgScanBusiness(rows)
		if err != nil {
			return nil, err
		}
		businesses = append(businesses, *b)
	}
	return businesses, eris.Wrap(rows.Err(), "postgres: iterate businesses")
}

func pgScanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var payloadJSON, resultJSON []byte
	var lastError *string

	err := row.Scan(&j.ID, &j.Type, &j.ServiceRequestID, &j.Status, &payloadJSON,
		&j.Attempts, &j.MaxAttempts, &j.ScheduledFor, &lastError, &resultJSON,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}

	if lastError != nil {
		j.LastError = *lastError
	}
	if err := json.Unmarshal(payloadJSON, &j.Payload); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal job payload")
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &j.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal job result")
		}
	}
	return &j, nil
}

func pgScanQuote(row pgx.Row) (*model.Quote, error) {
	var q model.Quote
	err := row.Scan(&q.ID, &q.ServiceRequestID, &q.BusinessID, &q.BusinessName,
		&q.PriceUSD, &q.Availability, &q.Notes, &q.Status, &q.PresentedAt, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan quote")
	}
	return &q, nil
}
