package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"receipt-ingest/internal/models"
)

// ErrNotFound marks lookups for rows that do not exist.
var ErrNotFound = errors.New("not found")

// ErrIllegalTransition marks a guarded status update that matched no row,
// meaning the job was not in the state the transition requires.
var ErrIllegalTransition = errors.New("illegal status transition")

// Store wraps pgxpool for Postgres persistence. It is the sole writer of
// job and receipt state.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJob inserts a PENDING job for the idempotency key. The UNIQUE
// constraint on idempotency_key is the sole concurrency mechanism: under
// any number of racing submissions exactly one caller observes
// created=true, everyone else gets the existing row back unchanged.
func (s *Store) CreateJob(ctx context.Context, idempotencyKey, imageURI string) (models.Job, bool, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, idempotency_key, image_uri, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, id, idempotencyKey, imageURI, models.StatusPending, now)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.GetJobByKey(ctx, idempotencyKey)
		if err != nil {
			return models.Job{}, false, err
		}
		return existing, false, nil
	}

	return models.Job{
		ID:             id,
		IdempotencyKey: idempotencyKey,
		ImageURI:       imageURI,
		Status:         models.StatusPending,
		CreatedAt:      now,
	}, true, nil
}

const jobColumns = `id, idempotency_key, image_uri, status, receipt_id, error, started_at, finished_at, created_at`

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// GetJobByKey fetches a job by its idempotency key.
func (s *Store) GetJobByKey(ctx context.Context, key string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, key)
	return scanJob(row)
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var receiptID, errText pgtype.Text
	var startedAt, finishedAt pgtype.Timestamptz

	err := row.Scan(&job.ID, &job.IdempotencyKey, &job.ImageURI, &job.Status,
		&receiptID, &errText, &startedAt, &finishedAt, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job: %w", ErrNotFound)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	job.ReceiptID = textPtr(receiptID)
	job.Error = textPtr(errText)
	job.StartedAt = timePtr(startedAt)
	job.FinishedAt = timePtr(finishedAt)
	return job, nil
}

// MarkJobRunning transitions PENDING to RUNNING. The guard doubles as the
// worker's ownership test: a zero-row update means another worker already
// owns (or finished) the job.
func (s *Store) MarkJobRunning(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, started_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.StatusRunning, models.StatusPending)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s to RUNNING: %w", id, ErrIllegalTransition)
	}
	return nil
}

// MarkJobSucceeded transitions RUNNING to SUCCEEDED and attaches the
// produced receipt.
func (s *Store) MarkJobSucceeded(ctx context.Context, id, receiptID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, receipt_id = $3, finished_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, models.StatusSucceeded, receiptID, models.StatusRunning)
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s to SUCCEEDED: %w", id, ErrIllegalTransition)
	}
	return nil
}

// MarkJobFailed records the error text and moves the job to FAILED. Any
// non-terminal state may fail: RUNNING when the pipeline errors, PENDING
// when the job could not even be scheduled.
func (s *Store) MarkJobFailed(ctx context.Context, id, errText string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, error = $3, finished_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`, id, models.StatusFailed, errText, models.StatusPending, models.StatusRunning)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s to FAILED: %w", id, ErrIllegalTransition)
	}
	return nil
}

// SaveReceipt persists pipeline output in one transaction: merchant
// get-or-create by name, the receipt row, then its items. It returns the
// new receipt id.
func (s *Store) SaveReceipt(ctx context.Context, imageURI string, res models.ParseResult) (string, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	attrs := []byte("{}")
	if len(res.Merchant.Extra) > 0 {
		if attrs, err = json.Marshal(res.Merchant.Extra); err != nil {
			return "", fmt.Errorf("marshal merchant attributes: %w", err)
		}
	}

	var merchantID string
	err = tx.QueryRow(ctx, `
		INSERT INTO merchants (id, name, abn, address, attributes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, uuid.New().String(), res.Merchant.Name, res.Merchant.ABN, res.Merchant.Address, attrs).Scan(&merchantID)
	if err != nil {
		return "", fmt.Errorf("upsert merchant: %w", err)
	}

	rawJSON, err := json.Marshal(res.RawJSON)
	if err != nil {
		return "", fmt.Errorf("marshal raw payload: %w", err)
	}

	receiptID := uuid.New().String()
	_, err = tx.Exec(ctx, `
		INSERT INTO receipts (id, uuid, total, currency, purchased_at, merchant_id, category, image_uri, raw_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, receiptID, res.UUID, res.Total, res.Currency, res.PurchasedAt, merchantID, res.Category, imageURI, rawJSON)
	if err != nil {
		return "", fmt.Errorf("insert receipt: %w", err)
	}

	for _, item := range res.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO receipt_items (receipt_id, line_text, quantity, unit_price, amount)
			VALUES ($1, $2, $3, $4, $5)
		`, receiptID, item.LineText, item.Quantity, item.UnitPrice, item.Amount)
		if err != nil {
			return "", fmt.Errorf("insert receipt item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return receiptID, nil
}

const receiptColumns = `
	r.id, r.uuid, r.total, r.currency, r.purchased_at, r.category, r.image_uri, r.raw_json, r.created_at,
	m.name, m.abn, m.address, m.attributes`

// GetReceipt fetches one receipt with its merchant and items.
func (s *Store) GetReceipt(ctx context.Context, id string) (models.Receipt, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts r JOIN merchants m ON m.id = r.merchant_id
		WHERE r.id = $1
	`, id)
	receipt, err := scanReceipt(row)
	if err != nil {
		return models.Receipt{}, err
	}
	receipt.Items, err = s.receiptItems(ctx, receipt.ID)
	if err != nil {
		return models.Receipt{}, err
	}
	return receipt, nil
}

// ListReceipts returns the newest receipts first.
func (s *Store) ListReceipts(ctx context.Context, limit int) ([]models.Receipt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts r JOIN merchants m ON m.id = r.merchant_id
		ORDER BY r.created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]models.Receipt, 0, limit)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	for i := range receipts {
		if receipts[i].Items, err = s.receiptItems(ctx, receipts[i].ID); err != nil {
			return nil, err
		}
	}
	return receipts, nil
}

func scanReceipt(row pgx.Row) (models.Receipt, error) {
	var receipt models.Receipt
	var purchasedAt pgtype.Timestamptz
	var category pgtype.Text
	var rawJSON, attrs []byte

	err := row.Scan(&receipt.ID, &receipt.UUID, &receipt.Total, &receipt.Currency,
		&purchasedAt, &category, &receipt.ImageURI, &rawJSON, &receipt.CreatedAt,
		&receipt.Merchant.Name, &receipt.Merchant.ABN, &receipt.Merchant.Address, &attrs)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Receipt{}, fmt.Errorf("receipt: %w", ErrNotFound)
	}
	if err != nil {
		return models.Receipt{}, fmt.Errorf("scan receipt: %w", err)
	}

	receipt.PurchasedAt = timePtr(purchasedAt)
	receipt.Category = textPtr(category)
	if err := json.Unmarshal(rawJSON, &receipt.RawJSON); err != nil {
		return models.Receipt{}, fmt.Errorf("unmarshal raw payload: %w", err)
	}
	var extra map[string]any
	if err := json.Unmarshal(attrs, &extra); err != nil {
		return models.Receipt{}, fmt.Errorf("unmarshal merchant attributes: %w", err)
	}
	if len(extra) > 0 {
		receipt.Merchant.Extra = extra
	}
	return receipt, nil
}

func (s *Store) receiptItems(ctx context.Context, receiptID string) ([]models.LineItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT line_text, quantity, unit_price, amount
		FROM receipt_items WHERE receipt_id = $1
		ORDER BY id
	`, receiptID)
	if err != nil {
		return nil, fmt.Errorf("query receipt items: %w", err)
	}
	defer rows.Close()

	items := make([]models.LineItem, 0, 8)
	for rows.Next() {
		var item models.LineItem
		var quantity, unitPrice, amount pgtype.Float8
		if err := rows.Scan(&item.LineText, &quantity, &unitPrice, &amount); err != nil {
			return nil, fmt.Errorf("scan receipt item: %w", err)
		}
		item.Quantity = floatPtr(quantity)
		item.UnitPrice = floatPtr(unitPrice)
		item.Amount = floatPtr(amount)
		items = append(items, item)
	}
	return items, rows.Err()
}

// InsertReceiptEmbedding indexes one piece of receipt text for similarity
// search.
func (s *Store) InsertReceiptEmbedding(ctx context.Context, receiptID, content string, vec []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO receipt_embeddings (receipt_id, content, embedding)
		VALUES ($1, $2, $3)
	`, receiptID, content, pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

// SearchReceipts returns the receipts whose indexed text is nearest to the
// query vector, closest first.
func (s *Store) SearchReceipts(ctx context.Context, vec []float32, limit int) ([]models.SearchHit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT receipt_id, content, embedding <-> $1 AS distance
		FROM receipt_embeddings
		ORDER BY embedding <-> $1
		LIMIT $2
	`, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("search embeddings: %w", err)
	}
	defer rows.Close()

	hits := make([]models.SearchHit, 0, limit)
	for rows.Next() {
		var hit models.SearchHit
		if err := rows.Scan(&hit.ReceiptID, &hit.Content, &hit.Distance); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		return &t.Time
	}
	return nil
}

func floatPtr(f pgtype.Float8) *float64 {
	if f.Valid {
		return &f.Float64
	}
	return nil
}
