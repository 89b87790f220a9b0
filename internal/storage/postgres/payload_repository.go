package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const opTimeout = 5 * time.Second

// PayloadRepository хранит payload корзин в таблице cart_payloads.
// Запись перезаписывает строку целиком: побеждает последний писатель.
type PayloadRepository struct {
	store *Store
}

// NewPayloadRepository создаёт PostgreSQL-реализацию domain.PayloadStorage.
func NewPayloadRepository(store *Store) *PayloadRepository {
	return &PayloadRepository{store: store}
}

// Get возвращает payload по ключу или domain.ErrPayloadNotFound.
func (r *PayloadRepository) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var payload string
	err := r.store.DB().QueryRowContext(ctx, `
		SELECT payload FROM cart_payloads WHERE storage_key = $1
	`, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPayloadNotFound
		}
		return nil, classify("select cart payload", err)
	}
	return []byte(payload), nil
}

// Set сохраняет payload под ключом.
func (r *PayloadRepository) Set(ctx context.Context, key string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.store.DB().ExecContext(ctx, `
		INSERT INTO cart_payloads (storage_key, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (storage_key) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`, key, string(payload))
	if err != nil {
		return classify("upsert cart payload", err)
	}
	return nil
}

// Ping проверяет подключение к базе.
func (r *PayloadRepository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Keys возвращает все ключи корзин в лексикографическом порядке.
func (r *PayloadRepository) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.store.DB().QueryContext(ctx, `SELECT storage_key FROM cart_payloads ORDER BY storage_key`)
	if err != nil {
		return nil, classify("list cart payload keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan cart payload key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart payload keys: %w", err)
	}
	return keys, nil
}

// classify помечает таймауты и обрывы соединения как недоступность хранилища.
func classify(op string, err error) error {
	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStorageUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
		return fmt.Errorf("%s: schema is not migrated: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
