package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/legaldesk/internal/model"
)

// PostgresAgreementRepo はPostgreSQLを使用した規約リポジトリ。
type PostgresAgreementRepo struct {
	db *sql.DB
}

// NewPostgresAgreementRepo はPostgresAgreementRepoを生成する。
func NewPostgresAgreementRepo(db *sql.DB) *PostgresAgreementRepo {
	return &PostgresAgreementRepo{db: db}
}

// FindBySlug は指定スラッグの規約を取得する。見つからない場合はnilを返す。
func (r *PostgresAgreementRepo) FindBySlug(ctx context.Context, slug string) (*model.Agreement, error) {
	a := &model.Agreement{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, slug, title, provider_id, content_hash, created_at, updated_at
		 FROM agreements WHERE slug = $1`,
		slug,
	).Scan(&a.ID, &a.Slug, &a.Title, &a.ProviderID, &a.ContentHash, &a.CreatedAt, &a.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find agreement by slug: %w", err)
	}

	return a, nil
}

// ListByProvider はプロバイダーが公開する規約をスラッグ順で返す。
func (r *PostgresAgreementRepo) ListByProvider(ctx context.Context, providerID string) ([]*model.Agreement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, slug, title, provider_id, content_hash, created_at, updated_at
		 FROM agreements
		 WHERE provider_id = $1
		 ORDER BY slug`,
		providerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list agreements: %w", err)
	}
	defer rows.Close()

	var agreements []*model.Agreement
	for rows.Next() {
		a := &model.Agreement{}
		if err := rows.Scan(&a.ID, &a.Slug, &a.Title, &a.ProviderID, &a.ContentHash, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agreement: %w", err)
		}
		agreements = append(agreements, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agreements: %w", err)
	}

	return agreements, nil
}

// Upsert はスラッグをキーに規約を作成または更新する。
// 既存行のタイトルとcontent_hashが同一の場合は何も更新せずUpsertUnchangedを返す。
// 成功時はagreementのID・タイムスタンプを更新後の値で上書きする。
func (r *PostgresAgreementRepo) Upsert(ctx context.Context, agreement *model.Agreement) (UpsertResult, error) {
	var inserted bool
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO agreements (slug, title, provider_id, content_hash)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (slug) DO UPDATE
		 SET title = EXCLUDED.title,
		     content_hash = EXCLUDED.content_hash,
		     updated_at = now()
		 WHERE agreements.title IS DISTINCT FROM EXCLUDED.title
		    OR agreements.content_hash IS DISTINCT FROM EXCLUDED.content_hash
		 RETURNING id, created_at, updated_at, (xmax = 0) AS inserted`,
		agreement.Slug, agreement.Title, agreement.ProviderID, agreement.ContentHash,
	).Scan(&agreement.ID, &agreement.CreatedAt, &agreement.UpdatedAt, &inserted)

	if errors.Is(err, sql.ErrNoRows) {
		// WHERE句で更新が抑止された（変更なし）
		return UpsertUnchanged, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to upsert agreement: %w", err)
	}

	if inserted {
		return UpsertCreated, nil
	}
	return UpsertUpdated, nil
}

// compile-time interface check
var _ AgreementRepository = (*PostgresAgreementRepo)(nil)
