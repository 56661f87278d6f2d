package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/legaldesk/internal/model"
)

// PostgresSignatureRepo はPostgreSQLを使用した署名リポジトリ。
type PostgresSignatureRepo struct {
	db *sql.DB
}

// NewPostgresSignatureRepo はPostgresSignatureRepoを生成する。
func NewPostgresSignatureRepo(db *sql.DB) *PostgresSignatureRepo {
	return &PostgresSignatureRepo{db: db}
}

// UpsertBySlug は規約スラッグとユーザーIDで署名を作成する。
// (agreement_id, user_id) のユニーク制約により署名は1件に保たれ、
// 再署名時はlast_signedのみ更新される。規約が存在しない場合はnilを返す。
func (r *PostgresSignatureRepo) UpsertBySlug(ctx context.Context, slug, userID string, signedAt time.Time) (*model.Signature, error) {
	sig := &model.Signature{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO signatures (id, agreement_id, user_id, last_signed)
		 SELECT $1, a.id, $2, $3 FROM agreements a WHERE a.slug = $4
		 ON CONFLICT (agreement_id, user_id) DO UPDATE
		 SET last_signed = EXCLUDED.last_signed
		 RETURNING id, agreement_id, user_id, last_signed`,
		uuid.NewString(), userID, signedAt, slug,
	).Scan(&sig.ID, &sig.AgreementID, &sig.UserID, &sig.LastSigned)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert signature: %w", err)
	}

	return sig, nil
}

// FindByAgreementAndUser は規約IDとユーザーIDで署名を取得する。見つからない場合はnilを返す。
func (r *PostgresSignatureRepo) FindByAgreementAndUser(ctx context.Context, agreementID, userID string) (*model.Signature, error) {
	sig := &model.Signature{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, agreement_id, user_id, last_signed
		 FROM signatures
		 WHERE agreement_id = $1 AND user_id = $2`,
		agreementID, userID,
	).Scan(&sig.ID, &sig.AgreementID, &sig.UserID, &sig.LastSigned)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find signature: %w", err)
	}

	return sig, nil
}

// compile-time interface check
var _ SignatureRepository = (*PostgresSignatureRepo)(nil)
