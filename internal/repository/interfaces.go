// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/legaldesk/internal/model"
)

// OrganizationRepository はプロバイダー（組織）データの参照インターフェース。
// 組織の作成・更新は周辺サイトが担う。
type OrganizationRepository interface {
	// FindBySlug は指定スラッグの組織を取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Organization, error)

	// FindByID は指定IDの組織を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Organization, error)
}

// AgreementRepository は規約データの永続化インターフェース。
type AgreementRepository interface {
	// FindBySlug は指定スラッグの規約を取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Agreement, error)

	// ListByProvider はプロバイダーが公開する規約をスラッグ順で返す。
	ListByProvider(ctx context.Context, providerID string) ([]*model.Agreement, error)

	// Upsert はスラッグをキーに規約を作成または更新する。
	// タイトルとcontent_hashが変化しない場合はupdated_atを変更しない。
	Upsert(ctx context.Context, agreement *model.Agreement) (UpsertResult, error)
}

// UpsertResult はUpsertの結果を表す。
type UpsertResult string

const (
	UpsertCreated   UpsertResult = "created"
	UpsertUpdated   UpsertResult = "updated"
	UpsertUnchanged UpsertResult = "unchanged"
)

// SignatureRepository は署名データの永続化インターフェース。
type SignatureRepository interface {
	// UpsertBySlug は規約スラッグとユーザーIDで署名を作成する。
	// 既に署名が存在する場合はlast_signedのみ更新する。
	// 規約が見つからない場合はnilを返す。
	UpsertBySlug(ctx context.Context, slug, userID string, signedAt time.Time) (*model.Signature, error)

	// FindByAgreementAndUser は規約IDとユーザーIDで署名を取得する。見つからない場合はnilを返す。
	FindByAgreementAndUser(ctx context.Context, agreementID, userID string) (*model.Signature, error)
}

// UserRepository はユーザーデータの参照インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// SessionRepository はセッションデータの参照インターフェース。
// セッションの発行は周辺サイトのログイン処理が担う。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
}
