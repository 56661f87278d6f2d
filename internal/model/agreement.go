package model

import "time"

// Agreement は利用規約やプライバシーポリシーなどの法的文書を表す。
// 本文はスラッグから命名規則で導かれるMarkdownリソース（legal_<slug>.md）に保持される。
type Agreement struct {
	ID          string
	Slug        string
	Title       string
	ProviderID  string
	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Signature はユーザーが規約に同意した事実を表す。
// (agreement, user) の組につき1件のみ存在し、再同意時はLastSignedが更新される。
type Signature struct {
	ID          string
	AgreementID string
	UserID      string
	LastSigned  time.Time
}

// IsCurrent は署名が規約の最終更新以降に行われたかどうかを返す。
// 規約が改訂された後の古い署名はfalseとなる。
func (s *Signature) IsCurrent(agreement *Agreement) bool {
	if s == nil || agreement == nil {
		return false
	}
	return !s.LastSigned.Before(agreement.UpdatedAt)
}
