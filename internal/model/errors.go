// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, validation, legal, system
	Action   string            // ユーザー向け対処方法
	Fields   map[string]string // フィールド単位の検証エラー（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAgreementNotFound    = "AGREEMENT_NOT_FOUND"
	ErrCodeOrganizationNotFound = "ORGANIZATION_NOT_FOUND"
	ErrCodeInvalidSlug          = "INVALID_SLUG"
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewAgreementNotFoundError は規約未検出エラーを生成する。
func NewAgreementNotFoundError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodeAgreementNotFound,
		Message:  fmt.Sprintf("指定された規約が見つかりません: %s", slug),
		Category: "legal",
		Action:   "規約一覧から対象の規約を選択してください。",
	}
}

// NewOrganizationNotFoundError はプロバイダー未検出エラーを生成する。
func NewOrganizationNotFoundError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodeOrganizationNotFound,
		Message:  fmt.Sprintf("指定されたプロバイダーが見つかりません: %s", slug),
		Category: "legal",
		Action:   "URLを確認してください。",
	}
}

// NewInvalidSlugError は不正なスラッグのエラーを生成する。
func NewInvalidSlugError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSlug,
		Message:  fmt.Sprintf("無効なスラッグです: %q", slug),
		Category: "validation",
		Action:   "URLを確認してください。",
	}
}

// NewValidationError はフォーム検証エラーを生成する。
// fieldsにはフィールド名ごとのエラーメッセージを渡す。
func NewValidationError(fields map[string]string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "エラー内容を確認して再度送信してください。",
		Fields:   fields,
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
