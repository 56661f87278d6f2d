package legal

import (
	"errors"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ReadTermsLabel はread_termsチェックボックスのラベル。
const ReadTermsLabel = "I have read and understand these terms and conditions"

// ReadTermsField はフォームのフィールド名。
const ReadTermsField = "read_terms"

// SignatureForm は規約署名フォーム。
// 単一のチェックボックスread_termsを持ち、チェックされている場合のみ有効となる。
type SignatureForm struct {
	ReadTerms bool `json:"read_terms"`

	// Errors は検証後のフィールド単位のエラーメッセージ。
	Errors map[string]string `json:"-"`
	bound  bool
}

// ParseSignatureForm はフォーム値からSignatureFormを構築する。
// read_termsは"on", "true", "1", "yes"（大文字小文字を区別しない）のいずれかでチェック済みとみなす。
func ParseSignatureForm(values url.Values) *SignatureForm {
	return &SignatureForm{
		ReadTerms: isChecked(values.Get(ReadTermsField)),
		bound:     true,
	}
}

func isChecked(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}

// Label はチェックボックスのラベルを返す。テンプレートから参照する。
func (f *SignatureForm) Label() string {
	return ReadTermsLabel
}

// FieldName はチェックボックスのフィールド名を返す。テンプレートから参照する。
func (f *SignatureForm) FieldName() string {
	return ReadTermsField
}

// IsBound は送信値から構築されたフォームかどうかを返す。
func (f *SignatureForm) IsBound() bool {
	return f.bound
}

// Validate はフォームを検証する。
// 失敗時はErrorsにフィールド単位のメッセージを設定し、validation.Errorsを返す。
func (f *SignatureForm) Validate() error {
	err := validation.ValidateStruct(f,
		validation.Field(&f.ReadTerms, validation.Required.Error("this field is required")),
	)

	f.Errors = nil
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		f.Errors = make(map[string]string, len(verrs))
		for field, ferr := range verrs {
			f.Errors[field] = ferr.Error()
		}
	}
	return err
}

// Valid はValidateを実行し、成功したかどうかを返す。
func (f *SignatureForm) Valid() bool {
	return f.Validate() == nil
}
