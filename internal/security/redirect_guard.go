package security

import (
	"net/url"
	"strings"
	"unicode"
)

// IsSafeRedirectURL はtargetが現在のリクエストホストから外部へ遷移しない
// リダイレクト先かどうかを判定する。
//
// 以下のいずれかに該当する場合は安全でないと判定する:
//   - 空文字列、またはURLとして解析できない
//   - ホスト（ポートを含む）が存在し、requestHostと異なる（大文字小文字は区別しない）
//   - スキームがhttp/https以外、またはスキームがあるのにホストがない
//   - バックスラッシュや前後の空白、制御文字を含む（ブラウザが//として解釈しうる）
//   - //で始まる（///host のようにホストが空でもブラウザは外部ホストとして扱う）
func IsSafeRedirectURL(target, requestHost string) bool {
	if target == "" {
		return false
	}
	if strings.ContainsRune(target, '\\') || strings.TrimSpace(target) != target {
		return false
	}
	if strings.ContainsFunc(target, unicode.IsControl) {
		return false
	}
	if strings.HasPrefix(target, "//") {
		return false
	}

	u, err := url.Parse(target)
	if err != nil {
		return false
	}

	if u.Scheme != "" {
		scheme := strings.ToLower(u.Scheme)
		if scheme != "http" && scheme != "https" {
			return false
		}
		if u.Host == "" {
			return false
		}
	}

	if u.Host != "" && !strings.EqualFold(u.Host, requestHost) {
		return false
	}

	return true
}

// SafeRedirectURL はリクエストパラメータnextから署名後のリダイレクト先を決定する。
// nextが安全な場合はそのまま返し、それ以外はdefaultURLを返す。
func SafeRedirectURL(next, requestHost, defaultURL string) string {
	if !IsSafeRedirectURL(next, requestHost) {
		return defaultURL
	}
	return next
}
