package middleware

import "net/http"

// agreementPageCSP は規約ページのContent-Security-Policy。
// 規約本文はサニタイズ済みだが、スクリプトの実行自体を許可しない。
const agreementPageCSP = "default-src 'self'; script-src 'none'; style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' https: data:; frame-ancestors 'none'; base-uri 'self'"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			w.Header().Set("Content-Security-Policy", agreementPageCSP)
			next.ServeHTTP(w, r)
		})
	}
}
