package middleware

import "net/http"

// hstsValue は1年間HTTPSを強制する。
const hstsValue = "max-age=31536000; includeSubDomains"

// NewSecurityHeadersMiddleware はAPIレスポンス共通のセキュリティヘッダーを付与する。
// レスポンスにはセッショントークンや本人情報が含まれるため、キャッシュを禁止する。
// httpsOnlyがtrueの場合はStrict-Transport-Securityも付与する。
func NewSecurityHeadersMiddleware(httpsOnly bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			if httpsOnly {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			next.ServeHTTP(w, r)
		})
	}
}
