package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/hitoshi/calman/internal/model"
)

// APIKeyHeader は認証キーを渡すHTTPヘッダー名。
const APIKeyHeader = "X-API-Key"

// AgentIDHeader は呼び出し元の音声エージェントIDを渡すHTTPヘッダー名。
// レート制限のキーとリクエストログに使用する。省略時はリモートアドレスで代替する。
const AgentIDHeader = "X-Agent-ID"

type contextKey string

const callerContextKey contextKey = "caller"

// ErrCallerNotFound はコンテキストに呼び出し元情報が存在しないことを表す。
var ErrCallerNotFound = errors.New("呼び出し元情報がコンテキストにありません")

// CallerFromContext はリクエストコンテキストから呼び出し元識別子を取得する。
// APIKeyAuthMiddlewareの後段でのみ使用できる。
func CallerFromContext(ctx context.Context) (string, error) {
	caller, ok := ctx.Value(callerContextKey).(string)
	if !ok || caller == "" {
		return "", ErrCallerNotFound
	}
	return caller, nil
}

// ContextWithCaller は呼び出し元識別子を付与したコンテキストを返す。テスト用。
func ContextWithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

// NewAPIKeyAuthMiddleware はX-API-Keyヘッダーによる認証ミドルウェアを返す。
// キーの比較は一定時間比較で行う。認証成功時は呼び出し元識別子を
// コンテキストに格納する。
func NewAPIKeyAuthMiddleware(apiKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(APIKeyHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				slog.Warn("API認証に失敗しました",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
					Code:     "UNAUTHORIZED",
					Message:  "APIキーが無効です。",
					Category: "auth",
					Action:   "X-API-Keyヘッダーに有効なキーを指定してください。",
				})
				return
			}

			caller := r.Header.Get(AgentIDHeader)
			if caller == "" {
				host, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					host = r.RemoteAddr
				}
				caller = host
			}

			ctx := context.WithValue(r.Context(), callerContextKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
