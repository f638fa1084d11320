package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/hitoshi/calman/internal/model"
)

// RefreshedToken はベンダーから取得した更新後のトークンセットを表す。
type RefreshedToken struct {
	AccessToken  string
	RefreshToken string // ベンダーがローテーションしない場合は元の値を引き継ぐ
	ExpiresAt    time.Time
}

// TokenRefresher はベンダーごとのトークン更新・失効操作のインターフェース。
type TokenRefresher interface {
	// Refresh はリフレッシュトークンでアクセストークンを更新する。
	// グラントが取り消されている場合はmodel.AuthErrorを返す。
	Refresh(ctx context.Context, refreshToken string) (*RefreshedToken, error)

	// Revoke はトークンをベンダー側で失効させる。切断時のベストエフォート処理。
	Revoke(ctx context.Context, token string) error
}

// GoogleRefresher はGoogle OAuth 2.0のトークン更新を行う。
type GoogleRefresher struct {
	config *oauth2.Config

	// テスト用にオーバーライド可能なURL
	RevokeURL string
}

// NewGoogleRefresher はGoogleRefresherを生成する。
func NewGoogleRefresher(clientID, clientSecret string) *GoogleRefresher {
	return &GoogleRefresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
		},
		RevokeURL: "https://oauth2.googleapis.com/revoke",
	}
}

// Refresh はリフレッシュトークンでアクセストークンを更新する。
// oauth2.TokenSourceを期限切れトークンで初期化することで、即座に更新リクエストを発行させる。
func (r *GoogleRefresher) Refresh(ctx context.Context, refreshToken string) (*RefreshedToken, error) {
	source := r.config.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	})

	token, err := source.Token()
	if err != nil {
		// invalid_grantはグラント取り消し（再接続が必要）を意味する
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			if retrieveErr.ErrorCode == "invalid_grant" || retrieveErr.Response.StatusCode == http.StatusUnauthorized {
				return nil, &model.AuthError{Reason: fmt.Sprintf("リフレッシュが拒否されました: %s", retrieveErr.ErrorCode)}
			}
			if retrieveErr.Response.StatusCode == http.StatusTooManyRequests || retrieveErr.Response.StatusCode >= 500 {
				return nil, &model.TransientError{Reason: fmt.Sprintf("トークンエンドポイントが status %d を返しました", retrieveErr.Response.StatusCode)}
			}
			return nil, &model.AuthError{Reason: retrieveErr.Error()}
		}
		return nil, &model.TransientError{Reason: fmt.Sprintf("トークン更新リクエストに失敗しました: %v", err)}
	}

	refreshed := &RefreshedToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	// Googleは通常リフレッシュトークンをローテーションしないため、元の値を維持する
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = refreshToken
	}
	return refreshed, nil
}

// Revoke はGoogleの失効エンドポイントにトークン失効を要求する。
func (r *GoogleRefresher) Revoke(ctx context.Context, token string) error {
	data := url.Values{"token": {token}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.RevokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("失効リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("失効リクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("失効リクエストが status %d を返しました", resp.StatusCode)
	}
	return nil
}

// StaticRefresher は更新・失効操作を持たない認証方式（CalDAVのアプリパスワード等）用。
// アクセストークン自体が長期有効なため、Refreshの呼び出しは設定不備を意味する。
type StaticRefresher struct{}

// NewStaticRefresher はStaticRefresherを生成する。
func NewStaticRefresher() *StaticRefresher {
	return &StaticRefresher{}
}

// Refresh は常にAuthErrorを返す。アプリパスワードは失効したら再接続が必要。
func (r *StaticRefresher) Refresh(ctx context.Context, refreshToken string) (*RefreshedToken, error) {
	return nil, &model.AuthError{Reason: "この認証方式はトークン更新をサポートしません"}
}

// Revoke は何もしない。アプリパスワードの取り消しはベンダー側の設定画面で行う。
func (r *StaticRefresher) Revoke(ctx context.Context, token string) error {
	return nil
}

// compile-time interface check
var (
	_ TokenRefresher = (*GoogleRefresher)(nil)
	_ TokenRefresher = (*StaticRefresher)(nil)
)
