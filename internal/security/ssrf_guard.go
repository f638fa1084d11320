// Package security はCalDAVエンドポイントの出口防御と
// リモートイベントのサニタイズを提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService はCalDAVエンドポイントに対するSSRF防御を定義する。
// エンドポイントは設定経由で与えられる外部入力であり、同期ワーカーは
// そのURLへ定期的にHTTPリクエストを発行するため、
// 内部ネットワークへ誘導されないよう2段階で検証する:
// 登録時のValidateURLによる静的検証と、NewSafeClientが返す
// クライアントによる接続時のIP検証。
type SSRFGuardService interface {
	// NewSafeClient は接続先IPを検証するHTTPクライアントを返す。
	// safeurlがDialerのControlフックでDNS解決後のIPを照合するため、
	// DNS再バインディングで検証をすり抜けることはできない。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL はCalDAVエンドポイントURLを接続前に静的検証する。
	// スキーム・ホストの形式と、既知の内部アドレス範囲を照合する。
	ValidateURL(rawURL string) error
}

// allowedSchemes はCalDAVエンドポイントとして受け付けるスキーム。
var allowedSchemes = []string{"http", "https"}

// denyNetworks は同期ワーカーの到達を禁止するアドレス範囲。
// クラウドメタデータ(169.254.169.254)はリンクローカル範囲に含まれる。
var denyNetworks = mustParseCIDRs(
	"10.0.0.0/8",     // RFC 1918
	"172.16.0.0/12",  // RFC 1918
	"192.168.0.0/16", // RFC 1918
	"127.0.0.0/8",    // ループバック
	"169.254.0.0/16", // リンクローカル
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10", // IPv6リンクローカル
	"fc00::/7",  // IPv6ユニークローカル
)

// denyHostnames はIPを解決するまでもなく拒否するホスト名。
var denyHostnames = map[string]bool{
	"localhost": true,
}

func mustParseCIDRs(cidrs ...string) []net.IPNet {
	networks := make([]net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("denyNetworksのCIDRが不正: %s: %v", cidr, err))
		}
		networks = append(networks, *network)
	}
	return networks
}

type ssrfGuard struct{}

// NewSSRFGuard はSSRFGuardServiceを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はCalDAVサーバーへのアクセス専用のHTTPクライアントを返す。
// safeurlの設定により、プライベートIP・ループバック・リンクローカル・
// メタデータIPへの接続はDialer段階で拒否される。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はCalDAVエンドポイントURLを接続前に検証する。
// DNS解決は行わない静的チェックのため、ここを通過しても接続時には
// NewSafeClientのDialer検証が改めて効く。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("CalDAVエンドポイントが空です")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("CalDAVエンドポイントの形式が不正です: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("許可されていないスキームです: %s (許可: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("ホストのないURLです: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isDeniedIP(ip) {
			return fmt.Errorf("内部アドレスへのCalDAVエンドポイントは登録できません: %s", ip.String())
		}
		return nil
	}

	if denyHostnames[strings.ToLower(host)] {
		return fmt.Errorf("許可されていないホストです: %s", host)
	}

	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isDeniedIP(ip net.IP) bool {
	for _, network := range denyNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
