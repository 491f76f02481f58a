// Package security はアバター画像の取得と利用者入力の無害化を扱う。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrBlockedURL は取得が許可されないURLの場合のエラー。
var ErrBlockedURL = errors.New("blocked url")

// URLGuard は外部URLへのリクエストを公開インターネットに限定する。
type URLGuard interface {
	// NewSafeClient はプライベートアドレスへの接続をDialer段階で拒否するHTTPクライアントを返す。
	NewSafeClient(timeout time.Duration) *http.Client
	// ValidateURL はDNS解決を伴わない静的な検証を行う。
	ValidateURL(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedNetworks は静的検証で拒否するネットワーク範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

// SSRFGuard はURLGuardのsafeurlによる実装。
type SSRFGuard struct {
	ports []int
}

// NewSSRFGuard はポート80と443のみを許可するSSRFGuardを生成する。
func NewSSRFGuard() *SSRFGuard {
	return &SSRFGuard{ports: []int{80, 443}}
}

// NewSafeClient はDNS解決後のIPアドレスもsafeurlで検証するクライアントを返す。
func (g *SSRFGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.ports...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はスキーム、ホスト、IPアドレスを検証する。
func (g *SSRFGuard) ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: empty url", ErrBlockedURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrBlockedURL, scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrBlockedURL)
	}
	if parsed.User != nil {
		return fmt.Errorf("%w: credentials in url", ErrBlockedURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("%w: address %s", ErrBlockedURL, ip)
			}
		}
		return nil
	}

	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".internal") {
		return fmt.Errorf("%w: host %s", ErrBlockedURL, host)
	}
	return nil
}
