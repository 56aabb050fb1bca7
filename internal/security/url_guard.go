package security

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// allowedSchemes は外部URLとして許可するスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は外部URLとして受け付けないネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		"::1/128",
		// リンクローカル（メタデータIP 169.254.169.254 を含む）
		"169.254.0.0/16",
		"fe80::/10",
		"0.0.0.0/8",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// URLGuard は評価サービスが返す結果URLなど、
// 外部から渡されたURLへのアクセスをSSRFから保護する。
type URLGuard struct {
	client          *http.Client
	maxResponseSize int64
}

// NewURLGuard はURLGuardを生成する。
// 内部のHTTPクライアントはsafeurlによりDNS解決後のIPアドレスも検証する。
func NewURLGuard(timeout time.Duration, maxResponseSize int64) *URLGuard {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return &URLGuard{
		client:          safeurl.Client(config).Client,
		maxResponseSize: maxResponseSize,
	}
}

// Client はSSRF防止付きのHTTPクライアントを返す。
func (g *URLGuard) Client() *http.Client {
	return g.client
}

// ValidateURL はDNS解決を伴わない静的な検証を行う。
// DNS再バインディングはClientのDialer側の検証で防ぐ。
func (g *URLGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

// Fetch はURLを検証してからGETし、レスポンスボディとContent-Typeを返す。
// ボディはmaxResponseSizeを超えるとエラーになる。
func (g *URLGuard) Fetch(req *http.Request) ([]byte, string, error) {
	if err := g.ValidateURL(req.URL.String()); err != nil {
		return nil, "", err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, req.URL.Host)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, g.maxResponseSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > g.maxResponseSize {
		return nil, "", fmt.Errorf("response exceeds %d bytes", g.maxResponseSize)
	}

	return body, resp.Header.Get("Content-Type"), nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
