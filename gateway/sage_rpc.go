package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// ErrWrongFingerprint 当前 Sage 激活的钱包与配置锁定的 fingerprint 不一致。
var ErrWrongFingerprint = errors.New("sage wallet fingerprint mismatch")

// WrongFingerprintError carries the expected and active fingerprints.
// The daemon never logs in on its own; switch wallets in the Sage UI.
type WrongFingerprintError struct {
	Expected int64
	Active   int64
}

func (e *WrongFingerprintError) Error() string {
	return fmt.Sprintf("sage wallet fingerprint mismatch: configured lock is %d, active is %d", e.Expected, e.Active)
}

func (e *WrongFingerprintError) Unwrap() error { return ErrWrongFingerprint }

// RPCError 表示 Sage RPC 返回了非 200 状态。
type RPCError struct {
	Status   int
	Body     string
	Endpoint string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("sage rpc %q failed with HTTP %d: %s", e.Endpoint, e.Status, e.Body)
}

// SageClient 调用本地 Sage 钱包 RPC：POST /{endpoint}，JSON 请求体，mTLS 认证。
type SageClient struct {
	BaseURL     string
	HTTPClient  *http.Client
	Limiter     RateLimiter
	Fingerprint int64 // 0 表示不校验
}

// SageOptions configures NewSageClient. Empty cert/key paths fall back to the
// Sage data directory.
type SageOptions struct {
	Host        string
	Port        int
	CertPath    string
	KeyPath     string
	Fingerprint int64
	Timeout     time.Duration
	Limiter     RateLimiter
}

// NewSageClient loads the wallet client certificate and builds an mTLS client.
// Sage serves a self-signed certificate, so server verification is skipped.
func NewSageClient(opts SageOptions) (*SageClient, error) {
	certPath, keyPath := resolveCertPaths(opts.CertPath, opts.KeyPath)
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load sage wallet cert: %w", err)
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Port == 0 {
		opts.Port = 9257
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			Certificates:       []tls.Certificate{cert},
			InsecureSkipVerify: true, //nolint:gosec // sage wallet uses a self-signed cert
			MinVersion:         tls.VersionTLS12,
		},
	}
	return &SageClient{
		BaseURL:     "https://" + opts.Host + ":" + strconv.Itoa(opts.Port),
		HTTPClient:  &http.Client{Timeout: opts.Timeout, Transport: transport},
		Limiter:     opts.Limiter,
		Fingerprint: opts.Fingerprint,
	}, nil
}

// Call posts body to endpoint and decodes the JSON response into out.
// A nil out discards the response.
func (c *SageClient) Call(ctx context.Context, endpoint string, body any, out any) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if body == nil {
		body = map[string]any{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", endpoint, err)
	}
	if err := waitLimiter(ctx, c.Limiter); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sage rpc %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("sage rpc %s: read body: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &RPCError{Status: resp.StatusCode, Body: string(raw), Endpoint: endpoint}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("sage rpc %s: decode: %w", endpoint, err)
	}
	return nil
}

type KeyInfo struct {
	Fingerprint int64  `json:"fingerprint"`
	Name        string `json:"name"`
}

type getKeyResp struct {
	Key *KeyInfo `json:"key"`
}

// GetKey returns the active wallet key, nil when no wallet is logged in.
func (c *SageClient) GetKey(ctx context.Context) (*KeyInfo, error) {
	var resp getKeyResp
	if err := c.Call(ctx, "get_key", map[string]any{}, &resp); err != nil {
		return nil, err
	}
	return resp.Key, nil
}

type SyncStatus struct {
	Balance        json.Number `json:"balance"`
	SyncedCoins    int64       `json:"synced_coins"`
	TotalCoins     int64       `json:"total_coins"`
	ReceiveAddress string      `json:"receive_address"`
}

func (c *SageClient) GetSyncStatus(ctx context.Context) (*SyncStatus, error) {
	var st SyncStatus
	if err := c.Call(ctx, "get_sync_status", map[string]any{}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// CheckFingerprint verifies the active wallet when a fingerprint lock is set.
func (c *SageClient) CheckFingerprint(ctx context.Context) error {
	if c.Fingerprint == 0 {
		return nil
	}
	key, err := c.GetKey(ctx)
	if err != nil {
		return err
	}
	var active int64
	if key != nil {
		active = key.Fingerprint
	}
	if active != c.Fingerprint {
		return &WrongFingerprintError{Expected: c.Fingerprint, Active: active}
	}
	return nil
}

// Amount 以 mojos 表示的资产数量。
type Amount struct {
	Mojos int64 `json:"mojos"`
}

// AssetAmount is one side of an offer. A nil AssetID means XCH.
type AssetAmount struct {
	AssetID *string `json:"asset_id"`
	Amount  Amount  `json:"amount"`
}

type MakeOfferRequest struct {
	OfferedAssets     []AssetAmount `json:"offered_assets"`
	RequestedAssets   []AssetAmount `json:"requested_assets"`
	Fee               Amount        `json:"fee"`
	ReceiveAddress    string        `json:"receive_address,omitempty"`
	ExpirationSeconds int64         `json:"expiration_seconds,omitempty"`
}

type MakeOfferResponse struct {
	Offer   string `json:"offer"`
	OfferID string `json:"offer_id"`
}

func (c *SageClient) MakeOffer(ctx context.Context, req MakeOfferRequest) (*MakeOfferResponse, error) {
	var resp MakeOfferResponse
	if err := c.Call(ctx, "make_offer", req, &resp); err != nil {
		return nil, err
	}
	if resp.OfferID == "" && resp.Offer == "" {
		return nil, fmt.Errorf("make_offer: empty response")
	}
	return &resp, nil
}

// Sage offer record statuses.
const (
	OfferStatusPending   = "pending"
	OfferStatusActive    = "active"
	OfferStatusCompleted = "completed"
	OfferStatusCancelled = "cancelled"
	OfferStatusExpired   = "expired"
)

// OfferAsset 报价一侧的单个资产，数量为 mojos。
type OfferAsset struct {
	Amount json.Number `json:"amount"`
}

// Mojos returns Amount as int64, zero when absent or malformed.
func (a OfferAsset) Mojos() int64 {
	v, _ := a.Amount.Int64()
	return v
}

// OfferSummary keys maker/taker assets by asset id; XCH is keyed "xch".
type OfferSummary struct {
	Fee                 json.Number           `json:"fee"`
	Maker               map[string]OfferAsset `json:"maker"`
	Taker               map[string]OfferAsset `json:"taker"`
	ExpirationTimestamp *int64                `json:"expiration_timestamp"`
}

type OfferRecord struct {
	OfferID           string       `json:"offer_id"`
	Status            string       `json:"status"`
	CreationTimestamp int64        `json:"creation_timestamp"`
	Summary           OfferSummary `json:"summary"`
}

type getOffersResp struct {
	Offers []OfferRecord `json:"offers"`
}

// GetOffers lists the wallet's offers with their current status.
func (c *SageClient) GetOffers(ctx context.Context) ([]OfferRecord, error) {
	var resp getOffersResp
	if err := c.Call(ctx, "get_offers", map[string]any{}, &resp); err != nil {
		return nil, err
	}
	return resp.Offers, nil
}

// CancelOffer cancels an offer on chain; fee in mojos.
func (c *SageClient) CancelOffer(ctx context.Context, offerID string, feeMojos int64) error {
	body := map[string]any{
		"offer_id":    offerID,
		"fee":         Amount{Mojos: feeMojos},
		"auto_submit": true,
	}
	return c.Call(ctx, "cancel_offer", body, nil)
}

// SageDataDir returns the default Sage wallet data directory for this OS.
func SageDataDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "com.rigidnetwork.sage")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "com.rigidnetwork.sage")
	default:
		return filepath.Join(home, ".local", "share", "com.rigidnetwork.sage")
	}
}

func resolveCertPaths(certPath, keyPath string) (string, string) {
	if certPath == "" {
		certPath = filepath.Join(SageDataDir(), "ssl", "wallet.crt")
	}
	if keyPath == "" {
		keyPath = filepath.Join(SageDataDir(), "ssl", "wallet.key")
	}
	return certPath, keyPath
}

// CertsPresent reports whether the wallet cert and key exist on disk.
func CertsPresent(certPath, keyPath string) bool {
	certPath, keyPath = resolveCertPaths(certPath, keyPath)
	if _, err := os.Stat(certPath); err != nil {
		return false
	}
	_, err := os.Stat(keyPath)
	return err == nil
}
