package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	fgerrors "github.com/foresthq/guardian/internal/errors"
	"github.com/foresthq/guardian/internal/logging"
)

// cloudRequest is the wire shape posted to both vendor endpoints.
type cloudRequest struct {
	ImageBase64 string `json:"image_base64"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

type cloudResponse struct {
	Label      string   `json:"label"`
	Confidence int      `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Features   []string `json:"features"`
}

// FastCloudConfig configures the low-latency cloud tier.
type FastCloudConfig struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	CacheTTL   time.Duration // memoize identical spectrograms to avoid repeat billing
}

// FastCloud calls a lightweight, low-latency vendor classification
// endpoint. Results are memoized briefly so a retried Auto-mode
// escalation doesn't double-bill an identical image.
type FastCloud struct {
	cfg        FastCloudConfig
	httpClient *http.Client
	cache      *cache.Cache
	log        *slog.Logger
}

// NewFastCloud constructs a FastCloud client.
func NewFastCloud(cfg FastCloudConfig) *FastCloud {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 2 * time.Minute
	}
	return &FastCloud{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache.New(cfg.CacheTTL, cfg.CacheTTL*2),
		log:        logging.ForService("classifier.fast_cloud"),
	}
}

// Tier reports this classifier's tier.
func (f *FastCloud) Tier() Tier { return TierFastCloud }

// Classify posts the spectrogram image to the fast vendor endpoint.
func (f *FastCloud) Classify(ctx context.Context, imageBytes []byte) (Result, error) {
	key := cacheKey(imageBytes)
	if cached, ok := f.cache.Get(key); ok {
		f.log.Debug("fast cloud cache hit", "key", key)
		return cached.(Result), nil
	}

	result, err := postClassify(ctx, f.httpClient, f.cfg.Endpoint, f.cfg.APIKey, imageBytes, TierFastCloud)
	if err != nil {
		return Result{}, err
	}
	f.cache.Set(key, result, cache.DefaultExpiration)
	return result, nil
}

// DeepCloudConfig configures the higher-accuracy, rate-limited cloud tier.
type DeepCloudConfig struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	RateLimit     int           // requests allowed per RateWindow
	RateWindow    time.Duration
	OnRateLimited func()        // optional, e.g. wired to a metrics counter
}

// DeepCloud calls a more expensive, higher-accuracy vendor endpoint,
// guarded by a sliding-window rate limiter (spec default: 5 req / 15 min).
type DeepCloud struct {
	cfg        DeepCloudConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

// NewDeepCloud constructs a DeepCloud client with its rate limiter
// configured to allow RateLimit requests per RateWindow, expressed as
// golang.org/x/time/rate's token bucket refilling continuously at
// RateLimit/RateWindow tokens per second with a burst equal to RateLimit
// so an idle node can use its full quota in a burst, matching a sliding
// window's effective admission behavior at the configured granularity.
func NewDeepCloud(cfg DeepCloudConfig) *DeepCloud {
	if cfg.Timeout == 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 5
	}
	if cfg.RateWindow == 0 {
		cfg.RateWindow = 15 * time.Minute
	}
	perSecond := rate.Limit(float64(cfg.RateLimit) / cfg.RateWindow.Seconds())
	return &DeepCloud{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(perSecond, cfg.RateLimit),
		log:        logging.ForService("classifier.deep_cloud"),
	}
}

// Tier reports this classifier's tier.
func (d *DeepCloud) Tier() Tier { return TierDeepCloud }

// QuotaRemaining reports the number of deep-cloud calls currently
// available and when the configured window's burst fully refills,
// for the hub API's /api/ai/status endpoint.
func (d *DeepCloud) QuotaRemaining() (remaining int, resetAt time.Time) {
	now := time.Now()
	tokens := int(d.limiter.TokensAt(now))
	if tokens < 0 {
		tokens = 0
	}
	return tokens, now.Add(d.cfg.RateWindow)
}

// Classify posts the spectrogram image to the deep vendor endpoint,
// refusing with *RateLimitedError when the quota is exhausted.
func (d *DeepCloud) Classify(ctx context.Context, imageBytes []byte) (Result, error) {
	if !d.limiter.Allow() {
		reservation := d.limiter.Reserve()
		delay := reservation.Delay()
		reservation.Cancel() // we are not actually going to wait; report and bail
		d.log.Warn("deep cloud rate limit exhausted", "retry_after", delay)
		if d.cfg.OnRateLimited != nil {
			d.cfg.OnRateLimited()
		}
		return Result{}, &RateLimitedError{RetryAfterHint: delay.Round(time.Second).String()}
	}
	return postClassify(ctx, d.httpClient, d.cfg.Endpoint, d.cfg.APIKey, imageBytes, TierDeepCloud)
}

func postClassify(ctx context.Context, client *http.Client, endpoint, apiKey string, imageBytes []byte, tier Tier) (Result, error) {
	body, err := json.Marshal(cloudRequest{
		ImageBase64: base64Encode(imageBytes),
		Width:       gridWidth,
		Height:      gridHeight,
	})
	if err != nil {
		return Result{}, wrapErr(tier, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, wrapErr(tier, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, wrapErr(tier, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, wrapErr(tier, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, wrapErr(tier, fgerrors.NewStd(fmt.Sprintf(
			"classifier endpoint returned status %d: %s", resp.StatusCode, string(respBody))))
	}

	var cr cloudResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return Result{}, wrapErr(tier, err)
	}

	label := Label(cr.Label)
	switch label {
	case LabelChainsaw, LabelVehicle, LabelNatural:
	default:
		label = LabelUnknown
	}

	return Result{
		Label:       label,
		Confidence:  cr.Confidence,
		ThreatLevel: ThreatLevelFor(label, cr.Confidence),
		Reasoning:   cr.Reasoning,
		Features:    cr.Features,
		Tier:        tier,
	}, nil
}
