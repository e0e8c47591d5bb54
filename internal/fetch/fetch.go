// Package fetch issues signed, paginated provider requests with rate
// limiting, response classification and bounded retries.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/jonesrussell/hotel-ingest/internal/keypool"
	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// Provider info codes embedded in response bodies.
const (
	infocodeOK        = "10000"
	infocodeThrottled = "10021"
)

// quotaInfocodes are the provider codes meaning the credential's quota
// or auth is exhausted.
var quotaInfocodes = map[string]struct{}{
	"10003": {},
	"10004": {},
	"10044": {},
}

var (
	// ErrProviderError is returned for malformed or rejected responses
	// that retrying cannot fix.
	ErrProviderError = errors.New("fetch: provider error")

	// ErrRetriesExhausted is returned once the transient retry budget
	// for a page is spent.
	ErrRetriesExhausted = errors.New("fetch: retries exhausted")
)

// Page is one POI result page.
type Page struct {
	Items   []models.RawPoi
	HasMore bool
}

// HotelIDPage is one page of the incremental hotel-ID crawl.
type HotelIDPage struct {
	IDs     []int64
	HasMore bool
}

// HotelDetail is one hotel detail record with its uncompressed raw
// provider payload.
type HotelDetail struct {
	HotelID   int64
	TagSource string
	Raw       string
}

// Config holds executor tunables.
type Config struct {
	PoiBaseURL      string
	HotelBaseURL    string
	PageSize        int
	DetailBatchSize int

	MaxAttempts int
	BaseDelay   time.Duration
	// RateLimitBaseDelay replaces BaseDelay when the provider returned
	// an HTTP 429.
	RateLimitBaseDelay time.Duration
	JitterMax          time.Duration
	// ThrottleSleep is slept before retrying a QPS-throttled page.
	// Throttle retries do not consume the retry budget.
	ThrottleSleep time.Duration

	QPSLimit       float64
	RequestTimeout time.Duration
}

// Executor fetches provider pages. One executor serves one run; it is
// not safe for concurrent use.
type Executor struct {
	client  *http.Client
	pool    *keypool.KeyPool
	limiter *rate.Limiter
	cfg     Config
	log     logger.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor over the credential pool.
func NewExecutor(cfg Config, pool *keypool.KeyPool, log logger.Logger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.QPSLimit <= 0 {
		cfg.QPSLimit = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	return &Executor{
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		pool:    pool,
		limiter: rate.NewLimiter(rate.Limit(cfg.QPSLimit), 1),
		cfg:     cfg,
		log:     log,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// FetchPoiPage fetches one POI page for a (region, category) unit.
// Returns keypool.ErrNoKeyAvailable when the credential pool is spent,
// which the caller must treat as fatal for the run.
func (e *Executor) FetchPoiPage(ctx context.Context, regionCode, categoryCode string, page int) (Page, error) {
	params := url.Values{}
	params.Set("region", regionCode)
	params.Set("types", categoryCode)
	params.Set("page_num", strconv.Itoa(page))
	params.Set("page_size", strconv.Itoa(e.cfg.PageSize))

	body, err := e.getClassified(ctx, e.cfg.PoiBaseURL, params)
	if err != nil {
		return Page{}, err
	}

	var items []models.RawPoi
	if pois := gjson.GetBytes(body, "pois"); pois.Exists() {
		if err := json.Unmarshal([]byte(pois.Raw), &items); err != nil {
			return Page{}, fmt.Errorf("%w: malformed pois array: %s", ErrProviderError, err)
		}
	}

	return Page{Items: items, HasMore: len(items) >= e.cfg.PageSize}, nil
}

// FetchHotelIDPage fetches the next page of hotel IDs above the
// watermark cursor.
func (e *Executor) FetchHotelIDPage(ctx context.Context, maxID int64) (HotelIDPage, error) {
	params := url.Values{}
	params.Set("start_id", strconv.FormatInt(maxID, 10))
	params.Set("page_size", strconv.Itoa(e.cfg.PageSize))

	body, err := e.getClassified(ctx, e.cfg.HotelBaseURL+"/ids", params)
	if err != nil {
		return HotelIDPage{}, err
	}

	var ids []int64
	for _, v := range gjson.GetBytes(body, "hotelIds").Array() {
		ids = append(ids, v.Int())
	}

	return HotelIDPage{IDs: ids, HasMore: len(ids) >= e.cfg.PageSize}, nil
}

// FetchHotelDetails fetches detail payloads for the given IDs in fixed
// sub-batches. Each sub-batch is retried independently so one failing
// batch does not block the rest; IDs whose batch exhausted its retries
// are returned in failed.
func (e *Executor) FetchHotelDetails(ctx context.Context, ids []int64) (details []HotelDetail, failed []int64, err error) {
	batchSize := e.cfg.DetailBatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		batch := ids[start:end]

		var got []HotelDetail
		retryErr := Retry(ctx, e.cfg.MaxAttempts, e.cfg.BaseDelay, e.cfg.JitterMax,
			func(int) error {
				var fetchErr error
				got, fetchErr = e.fetchDetailBatch(ctx, batch)
				return fetchErr
			},
			func(err error) bool {
				// getClassified already spent the per-page budget on
				// transient failures; do not multiply retries.
				return !errors.Is(err, ErrProviderError) && !errors.Is(err, ErrRetriesExhausted)
			})
		if retryErr != nil {
			if errors.Is(retryErr, keypool.ErrNoKeyAvailable) || errors.Is(retryErr, context.Canceled) {
				return details, failed, retryErr
			}
			e.log.Warn("detail batch failed after retries",
				logger.Int("batch_size", len(batch)),
				logger.Error(retryErr))
			failed = append(failed, batch...)
			continue
		}
		details = append(details, got...)
	}
	return details, failed, nil
}

func (e *Executor) fetchDetailBatch(ctx context.Context, ids []int64) ([]HotelDetail, error) {
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = strconv.FormatInt(id, 10)
	}
	params := url.Values{}
	params.Set("hotel_ids", strings.Join(strIDs, ","))

	body, err := e.getClassified(ctx, e.cfg.HotelBaseURL+"/details", params)
	if err != nil {
		return nil, err
	}

	var out []HotelDetail
	for _, h := range gjson.GetBytes(body, "hotels").Array() {
		out = append(out, HotelDetail{
			HotelID:   h.Get("hotelId").Int(),
			TagSource: h.Get("tagSource").String(),
			Raw:       h.Raw,
		})
	}
	return out, nil
}

// getClassified performs one signed GET with the full classification
// loop: QPS throttles retry the same page without consuming the retry
// budget, quota codes rotate the credential, transient failures consume
// bounded retries with backoff, and malformed responses abort.
func (e *Executor) getClassified(ctx context.Context, baseURL string, params url.Values) ([]byte, error) {
	attempt := 1
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		cred, err := e.pool.Next()
		if err != nil {
			return nil, err
		}

		body, status, err := e.get(ctx, baseURL, params, cred)
		if err != nil || status >= http.StatusInternalServerError {
			if err == nil {
				err = fmt.Errorf("provider returned HTTP %d", status)
			}
			lastErr = err
			if attempt >= e.cfg.MaxAttempts {
				return nil, fmt.Errorf("%w: %s", ErrRetriesExhausted, lastErr)
			}
			if sleepErr := e.sleep(ctx, Backoff(attempt, e.cfg.BaseDelay, e.cfg.JitterMax)); sleepErr != nil {
				return nil, sleepErr
			}
			attempt++
			continue
		}

		if status == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("provider returned HTTP 429")
			if attempt >= e.cfg.MaxAttempts {
				return nil, fmt.Errorf("%w: %s", ErrRetriesExhausted, lastErr)
			}
			if sleepErr := e.sleep(ctx, Backoff(attempt, e.cfg.RateLimitBaseDelay, e.cfg.JitterMax)); sleepErr != nil {
				return nil, sleepErr
			}
			attempt++
			continue
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("%w: unexpected HTTP %d", ErrProviderError, status)
		}

		infocode := gjson.GetBytes(body, "infocode").String()
		if infocode == infocodeThrottled {
			// Same page, same budget; provider asked us to slow down.
			e.log.Debug("provider throttled, retrying same page",
				logger.Duration("sleep", e.cfg.ThrottleSleep))
			if sleepErr := e.sleep(ctx, e.cfg.ThrottleSleep); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		if _, quota := quotaInfocodes[infocode]; quota {
			e.pool.MarkFailure(cred.Key, "quota infocode "+infocode)
			// Rotate to the next credential; pool exhaustion surfaces
			// from Next on the following pass.
			continue
		}
		if s := gjson.GetBytes(body, "status").String(); s != "1" {
			return nil, fmt.Errorf("%w: status=%s infocode=%s", ErrProviderError, s, infocode)
		}

		e.pool.MarkSuccess(cred.Key)
		return body, nil
	}
}

func (e *Executor) get(ctx context.Context, baseURL string, params url.Values, cred models.Credential) ([]byte, int, error) {
	signed := url.Values{}
	for k, vs := range params {
		signed[k] = vs
	}
	ts := time.Now().Unix()
	signed.Set("app", cred.Key)
	signed.Set("timestamp", strconv.FormatInt(ts, 10))
	signed.Set("sign", Sign(cred.Key, cred.Secret, ts))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+signed.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
