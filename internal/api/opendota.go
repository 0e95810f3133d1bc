package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"cama-shuffle/internal/config"
	"cama-shuffle/internal/constants"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

var (
	ErrPlayerNotFound = errors.New("opendota: player not found")
	ErrRateLimited    = errors.New("opendota: rate limit exhausted")
)

// rank_tier OpenDota reports for the top medal.
const immortalRankTier = 80

type OpenDotaClient struct {
	baseURL     string
	apiKey      string
	client      *fasthttp.Client
	limiter     *rate.Limiter
	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
}

type RateLimitInfo struct {
	RemainingMinute int       `json:"remaining_minute"`
	RemainingDay    int       `json:"remaining_day"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func NewOpenDotaClient(cfg *config.Config) *OpenDotaClient {
	return &OpenDotaClient{
		baseURL: strings.TrimSuffix(cfg.OpenDotaBaseURL, "/"),
		apiKey:  cfg.OpenDotaAPIKey,
		client: &fasthttp.Client{
			MaxConnsPerHost:     16,
			ReadTimeout:         constants.ExternalAPITimeout,
			WriteTimeout:        constants.ExternalAPITimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.OpenDotaRequestsPerMinute)/60), cfg.OpenDotaBurst),
		rateLimit: RateLimitInfo{
			RemainingMinute: cfg.OpenDotaRequestsPerMinute,
			RemainingDay:    2000,
			UpdatedAt:       time.Now(),
		},
	}
}

func (c *OpenDotaClient) GetRateLimitInfo() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *OpenDotaClient) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if minute := string(resp.Header.Peek("X-Rate-Limit-Remaining-Minute")); minute != "" {
		if val, err := strconv.Atoi(minute); err == nil {
			c.rateLimit.RemainingMinute = val
		}
	}
	if day := string(resp.Header.Peek("X-Rate-Limit-Remaining-Day")); day != "" {
		if val, err := strconv.Atoi(day); err == nil {
			c.rateLimit.RemainingDay = val
		}
	}
	c.rateLimit.UpdatedAt = time.Now()
}

// GetPlayer fetches /players/{account_id}. accountID is the 32-bit Steam id.
func (c *OpenDotaClient) GetPlayer(ctx context.Context, accountID int64) (*PlayerResponse, error) {
	endpoint := fmt.Sprintf("%s/players/%d", c.baseURL, accountID)
	if c.apiKey != "" {
		endpoint += "?api_key=" + url.QueryEscape(c.apiKey)
	}
	player, err := doRequest[PlayerResponse](ctx, c, endpoint)
	if err != nil {
		return nil, err
	}
	if player.Profile == nil {
		return nil, fmt.Errorf("%w: %d", ErrPlayerNotFound, accountID)
	}
	return player, nil
}

// GetPlayerMMR returns the best available skill estimate for accountID, or
// nil when OpenDota has none.
func (c *OpenDotaClient) GetPlayerMMR(ctx context.Context, accountID int64) (*int, error) {
	player, err := c.GetPlayer(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return player.MMR(), nil
}

// throttle blocks until the local limiter admits one more call. A call is
// refused outright while OpenDota reports the current minute spent.
func (c *OpenDotaClient) throttle(ctx context.Context) error {
	info := c.GetRateLimitInfo()
	if info.RemainingMinute <= 0 && time.Since(info.UpdatedAt) < time.Minute {
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, info.UpdatedAt.Add(time.Minute).Format(time.RFC3339))
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return nil
}

func doRequest[T any](ctx context.Context, client *OpenDotaClient, endpoint string) (*T, error) {
	if err := client.throttle(ctx); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	deadline, ok := ctx.Deadline()
	if ok {
		if err := client.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, err
		}
	} else {
		if err := client.client.DoTimeout(req, resp, constants.ExternalAPITimeout); err != nil {
			return nil, err
		}
	}

	client.updateRateLimit(resp)

	switch resp.StatusCode() {
	case fasthttp.StatusNotFound:
		return nil, ErrPlayerNotFound
	case fasthttp.StatusTooManyRequests:
		return nil, ErrRateLimited
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("API error: %d", resp.StatusCode())
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type PlayerResponse struct {
	Profile             *Profile     `json:"profile"`
	RankTier            *int         `json:"rank_tier"`
	LeaderboardRank     *int         `json:"leaderboard_rank"`
	ComputedMMR         *float64     `json:"computed_mmr"`
	SoloCompetitiveRank *int         `json:"solo_competitive_rank"`
	MMREstimate         *MMREstimate `json:"mmr_estimate"`
}

type Profile struct {
	AccountID   int64  `json:"account_id"`
	PersonaName string `json:"personaname"`
	Avatar      string `json:"avatarfull"`
}

type MMREstimate struct {
	Estimate *int `json:"estimate"`
}

// MMR picks OpenDota's estimate, then the computed MMR, then the legacy solo
// rank. Immortal players without a believable number are placed from their
// leaderboard rank.
func (p *PlayerResponse) MMR() *int {
	immortal := p.RankTier != nil && *p.RankTier == immortalRankTier

	if p.MMREstimate != nil && p.MMREstimate.Estimate != nil && *p.MMREstimate.Estimate > 0 {
		return p.MMREstimate.Estimate
	}
	if p.ComputedMMR != nil && *p.ComputedMMR > 0 {
		mmr := int(*p.ComputedMMR)
		if immortal && mmr < 5500 {
			mmr = immortalMMR(p.LeaderboardRank)
		}
		return &mmr
	}
	if p.SoloCompetitiveRank != nil && *p.SoloCompetitiveRank > 0 {
		return p.SoloCompetitiveRank
	}
	if immortal {
		mmr := immortalMMR(p.LeaderboardRank)
		return &mmr
	}
	return nil
}

func immortalMMR(leaderboardRank *int) int {
	if leaderboardRank == nil || *leaderboardRank <= 0 {
		return 5500
	}
	switch rank := *leaderboardRank; {
	case rank <= 100:
		return 7000
	case rank <= 500:
		return 6500
	case rank <= 1000:
		return 6000
	default:
		return min(5500+int(1000.0/float64(rank)*500), 6000)
	}
}
