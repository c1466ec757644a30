/**
 * @description
 * Pure commission calculation. Given a job value, a base rate and the referral
 * chain depth, the calculator produces an ordered breakdown of who is owed what.
 * No I/O happens here; the caller (chain resolver / service) turns breakdown
 * lines into CommissionFacts.
 *
 * @notes
 * - All amounts are int64 agorot. Rounding happens once per split, on the
 *   deepest line, so the level amounts always sum exactly to the base
 *   commission (no rounding leakage).
 * - Tier and seasonal adjustments apply to referrer-facing amounts only, never
 *   to the platform amount. A combined penalty is clamped so it cannot reduce a
 *   recipient's computed amount by more than 20%.
 */

package commission

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidInput marks Compute input validation failures so callers can
// distinguish a bad request from a calculation bug.
var ErrInvalidInput = errors.New("invalid commission input")

// Recipient roles in a breakdown line.
const (
	RolePlatform = "platform"
	RoleReferrer = "referrer"
)

// MaxChainLevels caps how many referral levels share the base commission.
// Deeper chains collapse into the last level.
const MaxChainLevels = 4

// levelWeights is the share of the base commission paid to each chain level.
// The tail mass of a truncated chain and the integer-rounding remainder are
// both credited to the deepest computed level.
var levelWeights = [MaxChainLevels]float64{0.60, 0.25, 0.10, 0.05}

// penaltyFloor bounds how much tier/seasonal penalties may reduce a referrer
// amount: never below 80% of the computed level amount.
const penaltyFloor = 0.80

// Config carries the rate tables. Zero values fall back to the defaults below.
type Config struct {
	CustomerJobRate   float64            // default base rate for customer jobs
	ReferralJobRate   float64            // default base rate for referral jobs
	CategoryRates     map[string]float64 // per-category base-rate overrides
	PlatformRate      float64            // default platform share on referral jobs
	PlatformRates     map[string]float64 // per-category platform-rate overrides
	TierMultipliers   map[string]float64 // referrer tier -> multiplier
	SeasonalFactors   map[time.Month]float64
	CategorySeasons   map[string]map[time.Month]float64 // per-category seasonal overrides
}

// DefaultConfig returns the standard rate tables: 10% on customer jobs, 5%
// referral share plus a 10% platform share on referral jobs.
func DefaultConfig() Config {
	return Config{
		CustomerJobRate: 0.10,
		ReferralJobRate: 0.05,
		PlatformRate:    0.10,
		TierMultipliers: map[string]float64{
			"bronze": 0.90,
			"silver": 1.00,
			"gold":   1.10,
		},
	}
}

// Calculator computes commission breakdowns from its rate configuration.
type Calculator struct {
	cfg Config
}

// NewCalculator returns a Calculator over the given config, filling in defaults
// for unset rates.
func NewCalculator(cfg Config) *Calculator {
	if cfg.CustomerJobRate <= 0 {
		cfg.CustomerJobRate = 0.10
	}
	if cfg.ReferralJobRate <= 0 {
		cfg.ReferralJobRate = 0.05
	}
	if cfg.PlatformRate <= 0 {
		cfg.PlatformRate = 0.10
	}
	return &Calculator{cfg: cfg}
}

// Input describes one commission computation.
type Input struct {
	JobValue     int64   // in agorot, > 0
	Rate         float64 // base commission rate; 0 means "use category default"
	Category     string
	ReferralJob  bool   // true when a referrer chain shares the commission
	ReferrerTier string // tier of the direct referrer, "" = neutral
	ChainLength  int    // number of referrers in the resolved chain (0 for customer jobs)
	Month        time.Month
}

// Line is one recipient's share in a breakdown. Percentage is informational
// (amount / job value x 100).
type Line struct {
	RecipientRole string
	Level         int
	Amount        int64
	Percentage    float64
	Description   string
}

// Breakdown is the ordered result of a commission computation. The platform
// line, when present, is always last.
type Breakdown struct {
	BaseRate       float64
	BaseCommission int64
	Lines          []Line
}

// Total returns the sum of all line amounts.
func (b Breakdown) Total() int64 {
	var total int64
	for _, l := range b.Lines {
		total += l.Amount
	}
	return total
}

// BaseRate resolves the effective base rate for an input: explicit rate first,
// then category override, then the commission-type default.
func (c *Calculator) BaseRate(in Input) float64 {
	if in.Rate > 0 {
		return in.Rate
	}
	if r, ok := c.cfg.CategoryRates[in.Category]; ok && r > 0 {
		return r
	}
	if in.ReferralJob {
		return c.cfg.ReferralJobRate
	}
	return c.cfg.CustomerJobRate
}

// PlatformRate resolves the platform share rate for a category.
func (c *Calculator) PlatformRate(category string) float64 {
	if r, ok := c.cfg.PlatformRates[category]; ok && r > 0 {
		return r
	}
	return c.cfg.PlatformRate
}

// Compute produces the commission breakdown for one job.
//
// Customer jobs (ChainLength == 0) owe the base commission to the platform.
// Referral jobs split the base commission across up to MaxChainLevels referrer
// levels and additionally owe the platform jobValue x platformRate(category).
func (c *Calculator) Compute(in Input) (Breakdown, error) {
	if in.JobValue <= 0 {
		return Breakdown{}, fmt.Errorf("%w: job value must be positive, got %d", ErrInvalidInput, in.JobValue)
	}
	if in.Rate < 0 || in.Rate > 1 {
		return Breakdown{}, fmt.Errorf("%w: rate must be within [0,1], got %v", ErrInvalidInput, in.Rate)
	}
	if in.ChainLength < 0 {
		return Breakdown{}, fmt.Errorf("%w: chain length must not be negative, got %d", ErrInvalidInput, in.ChainLength)
	}

	rate := c.BaseRate(in)
	base := roundAgorot(float64(in.JobValue) * rate)

	bd := Breakdown{BaseRate: rate, BaseCommission: base}

	if in.ChainLength == 0 {
		bd.Lines = append(bd.Lines, Line{
			RecipientRole: RolePlatform,
			Level:         0,
			Amount:        base,
			Percentage:    pct(base, in.JobValue),
			Description:   fmt.Sprintf("Platform commission (%.1f%% of job value)", rate*100),
		})
		return bd, nil
	}

	levels := in.ChainLength
	if levels > MaxChainLevels {
		levels = MaxChainLevels
	}

	if levels == 1 {
		amount := c.adjustReferrerAmount(base, in)
		bd.Lines = append(bd.Lines, Line{
			RecipientRole: RoleReferrer,
			Level:         0,
			Amount:        amount,
			Percentage:    pct(amount, in.JobValue),
			Description:   fmt.Sprintf("Referral commission (%.1f%% of job value)", rate*100),
		})
	} else {
		// Floor every level except the deepest; the deepest absorbs the
		// remainder (unused tail weight plus rounding residue) so the level
		// amounts sum exactly to the base commission.
		var allocated int64
		for level := 0; level < levels; level++ {
			var amount int64
			if level == levels-1 {
				amount = base - allocated
			} else {
				amount = int64(math.Floor(float64(base) * levelWeights[level]))
				allocated += amount
			}
			if level == 0 {
				amount = c.adjustReferrerAmount(amount, in)
			}
			bd.Lines = append(bd.Lines, Line{
				RecipientRole: RoleReferrer,
				Level:         level,
				Amount:        amount,
				Percentage:    pct(amount, in.JobValue),
				Description:   fmt.Sprintf("Referral commission, chain level %d", level),
			})
		}
	}

	platformRate := c.PlatformRate(in.Category)
	platformAmount := roundAgorot(float64(in.JobValue) * platformRate)
	bd.Lines = append(bd.Lines, Line{
		RecipientRole: RolePlatform,
		Level:         0,
		Amount:        platformAmount,
		Percentage:    pct(platformAmount, in.JobValue),
		Description:   fmt.Sprintf("Platform commission (%.1f%% of job value)", platformRate*100),
	})

	return bd, nil
}

// adjustReferrerAmount applies tier and seasonal multipliers to a referrer
// amount. The combined penalty is clamped at penaltyFloor of the computed
// amount; the platform amount is never adjusted.
func (c *Calculator) adjustReferrerAmount(amount int64, in Input) int64 {
	multiplier := 1.0
	if in.ReferrerTier != "" {
		if m, ok := c.cfg.TierMultipliers[in.ReferrerTier]; ok && m > 0 {
			multiplier *= m
		}
	}
	if seasons, ok := c.cfg.CategorySeasons[in.Category]; ok {
		if m, ok := seasons[in.Month]; ok && m > 0 {
			multiplier *= m
		}
	} else if m, ok := c.cfg.SeasonalFactors[in.Month]; ok && m > 0 {
		multiplier *= m
	}
	if multiplier == 1.0 {
		return amount
	}
	if multiplier < penaltyFloor {
		multiplier = penaltyFloor
	}
	return roundAgorot(float64(amount) * multiplier)
}

func roundAgorot(v float64) int64 {
	return int64(math.Round(v))
}

func pct(amount, jobValue int64) float64 {
	if jobValue == 0 {
		return 0
	}
	return float64(amount) / float64(jobValue) * 100
}
