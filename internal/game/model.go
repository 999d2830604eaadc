package game

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	StarterBTC = decimal.NewFromInt(10)
	StarterUSD = decimal.NewFromInt(10_000)

	// Market price bounds, in USD per BTC.
	MinBTCPrice     = decimal.NewFromInt(1)
	MaxBTCPrice     = decimal.NewFromInt(10_000_000)
	InitialBTCPrice = decimal.NewFromInt(45_230)
)

const (
	// BTCPlaces is the precision kept on every BTC amount after a percentage
	// is applied.
	BTCPlaces = 8

	PriceHistoryLen = 64
)

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientShards   = fmt.Errorf("%w: not enough shards", ErrInsufficientFunds)
	ErrInsufficientLoyalty  = fmt.Errorf("%w: not enough loyalty points", ErrInsufficientFunds)
	ErrAlreadyInState       = errors.New("already in requested state")
	ErrNotEligible          = errors.New("not eligible")
	ErrNotFound             = errors.New("not found")
	ErrLostUpdate           = errors.New("concurrent update conflict, retry later")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnauthorized         = errors.New("unauthorized")
)

var usernameRE = regexp.MustCompile(`^[a-zA-Z0-9_]{3,24}$`)

var blockedNameFragments = []string{
	"admin",
	"mod",
	"support",
	"shit",
	"fuck",
	"bitch",
	"nazi",
}

var avatars = map[string]bool{
	"icon1": true, "icon2": true, "icon3": true,
	"icon4": true, "icon5": true, "icon6": true,
}

// ValidateNickname accepts 3..24 letters, digits or underscores without
// blocked fragments.
func ValidateNickname(nickname string) error {
	nickname = strings.TrimSpace(nickname)
	if !usernameRE.MatchString(nickname) {
		return fmt.Errorf("%w: nickname must be 3-24 letters, digits or underscores", ErrInvalidInput)
	}
	lower := strings.ToLower(nickname)
	for _, fragment := range blockedNameFragments {
		if strings.Contains(lower, fragment) {
			return fmt.Errorf("%w: nickname contains blocked content", ErrInvalidInput)
		}
	}
	return nil
}

func ValidateAvatar(avatar string) error {
	if !avatars[strings.TrimSpace(avatar)] {
		return fmt.Errorf("%w: unknown avatar %q", ErrInvalidInput, avatar)
	}
	return nil
}

func usernameFromEmail(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	parts := strings.Split(email, "@")
	if len(parts) == 0 || parts[0] == "" {
		return "player"
	}
	return sanitizeUsername(parts[0])
}

func sanitizeUsername(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "player"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	res := strings.Trim(string(out), "_")
	if len(res) < 3 {
		res = "player_" + res
	}
	if len(res) > 24 {
		res = res[:24]
	}
	return res
}

// ISOWeekKey names the calendar week t falls in, e.g. "2026-W07".
func ISOWeekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func percentOf(v decimal.Decimal, pct int64) decimal.Decimal {
	return v.Mul(decimal.NewFromInt(pct)).Div(decimal.NewFromInt(100)).Truncate(BTCPlaces)
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func nonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

func fromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}
