package ledger

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MobilePolicy decides which 10-digit numbers are accepted.
type MobilePolicy string

const (
	// MobileStrict accepts Indian mobile numbers: 10 digits starting 6-9.
	MobileStrict MobilePolicy = "strict"
	// MobileLoose accepts any 10 digits not starting with 0.
	MobileLoose MobilePolicy = "loose"
)

var (
	strictMobile = regexp.MustCompile(`^[6-9][0-9]{9}$`)
	looseMobile  = regexp.MustCompile(`^[1-9][0-9]{9}$`)
)

// ParseMobilePolicy maps a config value to a policy, defaulting to strict.
func ParseMobilePolicy(s string) MobilePolicy {
	if MobilePolicy(strings.ToLower(strings.TrimSpace(s))) == MobileLoose {
		return MobileLoose
	}
	return MobileStrict
}

// Validate returns the trimmed number or ErrInvalidMobile.
func (p MobilePolicy) Validate(mobile string) (string, error) {
	m := strings.TrimSpace(mobile)
	re := strictMobile
	if p == MobileLoose {
		re = looseMobile
	}
	if !re.MatchString(m) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMobile, mobile)
	}
	return m, nil
}

// maxAmount bounds every stored amount to what NUMERIC(14,2) holds.
var maxAmount = decimal.New(1, 12)

// validAmount reports whether d has at most two decimal places and fits the
// amount columns, so every store keeps it exactly.
func validAmount(d decimal.Decimal) bool {
	return d.Abs().LessThan(maxAmount) && d.Equal(d.Truncate(2))
}

func validateDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return s, nil
}

// pickup resolves the pickup type and distance pair. Distance is only kept
// for Pickup, where it must be a positive whole number.
func pickup(kind string, raw json.RawMessage) (PickupType, *int, error) {
	var pt PickupType
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "self":
		return PickupSelf, nil, nil
	case "pickup":
		pt = PickupPickup
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidPickupType, kind)
	}

	d, err := parseDistance(raw)
	if err != nil || d <= 0 {
		return "", nil, ErrInvalidDistance
	}
	return pt, &d, nil
}

// parseDistance accepts a JSON number or a numeric string.
func parseDistance(raw json.RawMessage) (int, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, ErrInvalidDistance
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
	}
	return strconv.Atoi(s)
}

// parsePickupCell reads a stored pickup type; anything but Pickup is Self.
func parsePickupCell(s string) PickupType {
	if strings.EqualFold(strings.TrimSpace(s), string(PickupPickup)) {
		return PickupPickup
	}
	return PickupSelf
}

// parseStatusCell reads a stored status. Blank cells predate the column and
// count as Active; unknown values are kept so they stay hidden.
func parseStatusCell(s string) Status {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || strings.EqualFold(s, string(StatusActive)):
		return StatusActive
	case strings.EqualFold(s, string(StatusDeleted)):
		return StatusDeleted
	default:
		return Status(s)
	}
}
