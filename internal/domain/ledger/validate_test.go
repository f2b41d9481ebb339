package ledger

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestMobilePolicy_Validate(t *testing.T) {
	tests := []struct {
		policy MobilePolicy
		in     string
		ok     bool
	}{
		{MobileStrict, "9876543210", true},
		{MobileStrict, " 6000000000 ", true},
		{MobileStrict, "5876543210", false},
		{MobileStrict, "0000000000", false},
		{MobileStrict, "987654321", false},
		{MobileStrict, "98765432101", false},
		{MobileStrict, "98765-4321", false},
		{MobileLoose, "1234567890", true},
		{MobileLoose, "0000000000", false},
		{MobileLoose, "123456789", false},
	}
	for _, tt := range tests {
		got, err := tt.policy.Validate(tt.in)
		if tt.ok && err != nil {
			t.Errorf("%s.Validate(%q) unexpected error: %v", tt.policy, tt.in, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidMobile) {
			t.Errorf("%s.Validate(%q) expected ErrInvalidMobile, got %v", tt.policy, tt.in, err)
		}
		if tt.ok && len(got) != 10 {
			t.Errorf("%s.Validate(%q) expected trimmed number, got %q", tt.policy, tt.in, got)
		}
	}
}

func TestParseMobilePolicy(t *testing.T) {
	if ParseMobilePolicy("LOOSE") != MobileLoose {
		t.Error("expected loose")
	}
	if ParseMobilePolicy("") != MobileStrict || ParseMobilePolicy("other") != MobileStrict {
		t.Error("expected strict by default")
	}
}

func TestPickup(t *testing.T) {
	tests := []struct {
		kind     string
		raw      string
		wantType PickupType
		wantDist int
		wantErr  error
	}{
		{"", "", PickupSelf, 0, nil},
		{"Self", "25", PickupSelf, 0, nil},
		{"Pickup", "25", PickupPickup, 25, nil},
		{"pickup", `"7"`, PickupPickup, 7, nil},
		{"Pickup", "", "", 0, ErrInvalidDistance},
		{"Pickup", "null", "", 0, ErrInvalidDistance},
		{"Pickup", "-3", "", 0, ErrInvalidDistance},
		{"Pickup", "2.5", "", 0, ErrInvalidDistance},
		{"Pickup", `"far"`, "", 0, ErrInvalidDistance},
		{"Bus", "3", "", 0, ErrInvalidPickupType},
	}
	for _, tt := range tests {
		var raw json.RawMessage
		if tt.raw != "" {
			raw = json.RawMessage(tt.raw)
		}
		pt, d, err := pickup(tt.kind, raw)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("pickup(%q, %s) error = %v, want %v", tt.kind, tt.raw, err, tt.wantErr)
			continue
		}
		if pt != tt.wantType {
			t.Errorf("pickup(%q, %s) type = %s, want %s", tt.kind, tt.raw, pt, tt.wantType)
		}
		if tt.wantDist == 0 && d != nil {
			t.Errorf("pickup(%q, %s) expected no distance, got %d", tt.kind, tt.raw, *d)
		}
		if tt.wantDist != 0 && (d == nil || *d != tt.wantDist) {
			t.Errorf("pickup(%q, %s) distance = %v, want %d", tt.kind, tt.raw, d, tt.wantDist)
		}
	}
}

func TestValidateDate(t *testing.T) {
	if s, err := validateDate(" 2026-02-28 "); err != nil || s != "2026-02-28" {
		t.Errorf("unexpected result %q %v", s, err)
	}
	if s, err := validateDate(""); err != nil || s != "" {
		t.Errorf("expected blank date to be allowed, got %q %v", s, err)
	}
	if _, err := validateDate("2026-02-30"); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}
}

func TestParseCells(t *testing.T) {
	if parseStatusCell("") != StatusActive || parseStatusCell("active") != StatusActive {
		t.Error("expected blank and lower-case status to read as Active")
	}
	if parseStatusCell(" Deleted ") != StatusDeleted {
		t.Error("expected Deleted")
	}
	if parseStatusCell("Archived") != Status("Archived") {
		t.Error("expected unknown status to be kept")
	}
	if parsePickupCell("PICKUP") != PickupPickup || parsePickupCell("") != PickupSelf {
		t.Error("unexpected pickup parsing")
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"0", true},
		{"60000", true},
		{"1500.5", true},
		{"0.01", true},
		{"1.500", true},
		{"999999999999.99", true},
		{"0.005", false},
		{"60000.123456789012345", false},
		{"1000000000000", false},
		{"100000000000000000000", false},
	}
	for _, tt := range tests {
		if got := validAmount(dec(tt.in)); got != tt.ok {
			t.Errorf("validAmount(%s) = %v, want %v", tt.in, got, tt.ok)
		}
	}
}
