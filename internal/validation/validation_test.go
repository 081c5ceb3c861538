package validation

import "testing"

func TestIsValidOwnerID(t *testing.T) {
	valid := []string{
		"9876543210",
		"cust_12345",
		"user@example.com",
		"alice.b",
		"91-9876543210",
	}
	for _, s := range valid {
		if !IsValidOwnerID(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}

	invalid := []string{
		"",
		"ab",             // too short
		"_leading",       // must start alphanumeric
		"has space",      // whitespace
		"semi;colon",     // disallowed char
		string(make([]byte, 100)), // too long / null bytes
	}
	for _, s := range invalid {
		if IsValidOwnerID(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestIsValidResourceID(t *testing.T) {
	if !IsValidResourceID("txn_0123456789abcdef01234567") {
		t.Error("expected prefixed hex ID to be valid")
	}
	if IsValidResourceID("0123456789abcdef") {
		t.Error("expected bare hex to be invalid")
	}
	if IsValidResourceID("txn_XYZ") {
		t.Error("expected non-hex suffix to be invalid")
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"100.00", true},
		{"0.01", true},
		{"5", true},
		{"", true}, // empty allowed, use Required for mandatory fields
		{"0", false},
		{"0.00", false},
		{"-5", false},
		{"1.2.3", false},
		{".50", false},
		{"50.", false},
		{"abc", false},
	}

	for _, tt := range tests {
		err := ValidAmount("amount", tt.value)()
		if tt.ok && err != nil {
			t.Errorf("ValidAmount(%q) unexpected error: %v", tt.value, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("ValidAmount(%q) expected error, got none", tt.value)
		}
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	errs := Validate(
		Required("ownerId", ""),
		ValidAmount("amount", "bogus"),
		MaxLength("reason", "ok", 100),
	)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	if errs[0].Field != "ownerId" {
		t.Errorf("expected first error on ownerId, got %s", errs[0].Field)
	}
}

func TestSanitizeString(t *testing.T) {
	got := SanitizeString("  hello\x00world  ", 8)
	if got != "hellowo" {
		t.Errorf("unexpected sanitized value: %q", got)
	}
}
