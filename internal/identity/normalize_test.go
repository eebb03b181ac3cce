package identity

import "testing"

func TestNormalizeEmailLowercasesAndTrims(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  Maria.Silva@Example.COM ", "maria.silva@example.com"},
		{"joao@exemplo.com.br", "joao@exemplo.com.br"},
		{"   ", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeEmail(c.in); got != c.want {
			t.Fatalf("NormalizeEmail(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizePhoneNationalNumberGetsCountryCode(t *testing.T) {
	if got := NormalizePhone("11999990001"); got != "+5511999990001" {
		t.Fatalf("expected +5511999990001, got %q", got)
	}
}

func TestNormalizePhoneAlreadyPrefixedNumbersMatchNationalForm(t *testing.T) {
	inputs := []string{
		"5511999990001",
		"+55 11 99999-0001",
		"(11) 99999-0001",
		"55 (11) 99999-0001",
	}
	for _, in := range inputs {
		if got := NormalizePhone(in); got != "+5511999990001" {
			t.Fatalf("NormalizePhone(%q) = %q, want +5511999990001", in, got)
		}
	}
}

func TestNormalizePhoneTwelveDigitCountryPrefixedKeptVerbatim(t *testing.T) {
	// Older landline-style exports ship 12 digits including the country code.
	if got := NormalizePhone("551133334444"); got != "+551133334444" {
		t.Fatalf("expected +551133334444, got %q", got)
	}
}

func TestNormalizePhoneOverlongInputKeepsLastElevenDigits(t *testing.T) {
	if got := NormalizePhone("00555511999990001"); got != "+5511999990001" {
		t.Fatalf("expected +5511999990001, got %q", got)
	}
}

func TestNormalizePhoneEmptyAndNonNumericReturnEmpty(t *testing.T) {
	if got := NormalizePhone(""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if got := NormalizePhone("n/a"); got != "" {
		t.Fatalf("expected empty for non-numeric input, got %q", got)
	}
}

func TestPhoneLooksValidAcceptsNormalizedMobile(t *testing.T) {
	if !PhoneLooksValid("+5511999990001") {
		t.Fatal("expected normalized mobile number to look valid")
	}
}

func TestPhoneLooksValidRejectsEmptyAndGarbage(t *testing.T) {
	if PhoneLooksValid("") {
		t.Fatal("expected empty phone to be invalid")
	}
	if PhoneLooksValid("+550") {
		t.Fatal("expected truncated phone to be invalid")
	}
}
