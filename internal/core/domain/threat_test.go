package domain

import "testing"

func TestClassifyRisk_Boundaries(t *testing.T) {
	tests := []struct {
		score int
		want  RiskLevel
	}{
		{-5, Low},
		{0, Low},
		{39, Low},
		{40, Medium},
		{69, Medium},
		{70, High},
		{89, High},
		{90, Critical},
		{100, Critical},
		{250, Critical},
	}

	for _, tt := range tests {
		if got := ClassifyRisk(tt.score); got != tt.want {
			t.Errorf("ClassifyRisk(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestClassifyRisk_Total(t *testing.T) {
	for score := -200; score <= 300; score++ {
		switch ClassifyRisk(score) {
		case Critical, High, Medium, Low:
		default:
			t.Fatalf("ClassifyRisk(%d) returned an unknown level", score)
		}
	}
}

func TestRiskLevel_Band(t *testing.T) {
	bands := map[RiskLevel]string{
		Critical: "red",
		High:     "orange",
		Medium:   "yellow",
		Low:      "green",
	}
	for level, want := range bands {
		if got := level.Band(); got != want {
			t.Errorf("%s.Band() = %q, want %q", level, got, want)
		}
	}
}

func TestClassifyType(t *testing.T) {
	tests := []struct {
		raw  string
		want ThreatType
	}{
		{"Phishing", Phishing},
		{"Malware", Malware},
		{"Spam", Spam},
		{"Ransomware", Spam},
		{"", Spam},
		{"phishing", Spam},
		{"MALWARE", Spam},
		{" Malware", Spam},
	}

	for _, tt := range tests {
		if got := ClassifyType(tt.raw); got != tt.want {
			t.Errorf("ClassifyType(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestParseFilter(t *testing.T) {
	valid := map[string]Filter{
		"":         FilterAll,
		"All":      FilterAll,
		"Phishing": Filter(Phishing),
		"Malware":  Filter(Malware),
		"Spam":     Filter(Spam),
	}
	for in, want := range valid {
		got, err := ParseFilter(in)
		if err != nil {
			t.Errorf("ParseFilter(%q) unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseFilter(%q) = %q, want %q", in, got, want)
		}
	}

	for _, in := range []string{"all", "Ransomware", "spam"} {
		if _, err := ParseFilter(in); err == nil {
			t.Errorf("ParseFilter(%q) expected error", in)
		}
	}
}

func TestThreatRecord_Matches(t *testing.T) {
	r := ThreatRecord{ID: "t1", RawType: "Ransomware", Type: Spam}

	if !r.Matches(FilterAll) {
		t.Error("every record should match All")
	}
	if !r.Matches(Filter(Spam)) {
		t.Error("unrecognized raw type should match the Spam filter")
	}
	if r.Matches(Filter(Malware)) {
		t.Error("Spam record should not match Malware")
	}
}

func TestSenderDomain(t *testing.T) {
	tests := []struct {
		sender string
		addr   string
		domain string
	}{
		{"billing@paypa1.com", "billing@paypa1.com", "paypa1.com"},
		{"Security Team <Alerts@Bank-Secure.NET>", "alerts@bank-secure.net", "bank-secure.net"},
		{"  no-reply@example.org ", "no-reply@example.org", "example.org"},
		{"unknown sender", "unknown sender", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		if got := SenderAddress(tt.sender); got != tt.addr {
			t.Errorf("SenderAddress(%q) = %q, want %q", tt.sender, got, tt.addr)
		}
		if got := SenderDomain(tt.sender); got != tt.domain {
			t.Errorf("SenderDomain(%q) = %q, want %q", tt.sender, got, tt.domain)
		}
	}
}
