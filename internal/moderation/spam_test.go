package moderation

import "testing"

func TestSpamURLs(t *testing.T) {
	f := NewFilter()

	flagged := []string{
		"check out https://totally-legit.example/win",
		"visit www.free-stuff.biz now",
		"go to scam.xyz/claim",
	}
	for _, text := range flagged {
		result := f.Check(text)
		if !result.Blocked || result.Reason != "spam_pattern" || result.Term != "url" {
			t.Errorf("%q: got %+v, want url spam", text, result)
		}
	}

	clean := []string{
		"we shipped v2.0 today",
		"pi is about 3.14",
		"the meeting is at 10.30",
	}
	for _, text := range clean {
		if result := f.Check(text); result.Blocked {
			t.Errorf("clean text %q flagged: %+v", text, result)
		}
	}
}

func TestSpamPhoneNumbers(t *testing.T) {
	f := NewFilter()

	flagged := []string{
		"call me at 555-123-4567",
		"text +1-555-123-4567 for deals",
		"(555) 123-4567 anytime",
	}
	for _, text := range flagged {
		result := f.Check(text)
		if !result.Blocked || result.Term != "phone" {
			t.Errorf("%q: got %+v, want phone spam", text, result)
		}
	}
}

func TestSpamCharFlood(t *testing.T) {
	f := NewFilter()

	result := f.Check("yessssss")
	if !result.Blocked || result.Term != "char_flood" {
		t.Errorf("char flood not detected: %+v", result)
	}

	if result := f.Check("yessss"); result.Blocked {
		t.Errorf("4 repeats flagged: %+v", result)
	}
}

func TestSpamWordFlood(t *testing.T) {
	f := NewFilter()

	result := f.Check("buy buy buy")
	if !result.Blocked || result.Term != "word_flood" {
		t.Errorf("word flood not detected: %+v", result)
	}

	if result := f.Check("buy Buy BUY"); !result.Blocked {
		t.Error("case-insensitive word flood not detected")
	}

	if result := f.Check("buy it buy it buy"); result.Blocked {
		t.Errorf("non-consecutive repeats flagged: %+v", result)
	}
}

func TestHasCharFlood(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"aaaaa", true},
		{"aaaa", false},
		{"abababab", false},
		{"", false},
		{"!!!!!", true},
	}
	for _, tt := range tests {
		if got := hasCharFlood(tt.text); got != tt.want {
			t.Errorf("hasCharFlood(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestHasWordFlood(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"spam spam spam", true},
		{"spam spam", false},
		{"one two three", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := hasWordFlood(tt.text); got != tt.want {
			t.Errorf("hasWordFlood(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
