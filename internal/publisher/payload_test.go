package publisher

import (
	"strings"
	"testing"
)

func TestExtractImageURL(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantText  string
		wantImage string
	}{
		{
			name:      "no marker",
			in:        "plain announcement text",
			wantText:  "plain announcement text",
			wantImage: "",
		},
		{
			name:      "trailing marker",
			in:        "new release is out\n[img]https://cdn.example.com/cover.png[/img]",
			wantText:  "new release is out",
			wantImage: "https://cdn.example.com/cover.png",
		},
		{
			name:      "marker mid-text",
			in:        "before [img]https://cdn.example.com/a.jpg[/img] after",
			wantText:  "before  after",
			wantImage: "https://cdn.example.com/a.jpg",
		},
		{
			name:      "empty marker",
			in:        "text [img][/img]",
			wantText:  "text",
			wantImage: "",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			text, image := ExtractImageURL(tc.in)
			if text != tc.wantText {
				t.Errorf("text = %q, want %q", text, tc.wantText)
			}
			if image != tc.wantImage {
				t.Errorf("image = %q, want %q", image, tc.wantImage)
			}
		})
	}
}

func TestTrimToBudgetUnderBudget(t *testing.T) {
	got := TrimToBudget("short", " https://x.co/a", 280)
	if got != "short https://x.co/a" {
		t.Fatalf("got %q", got)
	}
}

func TestTrimToBudgetPreservesSuffix(t *testing.T) {
	suffix := "\nhttps://example.com/post"
	text := strings.Repeat("w ", 300)
	got := TrimToBudget(text, suffix, 280)

	if len([]rune(got)) > 280 {
		t.Fatalf("result %d runes, budget 280", len([]rune(got)))
	}
	if !strings.HasSuffix(got, suffix) {
		t.Fatalf("suffix lost: %q", got)
	}
	if !strings.Contains(got, "…") {
		t.Fatalf("expected ellipsis in trimmed text: %q", got)
	}
}

func TestTrimToBudgetOversizedSuffixStillFitsBudget(t *testing.T) {
	suffix := "\n" + strings.Repeat("https://example.com/very-long-permalink ", 3)
	got := TrimToBudget("body", suffix, 20)
	if n := len([]rune(got)); n != 20 {
		t.Fatalf("result %d runes, budget 20: %q", n, got)
	}
}

func TestTrimToBudgetZeroBudgetMeansUnlimited(t *testing.T) {
	text := strings.Repeat("x", 5000)
	got := TrimToBudget(text, "!", 0)
	if got != text+"!" {
		t.Fatal("zero budget must not truncate")
	}
}

func TestRegistryStableOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(NewDiscordPublisher())
	r.Register(NewTwitterPublisher())

	got := r.Platforms()
	if len(got) != 2 || got[0] != "twitter" || got[1] != "discord" {
		t.Fatalf("unexpected order: %v", got)
	}
	if _, ok := r.Get("reddit"); ok {
		t.Fatal("reddit should not be registered")
	}
}
