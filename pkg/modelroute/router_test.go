package modelroute

import (
	"strings"
	"testing"

	"gotovo/pkg/domain"
)

func TestSelectByFundingMode(t *testing.T) {
	r := New(Table{})
	cases := []struct {
		mode   domain.FundingMode
		prompt string
		want   string
	}{
		{domain.ModeFree, "Реши уравнение x+2=5", "gpt-4o-mini"},
		{domain.ModeTrial, "Что такое подлежащее?", "gpt-4o"},
		{domain.ModeCredit, "Что такое подлежащее?", "gpt-4o-mini"},
		{domain.ModeCredit, "Реши Уравнение x+2=5", "o4-mini"},
		{domain.ModeSubscription, "Объясни по шагам", "o4-mini"},
		{domain.ModeSubscription, strings.Repeat("а", 601), "o4-mini"},
		{domain.ModeSubscription, strings.Repeat("а", 600), "gpt-4o-mini"},
	}
	for _, tc := range cases {
		if got := r.Select(tc.mode, tc.prompt); got.Model != tc.want {
			t.Fatalf("Select(%s, %q) = %q, want %q", tc.mode, tc.prompt, got.Model, tc.want)
		}
	}
}

func TestNewKeepsOverridesAndFillsGaps(t *testing.T) {
	r := New(Table{Trial: Route{Model: "qwen2.5"}})
	route := r.Select(domain.ModeTrial, "")
	if route.Model != "qwen2.5" || route.MaxTokens != 1200 || route.Tag != "qwen2.5" {
		t.Fatalf("unexpected trial route: %+v", route)
	}
	if got := r.Select(domain.ModeFree, "").Tag; got != "4o-mini" {
		t.Fatalf("expected default free tag, got %q", got)
	}
	if got := len(r.Models()); got != 3 {
		t.Fatalf("expected 3 distinct models, got %d", got)
	}
}
