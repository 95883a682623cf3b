package rates

import (
	"context"
	"testing"
)

func TestValidateReportsMissingTypes(t *testing.T) {
	store := newStore()
	store.add("EUR", "USD", date(2024, 3, 31), RateTypeClosing, "1.0850")
	store.add("GBP", "USD", date(2024, 3, 15), RateTypeClosing, "1.2600")
	store.add("GBP", "USD", date(2024, 3, 31), RateTypeAverage, "1.2650")
	store.add("JPY", "USD", date(2024, 2, 29), RateTypeClosing, "0.0067")

	reqs := []Requirement{
		{From: "eur", To: "usd", Types: []RateType{RateTypeClosing, RateTypeAverage}},
		{From: "GBP", To: "USD", Types: []RateType{RateTypeClosing, RateTypeAverage}},
		{From: "JPY", To: "USD", Types: []RateType{RateTypeClosing}},
		{From: "USD", To: "USD", Types: []RateType{RateTypeClosing}},
	}
	res, err := Validate(context.Background(), store, date(2024, 3, 31), reqs)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if res.Checked != 3 {
		t.Fatalf("expected 3 pairs checked, got %d", res.Checked)
	}
	if len(res.Gaps) != 2 {
		t.Fatalf("expected two gaps, got %+v", res.Gaps)
	}
	if res.Gaps[0].Pair != "EURUSD" || len(res.Gaps[0].Types) != 1 || res.Gaps[0].Types[0] != RateTypeAverage {
		t.Fatalf("unexpected EURUSD gap %+v", res.Gaps[0])
	}
	if res.Gaps[1].Pair != "JPYUSD" || res.Gaps[1].Types[0] != RateTypeClosing {
		t.Fatalf("unexpected JPYUSD gap %+v", res.Gaps[1])
	}
	if _, ok := res.Available["GBPUSD"][RateTypeAverage]; !ok {
		t.Fatalf("expected GBPUSD average to be available")
	}
}

func TestValidateRejectsUnknownType(t *testing.T) {
	_, err := Validate(context.Background(), newStore(), date(2024, 3, 31), []Requirement{{From: "EUR", To: "USD", Types: []RateType{"FORWARD"}}})
	if err == nil {
		t.Fatalf("expected error for unsupported rate type")
	}
}

func TestValidateRequiresProvider(t *testing.T) {
	if _, err := Validate(context.Background(), nil, date(2024, 3, 31), nil); err == nil {
		t.Fatalf("expected error without provider")
	}
}

func TestValidateAcceptsInverseQuotes(t *testing.T) {
	store := newStore()
	store.add("USD", "BRL", date(2024, 3, 31), RateTypeClosing, "4.98")

	res, err := Validate(context.Background(), store, date(2024, 3, 31), []Requirement{
		{From: "BRL", To: "USD", Types: []RateType{RateTypeClosing, RateTypeAverage}},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(res.Gaps) != 1 || res.Gaps[0].Pair != "BRLUSD" {
		t.Fatalf("unexpected gaps %+v", res.Gaps)
	}
	if got := res.Gaps[0].Types; len(got) != 1 || got[0] != RateTypeAverage {
		t.Fatalf("closing should be covered by the inverse quote, got %v", got)
	}
}
