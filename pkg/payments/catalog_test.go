package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"gotovo/pkg/domain"
)

type fakePurchaser struct {
	credits int
	days    int
	err     error
}

func (f *fakePurchaser) AddCredits(_ context.Context, userID int64, n int) (domain.Account, error) {
	if f.err != nil {
		return domain.Account{}, f.err
	}
	f.credits += n
	return domain.Account{UserID: userID, Credits: f.credits}, nil
}

func (f *fakePurchaser) ActivateSubscription(_ context.Context, userID int64, days int) (domain.Account, error) {
	if f.err != nil {
		return domain.Account{}, f.err
	}
	f.days += days
	return domain.Account{UserID: userID, SubscriptionExpiry: time.Unix(0, 0).Add(time.Duration(f.days) * 24 * time.Hour)}, nil
}

func TestLookupAcceptsSuffixedPayloads(t *testing.T) {
	for _, payload := range []string{"CREDITS_200", "credits_200", "CREDITS_200:order-17", " CREDITS_200 "} {
		p, err := Lookup(payload)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", payload, err)
		}
		if p.Quantity != 200 || p.Kind != KindCredits {
			t.Fatalf("Lookup(%q) = %+v", payload, p)
		}
	}
	if _, err := Lookup("CREDITS_7"); !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}
}

func TestStarsAmount(t *testing.T) {
	cases := map[string]int{"CREDITS_50": 60, "CREDITS_200": 220, "CREDITS_1000": 990, "SUB_MONTH": 490}
	for payload, want := range cases {
		got, err := StarsAmount(payload)
		if err != nil || got != want {
			t.Fatalf("StarsAmount(%q) = %d, %v; want %d", payload, got, err, want)
		}
	}
	if _, err := StarsAmount("SUB_YEAR"); !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}
}

func TestApply(t *testing.T) {
	p := &fakePurchaser{}
	receipt, err := Apply(context.Background(), p, 42, "CREDITS_50:abc")
	if err != nil {
		t.Fatalf("apply credits: %v", err)
	}
	if receipt.Account.Credits != 50 || receipt.Message != "Зачислено 50 кредитов." {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	receipt, err = Apply(context.Background(), p, 42, "SUB_MONTH")
	if err != nil {
		t.Fatalf("apply subscription: %v", err)
	}
	if p.days != 31 || receipt.Product.Kind != KindSubscription {
		t.Fatalf("unexpected subscription receipt: %+v", receipt)
	}

	failing := &fakePurchaser{err: errors.New("db down")}
	if _, err := Apply(context.Background(), failing, 42, "CREDITS_50"); err == nil {
		t.Fatalf("expected error from purchaser")
	}
	if _, err := Apply(context.Background(), p, 42, "GIFT"); !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}
}

func TestProductsReturnsCopy(t *testing.T) {
	items := Products()
	items[0].Quantity = 1
	if p, _ := Lookup("CREDITS_50"); p.Quantity != 50 {
		t.Fatalf("catalog mutated through Products()")
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 products, got %d", len(items))
	}
}
