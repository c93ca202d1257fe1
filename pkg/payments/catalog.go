package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gotovo/pkg/domain"
)

var ErrUnknownProduct = errors.New("payments: unknown product")

type Kind string

const (
	KindCredits      Kind = "credits"
	KindSubscription Kind = "subscription"
)

// Product is one catalog entry. Price is in BYN kopecks for card and ERIP
// payments; StarsPrice is the Telegram Stars list price in whole BYN.
type Product struct {
	Code       string `json:"code"`
	Kind       Kind   `json:"kind"`
	Title      string `json:"title"`
	Quantity   int    `json:"quantity"`
	Price      int    `json:"price"`
	StarsPrice int    `json:"starsPrice"`
}

// Stars is the amount charged in Telegram Stars.
func (p Product) Stars() int { return p.StarsPrice * 10 }

var catalog = []Product{
	{Code: "CREDITS_50", Kind: KindCredits, Title: "50 кредитов", Quantity: 50, Price: 500, StarsPrice: 6},
	{Code: "CREDITS_200", Kind: KindCredits, Title: "200 кредитов", Quantity: 200, Price: 1800, StarsPrice: 22},
	{Code: "CREDITS_1000", Kind: KindCredits, Title: "1000 кредитов", Quantity: 1000, Price: 8000, StarsPrice: 99},
	{Code: "SUB_MONTH", Kind: KindSubscription, Title: "Подписка Pro (1 мес)", Quantity: 31, Price: 3900, StarsPrice: 49},
}

// Products returns a copy of the catalog in display order.
func Products() []Product {
	out := make([]Product, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup resolves a payload of the form "CODE" or "CODE:<anything>".
func Lookup(payload string) (Product, error) {
	code, _, _ := strings.Cut(strings.TrimSpace(payload), ":")
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, p := range catalog {
		if p.Code == code {
			return p, nil
		}
	}
	return Product{}, fmt.Errorf("%w: %q", ErrUnknownProduct, code)
}

// StarsAmount returns the Stars price for a payload.
func StarsAmount(payload string) (int, error) {
	p, err := Lookup(payload)
	if err != nil {
		return 0, err
	}
	return p.Stars(), nil
}

// Purchaser applies paid products to an account.
type Purchaser interface {
	AddCredits(ctx context.Context, userID int64, n int) (domain.Account, error)
	ActivateSubscription(ctx context.Context, userID int64, days int) (domain.Account, error)
}

// Receipt is the result of applying one payment.
type Receipt struct {
	Product Product        `json:"product"`
	Account domain.Account `json:"account"`
	Message string         `json:"message"`
}

// Apply credits the product named by payload to userID.
func Apply(ctx context.Context, p Purchaser, userID int64, payload string) (Receipt, error) {
	product, err := Lookup(payload)
	if err != nil {
		return Receipt{}, err
	}
	var (
		account domain.Account
		message string
	)
	switch product.Kind {
	case KindCredits:
		account, err = p.AddCredits(ctx, userID, product.Quantity)
		message = fmt.Sprintf("Зачислено %d кредитов.", product.Quantity)
	case KindSubscription:
		account, err = p.ActivateSubscription(ctx, userID, product.Quantity)
		message = fmt.Sprintf("Подписка Pro активирована на %d день.", product.Quantity)
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("apply %s: %w", product.Code, err)
	}
	return Receipt{Product: product, Account: account, Message: message}, nil
}
