package pricing

import "github.com/shopspring/decimal"

// TaxRate is a named percentage applied to the post-discount subtotal.
type TaxRate struct {
	Name string
	Rate decimal.Decimal
}

// TaxEntry is one line of a tax breakdown.
type TaxEntry struct {
	Name   string          `json:"name"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

// Breakdown is the itemized list of tax components applied to an order.
type Breakdown struct {
	Entries []TaxEntry
	Total   decimal.Decimal
}

// CalculateTax computes one entry per rate, in the order given, each rounded
// to MoneyPlaces. No rates yield an empty breakdown with a zero total.
func CalculateTax(base decimal.Decimal, rates []TaxRate) Breakdown {
	b := Breakdown{
		Entries: make([]TaxEntry, 0, len(rates)),
		Total:   decimal.Zero,
	}
	if base.IsNegative() {
		base = decimal.Zero
	}
	for _, r := range rates {
		rate := r.Rate
		if rate.IsNegative() {
			rate = decimal.Zero
		}
		amount := PercentageOf(base, rate)
		b.Entries = append(b.Entries, TaxEntry{Name: r.Name, Rate: rate, Amount: amount})
		b.Total = b.Total.Add(amount)
	}
	return b
}

// SumEntries returns the sum of entry amounts.
func SumEntries(entries []TaxEntry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	return sum
}
