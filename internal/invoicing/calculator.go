package invoicing

import (
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Calculate derives invoice totals from line items. Pure: no side effects,
// no hidden state, bit-identical output for identical input.
//
// Per line, the taxable amount is (unit price + shipping per unit) × qty.
// Customs accrues outside the VAT base and is added after the discount.
// VAT is computed per line and then scaled to the discounted base, so a
// discount that swallows the whole subtotal zeroes the VAT with it.
func Calculate(input CalcInput) (Totals, error) {
	subtotal := shared.ZeroAmount()
	vat := shared.ZeroAmount()
	customs := shared.ZeroAmount()

	for _, line := range input.Lines {
		if line.Qty <= 0 {
			return Totals{}, shared.Validationf("line %s: quantity must be positive", line.SKU)
		}
		lineAmount := line.UnitPrice.Add(line.ShippingPerUnit).MulInt(line.Qty)
		subtotal = subtotal.Add(lineAmount)
		customs = customs.Add(line.CustomsPerUnit.MulInt(line.Qty))

		if rate := effectiveRate(input, line); !rate.IsZero() {
			vat = vat.Add(lineAmount.Percent(rate))
		}
	}

	for _, fee := range input.ServiceFees {
		subtotal = subtotal.Add(fee.Amount)
	}

	discounted := subtotal.Sub(input.Discount).ClampZero()

	// Scale the accumulated VAT to the discounted base. A zero subtotal or a
	// discount at or above the subtotal forces VAT to exactly zero.
	vat = scaleVAT(vat, subtotal, discounted)

	totals := Totals{
		Subtotal:    subtotal.Round(),
		Discount:    input.Discount.Round(),
		Discounted:  discounted.Round(),
		VAT:         vat.Round(),
		Customs:     customs.Round(),
		TaxRateUsed: rateUsed(input),
	}
	totals.GrandTotal = totals.Discounted.Add(totals.VAT).Add(totals.Customs)
	return totals, nil
}

func effectiveRate(input CalcInput, line LineItem) decimal.Decimal {
	if !input.TaxEnabled {
		return decimal.Zero
	}
	if line.TaxRatePct != nil {
		return *line.TaxRatePct
	}
	if input.Tax != nil && input.Tax.Active {
		return input.Tax.RatePct
	}
	return decimal.Zero
}

func rateUsed(input CalcInput) decimal.Decimal {
	if !input.TaxEnabled || input.Tax == nil || !input.Tax.Active {
		return decimal.Zero
	}
	return input.Tax.RatePct
}

func scaleVAT(vat, subtotal, discounted shared.Amount) shared.Amount {
	out := shared.ZeroAmount()
	if !vat.USD.IsZero() && subtotal.USD.Sign() > 0 && discounted.USD.Sign() > 0 {
		out.USD = vat.USD.Mul(discounted.USD).Div(subtotal.USD)
	}
	if !vat.AED.IsZero() && subtotal.AED.Sign() > 0 && discounted.AED.Sign() > 0 {
		out.AED = vat.AED.Mul(discounted.AED).Div(subtotal.AED)
	}
	return out
}
