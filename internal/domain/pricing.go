package domain

// PriceOrder rolls up the order totals from the validated subtotal, the resolved
// shipping cost and a method-specific discount percentage applied to the subtotal.
// Discount fractions of the smallest currency unit are truncated.
func PriceOrder(subtotal, shipping int64, discountPercent int) OrderTotals {
	if discountPercent < 0 {
		discountPercent = 0
	}
	if discountPercent > 100 {
		discountPercent = 100
	}
	discount := subtotal * int64(discountPercent) / 100
	return OrderTotals{
		Subtotal: subtotal,
		Shipping: shipping,
		Discount: discount,
		Total:    subtotal + shipping - discount,
	}
}
