package licensing

import (
	"math"
	"time"
)

// NetAmount prices a common license selection: the catalog price less its
// percentage discount, plus GST, less the flat coupon discount. Percentages are
// plain numbers (18 means 18%). The result is rounded to two decimals and never
// negative.
func NetAmount(price, discountPercent, gstPercent, couponDiscount float64) float64 {
	net := price * (1 - discountPercent/100) * (1 + gstPercent/100)
	net -= couponDiscount
	if net < 0 {
		net = 0
	}
	return roundMoney(net)
}

// StorageAmount prices a storage order of gb gigabytes for months months
func StorageAmount(plan *StoragePlan, gb, months int) float64 {
	amount := plan.PricePerGB * float64(gb) * float64(months) * (1 + plan.GSTPercent/100)
	return roundMoney(amount)
}

// ToMinorUnits converts a currency amount to its smallest unit (paise)
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// Millis returns t as epoch milliseconds
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
