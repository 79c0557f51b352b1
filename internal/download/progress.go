package download

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// FormatProgress renders downloaded/total as a percentage. Whole 0 and 100
// are printed as integers, everything else with one decimal place. An unknown
// or zero total renders as "0".
//
// The percentage is computed in single precision, widened to double and
// rounded half up from the shortest decimal form of that double, so 6.25
// renders as "6.3".
func FormatProgress(downloaded, total int64) string {
	if total <= 0 {
		return "0"
	}

	// abs avoids printing "-0" for bogus negative counters.
	p := float32(math.Abs(float64(float32(downloaded) / float32(total) * 100)))
	whole := int64(p)
	if whole == 0 || whole == 100 {
		return strconv.FormatInt(whole, 10)
	}
	d, err := decimal.NewFromString(strconv.FormatFloat(float64(p), 'f', -1, 64))
	if err != nil {
		return strconv.FormatFloat(float64(p), 'f', 1, 64)
	}
	return d.Round(1).StringFixed(1)
}
