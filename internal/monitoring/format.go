package monitoring

import "fmt"

// FormatWithCommas formats a number with thousands separators.
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	neg := false
	if n < 0 {
		neg = true
		str = str[1:]
	}
	if len(str) > 3 {
		out := make([]byte, 0, len(str)+len(str)/3)
		for i := 0; i < len(str); i++ {
			if i > 0 && (len(str)-i)%3 == 0 {
				out = append(out, ',')
			}
			out = append(out, str[i])
		}
		str = string(out)
	}
	if neg {
		return "-" + str
	}
	return str
}
