package models

import (
	"fmt"
	"strconv"
	"strings"
)

var cuitWeights = [10]int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2}

// ParseCUIT normalizes a taxpayer id ("20-12345678-3" or "20123456783")
// and verifies its check digit
func ParseCUIT(s string) (int64, error) {
	clean := strings.NewReplacer("-", "", " ", "").Replace(strings.TrimSpace(s))
	if len(clean) != 11 {
		return 0, fmt.Errorf("cuit %q must have 11 digits", s)
	}
	sum := 0
	for i := 0; i < 10; i++ {
		d := clean[i]
		if d < '0' || d > '9' {
			return 0, fmt.Errorf("cuit %q contains non-digit characters", s)
		}
		sum += int(d-'0') * cuitWeights[i]
	}
	check := sum % 11
	if check >= 2 {
		check = 11 - check
	}
	if int(clean[10]-'0') != check {
		return 0, fmt.Errorf("cuit %q has an invalid check digit", s)
	}
	return strconv.ParseInt(clean, 10, 64)
}
