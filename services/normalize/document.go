package normalize

// ValidCPF checks length, repeated digits and both check digits of a CPF
// given as 11 digits.
func ValidCPF(digits string) bool {
	if len(digits) != 11 || !onlyDigits(digits) || allSame(digits) {
		return false
	}
	d1 := checkDigit(digits[:9], []int{10, 9, 8, 7, 6, 5, 4, 3, 2})
	d2 := checkDigit(digits[:10], []int{11, 10, 9, 8, 7, 6, 5, 4, 3, 2})
	return int(digits[9]-'0') == d1 && int(digits[10]-'0') == d2
}

// ValidCNPJ checks length, repeated digits and both check digits of a CNPJ
// given as 14 digits.
func ValidCNPJ(digits string) bool {
	if len(digits) != 14 || !onlyDigits(digits) || allSame(digits) {
		return false
	}
	d1 := checkDigit(digits[:12], []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2})
	d2 := checkDigit(digits[:13], []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2})
	return int(digits[12]-'0') == d1 && int(digits[13]-'0') == d2
}

// checkDigit is the mod 11 digit shared by CPF and CNPJ.
func checkDigit(digits string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	rest := sum % 11
	if rest < 2 {
		return 0
	}
	return 11 - rest
}

func onlyDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func allSame(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}
