package auth

import (
	"regexp"
	"strings"
)

const maxInputLen = 1000

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// SanitizeInput 去除首尾空白与尖括号，并截断到 1000 个字符。
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	if r := []rune(s); len(r) > maxInputLen {
		s = string(r[:maxInputLen])
	}
	return s
}

// IsValidEmail 校验邮箱格式与长度（不超过 254）。
func IsValidEmail(email string) bool {
	return len(email) <= 254 && emailPattern.MatchString(email)
}

// NormalizeEmail 小写并去除首尾空白。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SplitName 把全名拆成名与姓：第一个词为名，其余为姓。
func SplitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
