package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	adminPBKDF2Iterations = 100000
	adminPBKDF2KeyLen     = 64
	adminSaltBytes        = 32
)

// HashPassword 生成 bcrypt 哈希。
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword 校验明文与 bcrypt 哈希；空哈希永远不匹配。
func VerifyPassword(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePasswordStrength 用户密码：至少 8 位，含小写、大写与数字。
// 不合格时返回给用户看的提示与 false。
func ValidatePasswordStrength(password string) (string, bool) {
	switch {
	case len(password) < 8:
		return "Password must be at least 8 characters long", false
	case !strings.ContainsFunc(password, unicode.IsLower):
		return "Password must contain at least one lowercase letter", false
	case !strings.ContainsFunc(password, unicode.IsUpper):
		return "Password must contain at least one uppercase letter", false
	case !strings.ContainsFunc(password, unicode.IsDigit):
		return "Password must contain at least one number", false
	}
	return "", true
}

var (
	adminSpecial        = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>/?~` + "`" + `]`)
	adminCommonPatterns = regexp.MustCompile(`(?i)123456|password|admin|qwerty|abc123|letmein`)
)

// ValidateAdminPasswordStrength 管理员密码：至少 16 位，含大小写、数字、特殊字符，且不含常见弱口令片段。
func ValidateAdminPasswordStrength(password string) (string, bool) {
	switch {
	case len(password) < 16:
		return "Admin password must be at least 16 characters long", false
	case !strings.ContainsFunc(password, unicode.IsLower):
		return "Admin password must contain at least one lowercase letter", false
	case !strings.ContainsFunc(password, unicode.IsUpper):
		return "Admin password must contain at least one uppercase letter", false
	case !strings.ContainsFunc(password, unicode.IsDigit):
		return "Admin password must contain at least one number", false
	case !adminSpecial.MatchString(password):
		return "Admin password must contain at least one special character", false
	case adminCommonPatterns.MatchString(password):
		return "Admin password cannot contain common patterns", false
	}
	return "", true
}

// HashAdminPassword 生成 "salt:hash" 形式的 PBKDF2-SHA512 哈希，用于配置 ADMIN_PASSWORD_HASH。
func HashAdminPassword(password string) (string, error) {
	buf := make([]byte, adminSaltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	salt := hex.EncodeToString(buf)
	return salt + ":" + deriveAdminKey(password, salt), nil
}

// VerifyAdminPassword 以常量时间比较 PBKDF2 结果。stored 格式不合法时返回 false。
func VerifyAdminPassword(password, stored string) bool {
	salt, want, ok := strings.Cut(stored, ":")
	if !ok || salt == "" || want == "" {
		return false
	}
	got := deriveAdminKey(password, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(want))) == 1
}

// salt 以十六进制字符串原样参与派生，与既有哈希保持兼容。
func deriveAdminKey(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), adminPBKDF2Iterations, adminPBKDF2KeyLen, sha512.New)
	return hex.EncodeToString(key)
}
