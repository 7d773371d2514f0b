// Package validation содержит функции валидации входных данных.
package validation

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/mmeshcher/playhost-system/internal/model"
)

const maxUsernameBase = 20

// PanelUsername выводит имя пользователя панели из email: локальная часть
// очищается до латинских букв и цифр, обрезается и дополняется внутренним
// идентификатором, чтобы исключить коллизии.
func PanelUsername(email string, userID int64) string {
	local := email
	if at := strings.Index(email, "@"); at >= 0 {
		local = email[:at]
	}

	var b strings.Builder
	for _, ch := range local {
		if ch > unicode.MaxASCII {
			continue
		}
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			b.WriteRune(ch)
		}
	}

	base := b.String()
	if len(base) > maxUsernameBase {
		base = base[:maxUsernameBase]
	}
	if base == "" {
		base = "user"
	}

	return base + "_" + strconv.FormatInt(userID, 10)
}

// IsValidPowerAction проверяет, что действие входит в допустимый набор сигналов.
func IsValidPowerAction(action string) bool {
	_, ok := model.PowerStatuses[model.PowerAction(action)]
	return ok
}

// NormalizeCouponCode приводит код купона к каноническому виду.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
