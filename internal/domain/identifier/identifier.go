// Пакет identifier — публичный идентификатор файла.
// Формат: каноническая строка UUID (36 символов) + десятичный ID записи
// без разделителя, например "3f0c…e91a42".
package identifier

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// uuidLength — длина канонической строки UUID.
const uuidLength = 36

// ErrMalformed — строка не является идентификатором.
var ErrMalformed = errors.New("некорректный идентификатор")

// Encode формирует идентификатор из ID записи и её UUID.
func Encode(id int64, unique uuid.UUID) string {
	return unique.String() + strconv.FormatInt(id, 10)
}

// Validate проверяет форму идентификатора: длина не меньше 37 символов
// и суффикс после первых 36 символов — неотрицательное целое.
// Содержимое первых 36 символов не проверяется. Суффикс со знаком
// (включая "+") и суффикс вне диапазона int64 отклоняются.
func Validate(token string) bool {
	if len(token) <= uuidLength {
		return false
	}
	_, err := parseID(token[uuidLength:])
	return err == nil
}

// Decode разбирает идентификатор на ID и UUID.
// Вызывающий код должен предварительно вызвать Validate; для строк,
// прошедших Validate, но с некорректным UUID, возвращается ErrMalformed.
func Decode(token string) (int64, uuid.UUID, error) {
	if len(token) <= uuidLength {
		return 0, uuid.Nil, fmt.Errorf("%w: длина %d", ErrMalformed, len(token))
	}

	id, err := parseID(token[uuidLength:])
	if err != nil {
		return 0, uuid.Nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	unique, err := uuid.Parse(token[:uuidLength])
	if err != nil {
		return 0, uuid.Nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return id, unique, nil
}

// parseID разбирает десятичный суффикс. Знак не допускается:
// Encode никогда не порождает его для ключей BIGSERIAL.
func parseID(s string) (int64, error) {
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("суффикс %q не является десятичным числом", s)
		}
	}
	return strconv.ParseInt(s, 10, 64)
}
