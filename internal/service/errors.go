// errors.go — ошибки бизнес-логики сервисного слоя.
//
// Категории (ErrValidation, ErrAttestation, ErrNotFound, ErrPersistence,
// ErrDelivery) определяют HTTP-статус; конкретные ошибки оборачивают
// категорию и несут текст, который возвращается клиенту.
package service

import (
	"errors"
	"fmt"
)

// Категории ошибок.
var (
	// ErrValidation — некорректные входные данные.
	ErrValidation = errors.New("ошибка валидации")
	// ErrAttestation — молекула не прошла проверку или принадлежит другому бандлу.
	ErrAttestation = errors.New("ошибка подтверждения владения")
	// ErrNotFound — запись или содержимое файла не найдены.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrPersistence — ошибка записи на диск или в БД.
	ErrPersistence = errors.New("ошибка сохранения")
	// ErrDelivery — не удалось отправить уведомление.
	ErrDelivery = errors.New("ошибка доставки уведомления")
)

// Конкретные ошибки.
var (
	ErrEmptyFilename   = fmt.Errorf("%w: No selected file", ErrValidation)
	ErrInvalidBundle   = fmt.Errorf("%w: Invalid bundle hash", ErrValidation)
	ErrInvalidID       = fmt.Errorf("%w: invalid file ID", ErrValidation)
	ErrNoExtension     = fmt.Errorf("%w: The file has no extension", ErrValidation)
	ErrMissingMolecule = fmt.Errorf("%w: molecule is a required parameter", ErrValidation)
	ErrInvalidGrant    = fmt.Errorf("%w: download_max must be a non-negative integer", ErrValidation)

	// ErrMissingNotificationFields — в атоме M нет email, product_name или product_link.
	ErrMissingNotificationFields = fmt.Errorf("%w: Incorrect molecule data", ErrValidation)

	ErrInvalidAttestation = fmt.Errorf("%w: Incorrect molecule", ErrAttestation)
	ErrBundleMismatch     = fmt.Errorf("%w: The file does not belong to the user", ErrAttestation)

	ErrFileMissing = fmt.Errorf("%w: File not found", ErrNotFound)

	// ErrNotGranted — у бандла нет разрешения на скачивание файла.
	ErrNotGranted = fmt.Errorf("%w: File not found", ErrNotFound)

	// ErrLimitReached — лимит скачиваний исчерпан; для клиента неотличимо от NotFound.
	ErrLimitReached = fmt.Errorf("%w: File not found", ErrNotFound)

	ErrFileUploadFailed  = fmt.Errorf("%w: File upload failed", ErrPersistence)
	ErrPersistenceFailed = fmt.Errorf("%w: Error saving to the database", ErrPersistence)
	ErrFileReadFailed    = fmt.Errorf("%w: File read failed", ErrPersistence)

	ErrNotificationFailed = fmt.Errorf("%w: The message has not been sent", ErrDelivery)
)

// PublicMessage возвращает текст ошибки для клиента: сообщение
// конкретной ошибки без префикса категории.
func PublicMessage(err error) string {
	for _, known := range []error{
		ErrEmptyFilename, ErrInvalidBundle, ErrInvalidID, ErrNoExtension,
		ErrMissingMolecule, ErrMissingNotificationFields, ErrInvalidGrant,
		ErrInvalidAttestation, ErrBundleMismatch,
		ErrFileMissing, ErrNotGranted, ErrLimitReached,
		ErrFileUploadFailed, ErrPersistenceFailed, ErrFileReadFailed, ErrNotificationFailed,
	} {
		if errors.Is(err, known) {
			return publicText(known)
		}
	}
	return "Internal server error"
}

// publicText отрезает префикс категории ("<категория>: <текст>").
func publicText(err error) string {
	msg := err.Error()
	if inner := errors.Unwrap(err); inner != nil {
		prefix := inner.Error() + ": "
		if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return msg[len(prefix):]
		}
	}
	return msg
}
