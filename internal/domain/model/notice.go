package model

// RemovalNotice — уведомление владельцу продукта об изменении файла.
type RemovalNotice struct {
	// Email — адрес получателя
	Email string
	// ProductName — отображаемое имя продукта
	ProductName string
	// ProductLink — ссылка на продукт
	ProductLink string
}
