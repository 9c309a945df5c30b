package domain

import (
	"errors"
	"strconv"
)

// Ключи метаданных, закладываемые при создании checkout-сессии
// и считываемые обратно при обработке вебхука.
const (
	MetadataPaymentToken  = "payment_token"
	MetadataUserID        = "user_id"
	MetadataPlan          = "plan"
	MetadataPaymentMethod = "payment_method"
)

// ErrUnresolvableKey в метаданных события нет ни токена регистрации,
// ни идентификатора аккаунта. Повторная доставка этого не исправит.
var ErrUnresolvableKey = errors.New("unresolvable reconciliation key")

// KeyKind вид ключа сверки.
type KeyKind int

const (
	// KeyToken одноразовый токен регистрации (новый пользователь,
	// аккаунт еще не создан).
	KeyToken KeyKind = iota
	// KeyAccount идентификатор существующего аккаунта (апгрейд).
	KeyAccount
)

// ReconciliationKey идентификатор, по которому Reconciler находит целевую
// подписку в Account Service. Размеченное объединение: либо одноразовый
// токен регистрации, либо ID существующего аккаунта.
type ReconciliationKey struct {
	kind   KeyKind
	token  string
	userID int64
}

// TokenKey создает ключ по токену регистрации.
func TokenKey(token string) ReconciliationKey {
	return ReconciliationKey{kind: KeyToken, token: token}
}

// AccountKey создает ключ по идентификатору аккаунта.
func AccountKey(userID int64) ReconciliationKey {
	return ReconciliationKey{kind: KeyAccount, userID: userID}
}

// Kind возвращает вид ключа.
func (k ReconciliationKey) Kind() KeyKind { return k.kind }

// Token возвращает токен регистрации (для KeyToken).
func (k ReconciliationKey) Token() string { return k.token }

// UserID возвращает идентификатор аккаунта (для KeyAccount).
func (k ReconciliationKey) UserID() int64 { return k.userID }

// ResolveKey извлекает ключ сверки из метаданных события.
// Приоритет у токена регистрации: путь нового пользователя должен
// дополнительно завершить регистрацию и создать аккаунт. Если токена нет,
// берется user_id (путь апгрейда существующего аккаунта).
// Отсутствие обоих — постоянная ошибка классификации, не ретраится.
func ResolveKey(metadata map[string]string) (ReconciliationKey, error) {
	if token := metadata[MetadataPaymentToken]; token != "" {
		return TokenKey(token), nil
	}

	if raw := metadata[MetadataUserID]; raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			return ReconciliationKey{}, ErrUnresolvableKey
		}
		return AccountKey(userID), nil
	}

	return ReconciliationKey{}, ErrUnresolvableKey
}
