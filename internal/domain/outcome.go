package domain

import "fmt"

// OutcomeKind результат сверки события.
type OutcomeKind string

const (
	// OutcomeApplied переход состояния применен.
	OutcomeApplied OutcomeKind = "applied"
	// OutcomeSkipped событие распознано, но действие не требуется.
	OutcomeSkipped OutcomeKind = "skipped"
	// OutcomeDeferred событие отложено до асинхронного подтверждения оплаты.
	OutcomeDeferred OutcomeKind = "deferred"
	// OutcomeFailed сверка не удалась.
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome исход сверки одного доменного события.
// Retryable имеет смысл только для OutcomeFailed: ретраябельная ошибка
// транслируется в 5xx, чтобы провайдер доставил вебхук повторно;
// терминальная — в 200 с логом уровня error.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	Reason    string      `json:"reason,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

// Applied создает успешный исход.
func Applied() Outcome {
	return Outcome{Kind: OutcomeApplied}
}

// Skipped создает исход "действие не требуется" с причиной.
func Skipped(reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: reason}
}

// Deferred создает отложенный исход с причиной.
func Deferred(reason string) Outcome {
	return Outcome{Kind: OutcomeDeferred, Reason: reason}
}

// FailedTerminal создает постоянную ошибку сверки: повторная доставка
// провайдером ничего не исправит.
func FailedTerminal(reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason}
}

// FailedRetryable создает временную ошибку сверки: провайдер должен
// доставить событие повторно.
func FailedRetryable(reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason, Retryable: true}
}

// String возвращает краткое строковое представление исхода.
func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Kind)
	}
	return fmt.Sprintf("%s (%s)", o.Kind, o.Reason)
}
