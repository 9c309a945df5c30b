package requestid

import "context"

type contextKey struct{}

// With кладет идентификатор запроса в контекст.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// From возвращает идентификатор запроса из контекста (пустая строка, если нет).
func From(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}
