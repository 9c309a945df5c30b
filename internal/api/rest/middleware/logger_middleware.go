package middleware

import (
	"time"

	"github.com/Dhoini/Subscription-service/internal/requestid"
	"github.com/Dhoini/Subscription-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestIDHeader заголовок, в котором возвращается ID запроса.
const requestIDHeader = "X-Request-ID"

// LoggerMiddleware создает middleware для логирования запросов.
// Каждому запросу присваивается ID, который попадает в контекст, в ответ
// и во все сообщения, порожденные обработкой.
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Время начала запроса
		startTime := time.Now()

		// Присваиваем запросу идентификатор (или принимаем присланный)
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)
		c.Request = c.Request.WithContext(requestid.With(c.Request.Context(), reqID))

		// Обработка запроса
		c.Next()

		// Длительность запроса
		latency := time.Since(startTime)

		// Получаем код статуса
		statusCode := c.Writer.Status()

		// Логируем информацию о запросе
		switch {
		case statusCode >= 500:
			log.Errorw("Request completed", "method", c.Request.Method, "path", c.Request.RequestURI, "status", statusCode, "latency", latency.String(), "clientIP", c.ClientIP(), "requestID", reqID)
		case statusCode >= 400:
			log.Warnw("Request completed", "method", c.Request.Method, "path", c.Request.RequestURI, "status", statusCode, "latency", latency.String(), "clientIP", c.ClientIP(), "requestID", reqID)
		default:
			log.Infow("Request completed", "method", c.Request.Method, "path", c.Request.RequestURI, "status", statusCode, "latency", latency.String(), "clientIP", c.ClientIP(), "requestID", reqID)
		}
	}
}
