package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	// Префиксы ключей для различных типов данных
	eventKeyPrefix    = "webhook:event:"
	terminalKeyPrefix = "subscription:terminal:"

	// Терминальная отметка живет дольше обработанных событий:
	// именно она защищает от перезаписи canceled поздно пришедшим update.
	terminalRetention = 30 * 24 * time.Hour
)

// Store хранилище идемпотентности границы сверки.
// Две обязанности: ограниченное по времени хранение исходов обработанных
// событий (event id -> outcome) и терминальные отметки по клиентам
// (canceled нельзя перезаписать более поздно доставленным событием).
type Store interface {
	// Seen возвращает сохраненный исход для event id, если событие
	// уже обрабатывалось.
	Seen(ctx context.Context, eventID string) (domain.Outcome, bool, error)

	// Record сохраняет исход обработки события с ограниченным сроком хранения.
	Record(ctx context.Context, eventID string, outcome domain.Outcome) error

	// MarkTerminal помечает клиента как перешедшего в терминальный статус.
	MarkTerminal(ctx context.Context, customerID string) error

	// IsTerminal проверяет, достиг ли клиент терминального статуса.
	IsTerminal(ctx context.Context, customerID string) (bool, error)
}

// RedisStore реализует Store поверх Redis (SET NX + TTL).
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
	log       *logger.Logger
}

// NewRedisStore создает Redis-хранилище идемпотентности и проверяет соединение.
func NewRedisStore(addr, password string, db int, retention time.Duration, log *logger.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", addr)
	return &RedisStore{
		client:    client,
		retention: retention,
		log:       log,
	}, nil
}

// Close закрывает соединение с Redis.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Seen возвращает сохраненный исход для event id.
func (s *RedisStore) Seen(ctx context.Context, eventID string) (domain.Outcome, bool, error) {
	data, err := s.client.Get(ctx, eventKeyPrefix+eventID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Outcome{}, false, nil
	}
	if err != nil {
		return domain.Outcome{}, false, fmt.Errorf("idempotency: failed to read event outcome: %w", err)
	}

	var outcome domain.Outcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		// Поврежденная запись — считаем событие необработанным
		s.log.Warnw("Corrupted idempotency record, treating event as new", "eventID", eventID, "error", err)
		return domain.Outcome{}, false, nil
	}

	return outcome, true, nil
}

// Record сохраняет исход обработки события.
func (s *RedisStore) Record(ctx context.Context, eventID string, outcome domain.Outcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("idempotency: failed to marshal outcome: %w", err)
	}

	if err := s.client.Set(ctx, eventKeyPrefix+eventID, data, s.retention).Err(); err != nil {
		return fmt.Errorf("idempotency: failed to record event outcome: %w", err)
	}

	s.log.Debugw("Event outcome recorded", "eventID", eventID, "outcome", outcome.Kind)
	return nil
}

// MarkTerminal помечает клиента как перешедшего в терминальный статус.
func (s *RedisStore) MarkTerminal(ctx context.Context, customerID string) error {
	if err := s.client.Set(ctx, terminalKeyPrefix+customerID, "1", terminalRetention).Err(); err != nil {
		return fmt.Errorf("idempotency: failed to mark customer terminal: %w", err)
	}
	return nil
}

// IsTerminal проверяет терминальную отметку клиента.
func (s *RedisStore) IsTerminal(ctx context.Context, customerID string) (bool, error) {
	err := s.client.Get(ctx, terminalKeyPrefix+customerID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("idempotency: failed to check terminal mark: %w", err)
	}
	return true, nil
}

// memoryEntry запись в памяти с временем создания для вытеснения по TTL.
type memoryEntry struct {
	outcome   domain.Outcome
	createdAt time.Time
}

// MemoryStore реализует Store в памяти процесса.
// Используется, когда Redis не сконфигурирован: сервис продолжает работать,
// но дедупликация не переживает рестарт (система учета остается
// единственным источником истины).
type MemoryStore struct {
	mu        sync.RWMutex
	events    map[string]memoryEntry
	terminal  map[string]time.Time
	retention time.Duration
	log       *logger.Logger
}

// NewMemoryStore создает хранилище идемпотентности в памяти.
func NewMemoryStore(retention time.Duration, log *logger.Logger) *MemoryStore {
	return &MemoryStore{
		events:    make(map[string]memoryEntry),
		terminal:  make(map[string]time.Time),
		retention: retention,
		log:       log,
	}
}

// Seen возвращает сохраненный исход для event id.
func (s *MemoryStore) Seen(ctx context.Context, eventID string) (domain.Outcome, bool, error) {
	s.mu.RLock()
	entry, ok := s.events[eventID]
	s.mu.RUnlock()

	if !ok || time.Since(entry.createdAt) > s.retention {
		return domain.Outcome{}, false, nil
	}
	return entry.outcome, true, nil
}

// Record сохраняет исход обработки события и вытесняет устаревшие записи.
func (s *MemoryStore) Record(ctx context.Context, eventID string, outcome domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[eventID] = memoryEntry{outcome: outcome, createdAt: time.Now()}
	s.evictLocked()
	return nil
}

// MarkTerminal помечает клиента как перешедшего в терминальный статус.
func (s *MemoryStore) MarkTerminal(ctx context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.terminal[customerID] = time.Now()
	return nil
}

// IsTerminal проверяет терминальную отметку клиента.
func (s *MemoryStore) IsTerminal(ctx context.Context, customerID string) (bool, error) {
	s.mu.RLock()
	markedAt, ok := s.terminal[customerID]
	s.mu.RUnlock()

	if !ok || time.Since(markedAt) > terminalRetention {
		return false, nil
	}
	return true, nil
}

// evictLocked удаляет записи старше срока хранения. Вызывается под mu.
func (s *MemoryStore) evictLocked() {
	now := time.Now()
	for id, entry := range s.events {
		if now.Sub(entry.createdAt) > s.retention {
			delete(s.events, id)
		}
	}
	for id, markedAt := range s.terminal {
		if now.Sub(markedAt) > terminalRetention {
			delete(s.terminal, id)
		}
	}
}
