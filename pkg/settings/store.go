package settings

import (
	"fmt"
	"log/slog"
	"sync"
)

// Option - элемент списка выбора с идентификатором и отображаемым именем.
type Option struct {
	ID   string
	Name string
}

// Account - учетные данные SIP аккаунта.
type Account struct {
	ID       string
	Username string
	Password string
	URI      string
}

// Watcher вызывается после изменения значения по наблюдаемому пути.
type Watcher func(value any)

// Store - потокобезопасное хранилище настроек с наблюдателями по путям.
type Store struct {
	logger *slog.Logger

	values   map[string]any
	watchers map[string][]Watcher
	mu       sync.RWMutex
}

// NewStore создает хранилище, заполненное значениями по умолчанию.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:   logger,
		values:   defaultValues(),
		watchers: make(map[string][]Watcher),
	}
}

// defaultValues возвращает начальное состояние всех групп настроек.
func defaultValues() map[string]any {
	return map[string]any{
		// Страницы, на которых click-to-dial иконки не вставляются:
		// либо служебные, либо слишком большие для разбора за разумное
		// время
		"click2dial.blacklist": []string{
			"^chrome",
			"^https?.*docs\\.google\\.com.*$",
			"^https?.*drive\\.google\\.com.*$",
			"^https?.*bitbucket\\.org.*$",
			"^https?.*github\\.com.*$",
			"^https?.*rbcommons\\.com.*$",
			"^https?.*slack\\.com.*$",
		},
		"click2dial.enabled": true,

		"language.options": []Option{
			{ID: "en", Name: "english"},
			{ID: "nl", Name: "nederlands"},
		},
		"language.selected": Option{},

		"telemetry.enabled":     false,
		"telemetry.analyticsID": "",
		"telemetry.sentryDSN":   "",
		"telemetry.clientID":    "",

		"webrtc.enabled": true,
		"webrtc.toggle":  true,
		"webrtc.account.selected": Account{},
		"webrtc.codecs.options": []Option{
			{ID: "1", Name: "G722"},
			{ID: "2", Name: "opus"},
		},
		"webrtc.codecs.selected": Option{ID: "1", Name: "G722"},
		"webrtc.endpoint.uri":    "",
		"webrtc.media.permission": true,
		"webrtc.stun":             "",
	}
}

// Get возвращает значение по пути. Второй результат false для
// неизвестного пути.
func (s *Store) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[path]
	return v, ok
}

// GetBool возвращает булево значение по пути, false для остальных типов.
func (s *Store) GetBool(path string) bool {
	v, ok := s.Get(path)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// GetString возвращает строковое значение по пути.
func (s *Store) GetString(path string) string {
	v, ok := s.Get(path)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// Set записывает значение и уведомляет наблюдателей, если оно
// изменилось. Запись по неизвестному пути отклоняется.
func (s *Store) Set(path string, value any) error {
	s.mu.Lock()
	old, known := s.values[path]
	if !known {
		s.mu.Unlock()
		return fmt.Errorf("неизвестный путь настройки: %s", path)
	}
	changed := !equalValue(old, value)
	s.values[path] = value
	var watchers []Watcher
	if changed {
		watchers = append(watchers, s.watchers[path]...)
	}
	s.mu.Unlock()

	if !changed {
		return nil
	}
	s.logger.Debug("настройка изменена", slog.String("path", path))
	for _, w := range watchers {
		w(value)
	}
	return nil
}

// Watch регистрирует наблюдателя на путь. Наблюдатель вызывается
// только при фактическом изменении значения.
func (s *Store) Watch(path string, w Watcher) {
	s.mu.Lock()
	s.watchers[path] = append(s.watchers[path], w)
	s.mu.Unlock()
}

// Snapshot возвращает копию текущих значений для диагностики.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make(map[string]any, len(s.values))
	for k, v := range s.values {
		snapshot[k] = v
	}
	return snapshot
}

// equalValue сравнивает только скалярные значения; срезы и структуры
// выбора считаются всегда изменившимися.
func equalValue(a, b any) bool {
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case int:
		bv, ok := b.(int)
		return ok && av == bv
	case Option:
		bv, ok := b.(Option)
		return ok && av == bv
	case Account:
		bv, ok := b.(Account)
		return ok && av == bv
	default:
		return false
	}
}
