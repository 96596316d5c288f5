package settings

import (
	"log/slog"
)

// MonitorConfig - параметры запуска монитора исключений.
type MonitorConfig struct {
	DSN         string
	Environment string
	Release     string
	UserID      string
	UserEmail   string
}

// ExceptionMonitor - внешний сервис сбора исключений с явным
// жизненным циклом. Внедряется, а не используется как глобальное
// состояние.
type ExceptionMonitor interface {
	Install(config MonitorConfig) error
	Uninstall()
}

// DeviceVerifier перепроверяет доступность настроенных аудио устройств.
type DeviceVerifier interface {
	VerifySinks() error
}

// IconSignaler переключает click-to-dial иконки на открытых страницах.
type IconSignaler interface {
	SignalIcons(enabled bool)
}

// Telemetry - канал отправки событий аналитики.
type Telemetry interface {
	Event(category, action, label string)
}

// Config - коллабораторы и окружение сервиса настроек.
type Config struct {
	Monitor     ExceptionMonitor
	Devices     DeviceVerifier
	Icons       IconSignaler
	Telemetry   Telemetry
	Environment string
	Release     string

	// FallbackAccount - платформенный аккаунт, к которому возвращаемся
	// при выключении WebRTC режима
	FallbackAccount Account

	Logger *slog.Logger
}

// Service связывает хранилище настроек с реакциями на их изменение.
type Service struct {
	store  *Store
	config Config
	logger *slog.Logger
}

// NewService регистрирует встроенных наблюдателей и возвращает сервис.
func NewService(store *Store, config Config) *Service {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{
		store:  store,
		config: config,
		logger: logger,
	}
	svc.registerWatchers()
	return svc
}

// Start применяет текущее состояние телеметрии: монитор исключений
// включается или выключается в соответствии с согласием пользователя.
func (svc *Service) Start() {
	if svc.store.GetBool("telemetry.enabled") {
		svc.installMonitor()
	} else if svc.config.Monitor != nil {
		svc.config.Monitor.Uninstall()
	}
}

func (svc *Service) registerWatchers() {
	svc.store.Watch("click2dial.enabled", func(value any) {
		enabled, _ := value.(bool)
		if svc.config.Icons != nil {
			svc.config.Icons.SignalIcons(enabled)
		}
	})

	svc.store.Watch("telemetry.enabled", func(value any) {
		enabled, _ := value.(bool)
		svc.logger.Info("переключение монитора исключений",
			slog.Bool("enabled", enabled))
		if enabled {
			svc.installMonitor()
		} else if svc.config.Monitor != nil {
			svc.config.Monitor.Uninstall()
		}
		if svc.config.Telemetry != nil {
			label := "off"
			if enabled {
				label = "on"
			}
			svc.config.Telemetry.Event("telemetry", "toggle", label)
		}
	})

	// Разрешение на микрофон по умолчанию уже выдано; повторная выдача
	// требует перепроверки устройств
	svc.store.Watch("webrtc.media.permission", func(value any) {
		granted, _ := value.(bool)
		if !granted || svc.config.Devices == nil {
			return
		}
		if err := svc.config.Devices.VerifySinks(); err != nil {
			svc.logger.Warn("проверка аудио устройств не удалась",
				slog.Any("error", err))
		}
	})

	// toggle - намерение включить или выключить WebRTC режим,
	// enabled - текущий режим работы
	svc.store.Watch("webrtc.toggle", func(value any) {
		toggled, _ := value.(bool)
		if toggled {
			svc.store.Set("webrtc.enabled", true)
			svc.logger.Debug("webrtc включен")
			return
		}
		fallback := svc.config.FallbackAccount
		svc.logger.Info("возврат к платформенному аккаунту",
			slog.String("username", fallback.Username))
		svc.store.Set("webrtc.account.selected", fallback)
		svc.store.Set("webrtc.enabled", false)
	})
}

func (svc *Service) installMonitor() {
	if svc.config.Monitor == nil {
		return
	}
	config := MonitorConfig{
		DSN:         svc.store.GetString("telemetry.sentryDSN"),
		Environment: svc.config.Environment,
		Release:     svc.config.Release,
	}
	svc.logger.Info("мониторинг исключений запущен",
		slog.String("release", config.Release))
	if err := svc.config.Monitor.Install(config); err != nil {
		svc.logger.Warn("не удалось запустить монитор исключений",
			slog.Any("error", err))
	}
}
