package call

// Заглушки зависимостей. Подставляются нормализацией Config, чтобы
// пути без уведомлений и тонов не проверяли nil на каждом шаге.

type noopTone struct{}

func (noopTone) Play() {}
func (noopTone) Stop() {}

type noopNotifier struct{}

func (noopNotifier) Notify(Notification) {}
func (noopNotifier) CallRejected(*Call)  {}

type noopTelemetry struct{}

func (noopTelemetry) Event(category, action, label string) {}

type defaultConstraints struct{}

func (defaultConstraints) UserMediaConstraints() MediaConstraints {
	return MediaConstraints{Audio: true}
}
