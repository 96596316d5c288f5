// Package settings реализует реактивное хранилище настроек приложения.
//
// Значения адресуются точечными путями ("telemetry.enabled",
// "webrtc.media.permission"). На каждый путь можно повесить
// наблюдателей, которые вызываются при изменении значения. Service
// связывает встроенные наблюдатели с внешними коллабораторами:
// монитором исключений, проверкой аудио устройств и телеметрией.
package settings
