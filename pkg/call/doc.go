// Package call реализует жизненный цикл одного телефонного вызова.
//
// Пакет согласует три независимых источника событий в одно наблюдаемое
// состояние вызова:
//   - события сигнального протокола (accepted, bye, failed, progress,
//     refer, reinvite, trackAdded)
//   - локальные команды пользователя (Accept, Hold, Unhold, Transfer,
//     Terminate)
//   - асинхронные уведомления медиа-согласования
//
// Центральная сущность — Call. Все мутации статуса проходят через один
// редьюсер Apply, который валидирует переходы конечным автоматом на базе
// looplab/fsm. Невалидные переходы (дубликаты, опоздавшие уведомления
// после терминального статуса) логируются и игнорируются — вызов никогда
// не "ломается" от сетевого шума.
//
// Транспорт сигнализации абстрагирован интерфейсом Session и выбирается
// при создании вызова. Реализация поверх SIP находится в пакете sipua.
//
// Manager владеет множеством экземпляров Call: маршрутизирует входящие
// приглашения в новые экземпляры и убирает экземпляры из реестра после
// достижения терминального статуса.
package call
