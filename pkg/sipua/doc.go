// Package sipua реализует сигнальный транспорт ядра вызовов поверх SIP.
//
// Stack оборачивает sipgo (UserAgent, Server, Client) и реализует
// call.Transport; Session реализует call.Session для одного SIP диалога.
// Медиа-часть (SDP оффер/ансвер, RTP сокет, снимок дорожек) живет в
// mediaEndpoint и отдается ядру через call.PeerConnection.
//
// События диалога доставляются подписчику асинхронно и в порядке
// получения от транспорта, как того требует контракт call.Session.
package sipua
