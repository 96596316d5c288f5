package sipua

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
)

// generateID возвращает криптографически стойкий hex идентификатор.
// Используется для Call-ID и тегов диалога.
func generateID(bytes int) string {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand недоступен только при деградации системы;
		// запасной вариант сохраняет работоспособность
		for i := range buf {
			buf[i] = byte(i * 31)
		}
	}
	return hex.EncodeToString(buf)
}

// randomSSRC возвращает случайный идентификатор источника RTP.
func randomSSRC() uint32 {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return uint32(len(buf)) << 16
	}
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}

func generateCallID() string {
	return generateID(16)
}

func generateTag() string {
	return generateID(8)
}

// splitHostPort разбирает host:port; порт 0 означает "не указан".
func splitHostPort(addr string) (string, int) {
	host, portStr, found := strings.Cut(addr, ":")
	if !found {
		return addr, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}

func containsScheme(target string) bool {
	return strings.HasPrefix(target, "sip:") || strings.HasPrefix(target, "sips:")
}

func containsHost(target string) bool {
	return strings.Contains(target, "@")
}

// headersFrom копирует перечисленные заголовки сообщения в отображение
// для call.Event. Отсутствующие заголовки пропускаются.
func headersFrom(msg sip.Message, names ...string) map[string]string {
	headers := make(map[string]string, len(names))
	for _, name := range names {
		if hs := msg.GetHeaders(name); len(hs) > 0 {
			headers[name] = hs[0].Value()
		}
	}
	return headers
}

// contactURIValue извлекает URI из значения Contact заголовка,
// отбрасывая display name, угловые скобки и параметры.
func contactURIValue(value string) string {
	if start := strings.Index(value, "<"); start >= 0 {
		value = value[start+1:]
		if end := strings.Index(value, ">"); end >= 0 {
			value = value[:end]
		}
		return strings.TrimSpace(value)
	}
	// Contact без скобок: параметры отделяются точкой с запятой
	if semi := strings.Index(value, ";"); semi >= 0 {
		value = value[:semi]
	}
	return strings.TrimSpace(value)
}

// escapeReplaces экранирует Replaces параметр для вставки в Refer-To URI.
func escapeReplaces(value string) string {
	replacer := strings.NewReplacer(";", "%3B", "=", "%3D", "@", "%40")
	return replacer.Replace(value)
}

// ensureToTag добавляет локальный тег в To заголовок ответа, если его
// там еще нет.
func ensureToTag(resp *sip.Response, tag string) {
	to := resp.To()
	if to == nil {
		return
	}
	if to.Params == nil {
		to.Params = sip.HeaderParams{}
	}
	if _, ok := to.Params.Get("tag"); !ok {
		to.Params["tag"] = tag
	}
}
