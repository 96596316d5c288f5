package call

import (
	"log/slog"
	"regexp"
	"strings"
)

// UnknownNumber подставляется вместо номера, когда его не удалось
// извлечь из заголовка.
const UnknownNumber = "unknown"

var (
	// Захват URI в угловых скобках: `<sip:100@example.com>`
	bracketedURIRegex = regexp.MustCompile(`<(.*)>`)
	// Захват отображаемого имени в кавычках: `"Jane Doe"`
	displayNameRegex = regexp.MustCompile(`"(.*?)"`)
)

// RemoteParty содержит идентификацию удаленной стороны, извлеченную из
// заголовка Remote-Party-ID или P-Asserted-Identity.
type RemoteParty struct {
	DisplayName string
	Number      string
}

// ParseRemoteParty извлекает имя и номер звонящего из заголовка вида
// `"Jane Doe" <sip:12345@example.com>`.
//
// Функция никогда не возвращает ошибку: при отсутствии URI в скобках
// номер равен UnknownNumber; если user-часть URI не удается выделить
// (нет `@`), в номер попадает сырой захват в скобках, а в лог пишется
// предупреждение.
func ParseRemoteParty(header string) RemoteParty {
	return parseRemoteParty(header, slog.Default())
}

func parseRemoteParty(header string, logger *slog.Logger) RemoteParty {
	party := RemoteParty{Number: UnknownNumber}

	if m := bracketedURIRegex.FindStringSubmatch(header); m != nil {
		uri := m[1]
		if strings.Contains(uri, "@") {
			user := strings.SplitN(uri, "@", 2)[0]
			party.Number = strings.TrimPrefix(user, "sip:")
		} else {
			// user-часть не выделяется - оставляем сырой захват
			logger.Warn("не удалось разобрать идентификационный заголовок",
				slog.String("header", header))
			party.Number = m[0]
		}
	}

	if m := displayNameRegex.FindStringSubmatch(header); m != nil {
		party.DisplayName = m[1]
	}

	return party
}

// HeaderParams - упорядоченное отображение ключ/значение, разобранное из
// заголовка с параметрами через точку с запятой. Порядок вставки
// сохраняется.
type HeaderParams struct {
	keys   []string
	values map[string]string
}

// Get возвращает значение параметра и признак его наличия.
func (p *HeaderParams) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Keys возвращает ключи в порядке появления в заголовке.
func (p *HeaderParams) Keys() []string {
	keys := make([]string, len(p.keys))
	copy(keys, p.keys)
	return keys
}

// Len возвращает количество параметров.
func (p *HeaderParams) Len() int {
	return len(p.keys)
}

func (p *HeaderParams) set(key, value string) {
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// ParseSemicolonHeader разбирает заголовок вида
// `SIP;cause=200;text="Call completed elsewhere"` в упорядоченное
// отображение. Кавычки удаляются, сегмент без `=` получает пустое
// значение. Используется для извлечения причины завершения из заголовка
// Reason.
func ParseSemicolonHeader(header string) *HeaderParams {
	params := &HeaderParams{values: make(map[string]string)}

	header = strings.ReplaceAll(header, `"`, "")
	for _, segment := range strings.Split(header, ";") {
		key, value, _ := strings.Cut(segment, "=")
		params.set(key, value)
	}
	return params
}
