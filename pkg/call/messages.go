package call

// Catalog - каталог локализованных сообщений о статусе вызова.
// Сообщения показываются пользователю при смене статуса; ключи
// совпадают со значениями Status, статус accepted различается по
// направлению.
type Catalog struct {
	messages map[string]string
}

// Get возвращает сообщение по ключу или сам ключ, если перевода нет.
func (c *Catalog) Get(key string) string {
	if msg, ok := c.messages[key]; ok {
		return msg
	}
	return key
}

// StatusMessage возвращает сообщение для статуса с учетом направления
// вызова.
func (c *Catalog) StatusMessage(status Status, direction Direction) string {
	if status == StatusAccepted {
		return c.Get("accepted." + direction.String())
	}
	return c.Get(string(status))
}

var catalogs = map[string]map[string]string{
	"en": {
		"accepted.incoming":  "call accepted",
		"accepted.outgoing":  "call accepted by callee",
		"bye":                "call ended",
		"request_terminated": "call terminated",
		"answered_elsewhere": "call answered elsewhere",
		"callee_unavailable": "callee is unavailable",
		"callee_busy":        "callee is busy",
		"warning.no_avpf":    "your VoIP account misses AVPF and encryption support.",
	},
	"nl": {
		"accepted.incoming":  "gesprek geaccepteerd",
		"accepted.outgoing":  "gesprek geaccepteerd door gebelde",
		"bye":                "gesprek beëindigd",
		"request_terminated": "gesprek afgebroken",
		"answered_elsewhere": "gesprek elders beantwoord",
		"callee_unavailable": "gebelde is niet bereikbaar",
		"callee_busy":        "gebelde is in gesprek",
		"warning.no_avpf":    "uw VoIP-account mist AVPF- en encryptie-ondersteuning.",
	},
}

// NewCatalog создает каталог для указанного языка. Неизвестный язык
// откатывается на английский.
func NewCatalog(language string) *Catalog {
	messages, ok := catalogs[language]
	if !ok {
		messages = catalogs["en"]
	}
	return &Catalog{messages: messages}
}
