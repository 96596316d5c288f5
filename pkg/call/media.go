package call

import (
	"log/slog"

	"github.com/google/uuid"
)

// TrackKind - вид медиа-дорожки.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// Track описывает одну медиа-дорожку согласованного соединения.
type Track struct {
	ID          string
	Kind        TrackKind
	SSRC        uint32
	PayloadType uint8
}

// PeerConnection - снимок активного медиа-соединения: дорожки приема и
// передачи на текущий момент.
type PeerConnection interface {
	Receivers() []Track
	Senders() []Track
}

// MediaStream - контейнер дорожек. Контейнер создается заново на каждое
// согласование и никогда не мутируется подорожечно: потребители всегда
// получают целостный снимок.
type MediaStream struct {
	id     string
	tracks []Track
}

// ID возвращает идентификатор контейнера.
func (s *MediaStream) ID() string {
	return s.id
}

// Tracks возвращает копию списка дорожек.
func (s *MediaStream) Tracks() []Track {
	tracks := make([]Track, len(s.tracks))
	copy(tracks, s.tracks)
	return tracks
}

func newMediaStream(tracks []Track) *MediaStream {
	stream := &MediaStream{
		id:     uuid.NewString(),
		tracks: make([]Track, len(tracks)),
	}
	copy(stream.tracks, tracks)
	return stream
}

// MediaBinder подключает согласованные дорожки к точкам воспроизведения
// после завершения медиа-согласования. Binder никогда не управляет
// статусом вызова.
type MediaBinder struct {
	sinks  *Sinks
	logger *slog.Logger
}

// NewMediaBinder создает binder. sinks может быть nil (тихий вызов);
// контейнеры тогда строятся, но никуда не публикуются.
func NewMediaBinder(sinks *Sinks, logger *slog.Logger) *MediaBinder {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaBinder{sinks: sinks, logger: logger}
}

// SetSinks заменяет точки воспроизведения (например, после повторной
// проверки устройств).
func (b *MediaBinder) SetSinks(sinks *Sinks) {
	b.sinks = sinks
}

// Bind строит свежие контейнеры из текущего снимка соединения и
// публикует их. Идемпотентен по вызову: повторное срабатывание после
// пересогласования полностью заменяет предыдущие контейнеры, дорожки
// из прошлого снимка не переносятся.
func (b *MediaBinder) Bind(pc PeerConnection) (local, remote *MediaStream) {
	remote = newMediaStream(pc.Receivers())
	local = newMediaStream(pc.Senders())

	if b.sinks != nil {
		if b.sinks.Remote != nil {
			b.sinks.Remote.SetStream(remote)
		}
		if b.sinks.Local != nil {
			b.sinks.Local.SetStream(local)
		}
	}

	b.logger.Debug("медиа-дорожки подключены",
		slog.Int("localTracks", len(local.tracks)),
		slog.Int("remoteTracks", len(remote.tracks)))
	return local, remote
}
