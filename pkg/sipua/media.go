package sipua

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"

	"github.com/arzzra/webcall/pkg/call"
)

// Константы медиа-транспорта для телефонии
const (
	// DefaultPayloadType PCMU (G.711 u-law) согласно RFC 3551
	DefaultPayloadType = 0

	// DefaultClockRate частота дискретизации G.711
	DefaultClockRate = 8000

	// DefaultPtime длительность пакета в миллисекундах
	DefaultPtime = 20

	// DSCPExpeditedForwarding EF (46) для интерактивного аудио по RFC 4594
	DSCPExpeditedForwarding = 46

	// maxRTPPacketSize предел MTU Ethernet без фрагментации
	maxRTPPacketSize = 1500

	// minRTPPacketSize минимальный размер RTP заголовка по RFC 3550
	minRTPPacketSize = 12
)

// mediaDirection направление медиа потока в SDP
type mediaDirection string

const (
	directionSendRecv mediaDirection = "sendrecv"
	directionSendOnly mediaDirection = "sendonly"
	directionRecvOnly mediaDirection = "recvonly"
	directionInactive mediaDirection = "inactive"
)

// MediaConfig конфигурация медиа-транспорта.
type MediaConfig struct {
	// ListenIP локальный IP для RTP сокета
	ListenIP string

	// PortMin и PortMax диапазон портов для RTP
	PortMin int
	PortMax int

	// PayloadType кодек в RTP payload type нотации
	PayloadType uint8

	// ClockRate частота дискретизации кодека
	ClockRate int

	// Ptime длительность пакета в миллисекундах
	Ptime int

	// DSCP маркировка QoS (0 означает без маркировки)
	DSCP int

	// ReusePort разрешает повторное использование порта
	ReusePort bool

	// Secure включает DTLS поверх UDP для медиа
	Secure bool
}

// DefaultMediaConfig возвращает конфигурацию для G.711 телефонии.
func DefaultMediaConfig() MediaConfig {
	return MediaConfig{
		ListenIP:    "0.0.0.0",
		PortMin:     10000,
		PortMax:     20000,
		PayloadType: DefaultPayloadType,
		ClockRate:   DefaultClockRate,
		Ptime:       DefaultPtime,
		DSCP:        DSCPExpeditedForwarding,
	}
}

// mediaEndpoint владеет RTP сокетом одного звонка и реализует
// call.PeerConnection. Удаленные дорожки регистрируются по первому
// пакету с новым SSRC.
type mediaEndpoint struct {
	config MediaConfig
	logger *slog.Logger

	conn     *net.UDPConn
	dtlsConn net.Conn

	localTrack   call.Track
	remoteTracks map[uint32]call.Track
	remoteAddr   *net.UDPAddr
	direction    mediaDirection

	trackFn func()

	seq       uint16
	timestamp uint32

	started bool
	stopped bool
	done    chan struct{}
	mu      sync.Mutex
}

func newMediaEndpoint(config MediaConfig, logger *slog.Logger) (*mediaEndpoint, error) {
	conn, err := listenRTP(config)
	if err != nil {
		return nil, err
	}

	e := &mediaEndpoint{
		config: config,
		logger: logger,
		conn:   conn,
		localTrack: call.Track{
			ID:          generateID(4),
			Kind:        call.TrackKindAudio,
			SSRC:        randomSSRC(),
			PayloadType: config.PayloadType,
		},
		remoteTracks: make(map[uint32]call.Track),
		direction:    directionSendRecv,
		done:         make(chan struct{}),
	}
	return e, nil
}

// listenRTP открывает UDP сокет в сконфигурированном диапазоне портов
// и применяет голосовые оптимизации к нему.
func listenRTP(config MediaConfig) (*net.UDPConn, error) {
	ip := net.ParseIP(config.ListenIP)
	if ip == nil {
		ip = net.IPv4zero
	}

	var lastErr error
	for port := config.PortMin; port <= config.PortMax; port += 2 {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: port})
		if err != nil {
			lastErr = err
			continue
		}
		if err := applySocketOptions(conn, config); err != nil {
			conn.Close()
			return nil, fmt.Errorf("настройка RTP сокета: %w", err)
		}
		return conn, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("диапазон портов %d-%d пуст", config.PortMin, config.PortMax)
	}
	return nil, fmt.Errorf("нет свободного RTP порта: %w", lastErr)
}

func (e *mediaEndpoint) onTrack(fn func()) {
	e.mu.Lock()
	e.trackFn = fn
	e.mu.Unlock()
}

func (e *mediaEndpoint) setDirection(d mediaDirection) {
	e.mu.Lock()
	e.direction = d
	e.mu.Unlock()
}

// localDescription сериализует текущее состояние транспорта в SDP.
func (e *mediaEndpoint) localDescription() ([]byte, error) {
	localAddr, ok := e.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("неожиданный тип локального адреса")
	}
	host := localAddr.IP.String()
	if localAddr.IP.IsUnspecified() {
		host = localHostAddress()
	}

	e.mu.Lock()
	direction := e.direction
	e.mu.Unlock()

	now := uint64(time.Now().Unix())
	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: host,
		},
		SessionName: "webcall",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	protos := []string{"RTP", "AVP"}
	if e.config.Secure {
		protos = []string{"UDP", "TLS", "RTP", "SAVP"}
	}
	mediaDesc := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: localAddr.Port},
			Protos:  protos,
			Formats: []string{strconv.Itoa(int(e.config.PayloadType))},
		},
		Attributes: []sdp.Attribute{
			sdp.NewAttribute("rtpmap", fmt.Sprintf("%d PCMU/%d",
				e.config.PayloadType, e.config.ClockRate)),
			sdp.NewAttribute("ptime", strconv.Itoa(e.config.Ptime)),
			sdp.NewPropertyAttribute(string(direction)),
		},
	}
	desc.MediaDescriptions = []*sdp.MediaDescription{mediaDesc}

	return desc.Marshal()
}

// applyRemoteDescription разбирает SDP собеседника и запоминает адрес
// его аудио потока.
func (e *mediaEndpoint) applyRemoteDescription(body []byte) error {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return fmt.Errorf("разбор SDP: %w", err)
	}

	var audio *sdp.MediaDescription
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			audio = m
			break
		}
	}
	if audio == nil {
		return fmt.Errorf("SDP не содержит аудио секции")
	}

	host := ""
	if audio.ConnectionInformation != nil && audio.ConnectionInformation.Address != nil {
		host = audio.ConnectionInformation.Address.Address
	} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		host = desc.ConnectionInformation.Address.Address
	}
	if host == "" {
		return fmt.Errorf("SDP не содержит адреса соединения")
	}

	addr, err := net.ResolveUDPAddr("udp",
		net.JoinHostPort(host, strconv.Itoa(audio.MediaName.Port.Value)))
	if err != nil {
		return fmt.Errorf("разрешение медиа адреса: %w", err)
	}

	e.mu.Lock()
	e.remoteAddr = addr
	e.mu.Unlock()
	return nil
}

// start запускает циклы приема и отправки. Повторный вызов игнорируется.
func (e *mediaEndpoint) start() {
	e.mu.Lock()
	if e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.started = true
	secure := e.config.Secure
	remote := e.remoteAddr
	e.mu.Unlock()

	if secure && remote != nil {
		dtlsConn, err := establishDTLS(e.conn, remote)
		if err != nil {
			e.logger.Warn("DTLS handshake не удался, медиа без шифрования",
				slog.Any("error", err))
		} else {
			e.mu.Lock()
			e.dtlsConn = dtlsConn
			e.mu.Unlock()
		}
	}

	go e.receiveLoop()
	go e.sendLoop()
}

// receiveLoop читает входящие RTP пакеты и регистрирует дорожки по SSRC.
func (e *mediaEndpoint) receiveLoop() {
	buf := make([]byte, maxRTPPacketSize)
	for {
		select {
		case <-e.done:
			return
		default:
		}

		e.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		var n int
		var err error
		e.mu.Lock()
		dtlsConn := e.dtlsConn
		e.mu.Unlock()
		if dtlsConn != nil {
			n, err = dtlsConn.Read(buf)
		} else {
			n, _, err = e.conn.ReadFromUDP(buf)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		if n < minRTPPacketSize {
			continue
		}

		var packet rtp.Packet
		if err := packet.Unmarshal(buf[:n]); err != nil {
			continue
		}
		e.registerRemoteTrack(&packet)
	}
}

func (e *mediaEndpoint) registerRemoteTrack(packet *rtp.Packet) {
	e.mu.Lock()
	if _, known := e.remoteTracks[packet.SSRC]; known {
		e.mu.Unlock()
		return
	}
	e.remoteTracks[packet.SSRC] = call.Track{
		ID:          strconv.FormatUint(uint64(packet.SSRC), 16),
		Kind:        call.TrackKindAudio,
		SSRC:        packet.SSRC,
		PayloadType: packet.PayloadType,
	}
	fn := e.trackFn
	e.mu.Unlock()

	e.logger.Debug("зарегистрирована удаленная дорожка",
		slog.Uint64("ssrc", uint64(packet.SSRC)))
	if fn != nil {
		fn()
	}
}

// sendLoop отправляет кадры тишины G.711 с интервалом ptime. Поток
// держит NAT binding открытым и дает собеседнику наш SSRC.
func (e *mediaEndpoint) sendLoop() {
	interval := time.Duration(e.config.Ptime) * time.Millisecond
	samples := e.config.ClockRate / 1000 * e.config.Ptime

	// 0xFF соответствует тишине в u-law кодировании
	silence := make([]byte, samples)
	for i := range silence {
		silence[i] = 0xFF
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.mu.Lock()
			remote := e.remoteAddr
			direction := e.direction
			dtlsConn := e.dtlsConn
			e.mu.Unlock()
			if remote == nil {
				continue
			}
			if direction == directionRecvOnly || direction == directionInactive {
				continue
			}
			if err := e.writePacket(silence, uint32(samples), remote, dtlsConn); err != nil {
				e.logger.Debug("ошибка отправки RTP", slog.Any("error", err))
			}
		}
	}
}

func (e *mediaEndpoint) writePacket(payload []byte, step uint32, remote *net.UDPAddr, dtlsConn net.Conn) error {
	e.mu.Lock()
	e.seq++
	e.timestamp += step
	packet := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    e.localTrack.PayloadType,
			SequenceNumber: e.seq,
			Timestamp:      e.timestamp,
			SSRC:           e.localTrack.SSRC,
		},
		Payload: payload,
	}
	e.mu.Unlock()

	data, err := packet.Marshal()
	if err != nil {
		return err
	}
	if dtlsConn != nil {
		_, err = dtlsConn.Write(data)
	} else {
		_, err = e.conn.WriteToUDP(data, remote)
	}
	return err
}

// stop закрывает сокет и останавливает циклы. Идемпотентен.
func (e *mediaEndpoint) stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	dtlsConn := e.dtlsConn
	e.mu.Unlock()

	close(e.done)
	if dtlsConn != nil {
		dtlsConn.Close()
	}
	e.conn.Close()
}

// Receivers возвращает удаленные дорожки. Реализация call.PeerConnection.
func (e *mediaEndpoint) Receivers() []call.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	tracks := make([]call.Track, 0, len(e.remoteTracks))
	for _, t := range e.remoteTracks {
		tracks = append(tracks, t)
	}
	return tracks
}

// Senders возвращает локальные дорожки. Реализация call.PeerConnection.
func (e *mediaEndpoint) Senders() []call.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return []call.Track{e.localTrack}
}

// localHostAddress возвращает не-loopback IPv4 адрес хоста для SDP.
func localHostAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
