package sipua

import (
	"fmt"
	"net"
	"syscall"
)

// voiceSocketBuffer размер буферов сокета. 64KB хватает на ~3 секунды
// аудио G.711 при 20ms пакетах.
const voiceSocketBuffer = 65535

// applySocketOptions применяет низкоуровневые настройки к RTP сокету:
// размеры буферов, DSCP маркировку и переиспользование порта.
func applySocketOptions(conn *net.UDPConn, config MediaConfig) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("доступ к системному сокету: %w", err)
	}

	var sockOptErr error
	err = rawConn.Control(func(fd uintptr) {
		sockOptErr = applyVoiceSockOpts(int(fd), config)
	})
	if err != nil {
		return fmt.Errorf("управление сокетом: %w", err)
	}
	return sockOptErr
}

func applyVoiceSockOpts(fd int, config MediaConfig) error {
	if err := setSockOptBuffers(fd, voiceSocketBuffer); err != nil {
		return fmt.Errorf("установка буферов: %w", err)
	}

	if config.DSCP > 0 {
		if err := setSockOptDSCP(fd, config.DSCP); err != nil {
			return fmt.Errorf("установка DSCP: %w", err)
		}
	}

	if config.ReusePort {
		if err := setSockOptReusePort(fd); err != nil {
			return fmt.Errorf("установка SO_REUSEPORT: %w", err)
		}
	}

	return nil
}

func setSockOptBuffers(fd, size int) error {
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, size); err != nil {
		return err
	}
	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, size)
}
