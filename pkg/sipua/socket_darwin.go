//go:build darwin

package sipua

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSockOptReusePort включает переиспользование порта на macOS.
// SO_REUSEADDR стабильнее, SO_REUSEPORT добавляется по возможности.
func setSockOptReusePort(fd int) error {
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		return err
	}
	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	return nil
}

// setSockOptDSCP устанавливает DSCP маркировку для QoS (macOS).
func setSockOptDSCP(fd, dscp int) error {
	// DSCP занимает старшие 6 бит поля TOS
	tos := dscp << 2

	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_TOS, tos); err != nil {
		// Часть TOS значений требует root, пропускаем без ошибки
		return nil
	}
	syscall.SetsockoptInt(fd, syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)

	// SO_NOSIGPIPE предотвращает SIGPIPE при записи в закрытый сокет
	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
	return nil
}
