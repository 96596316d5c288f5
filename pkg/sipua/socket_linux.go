//go:build linux

package sipua

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSockOptReusePort включает SO_REUSEPORT (Linux). Ядро распределяет
// нагрузку между сокетами на одном порту самостоятельно.
func setSockOptReusePort(fd int) error {
	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// setSockOptDSCP устанавливает DSCP маркировку для QoS (Linux).
func setSockOptDSCP(fd, dscp int) error {
	// DSCP занимает старшие 6 бит поля TOS
	tos := dscp << 2

	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_TOS, tos); err != nil {
		// Некоторые контейнеры запрещают смену TOS, звонок от этого
		// не страдает
		return nil
	}
	syscall.SetsockoptInt(fd, syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)

	// Приоритет сокета для интерактивного аудио
	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_PRIORITY, 6)
	return nil
}
