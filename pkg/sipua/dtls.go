package sipua

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/dtls/v2"
)

// dtlsHandshakeTimeout учитывает возможные сетевые задержки
const dtlsHandshakeTimeout = 30 * time.Second

// establishDTLS поднимает DTLS поверх существующего RTP сокета в роли
// клиента. Сокет остается неподключенным, обертка направляет записи
// на адрес собеседника.
func establishDTLS(conn *net.UDPConn, remote *net.UDPAddr) (net.Conn, error) {
	config := &dtls.Config{
		CipherSuites: []dtls.CipherSuiteID{
			dtls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			dtls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			dtls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			dtls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
		InsecureSkipVerify:   true,
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), dtlsHandshakeTimeout)
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), dtlsHandshakeTimeout)
	defer cancel()

	dtlsConn, err := dtls.ClientWithContext(ctx, &udpPeerConn{UDPConn: conn, remote: remote}, config)
	if err != nil {
		return nil, fmt.Errorf("DTLS handshake: %w", err)
	}
	return dtlsConn, nil
}

// udpPeerConn адаптирует неподключенный UDP сокет к net.Conn для DTLS.
type udpPeerConn struct {
	*net.UDPConn
	remote *net.UDPAddr
}

func (c *udpPeerConn) Write(b []byte) (int, error) {
	return c.UDPConn.WriteToUDP(b, c.remote)
}

func (c *udpPeerConn) RemoteAddr() net.Addr {
	return c.remote
}
