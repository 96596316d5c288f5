package sipua

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMediaConfig() MediaConfig {
	config := DefaultMediaConfig()
	config.ListenIP = "127.0.0.1"
	config.PortMin = 40000
	config.PortMax = 40200
	config.DSCP = 0
	return config
}

func newTestEndpoint(t *testing.T) *mediaEndpoint {
	t.Helper()
	endpoint, err := newMediaEndpoint(testMediaConfig(), testLogger())
	require.NoError(t, err)
	t.Cleanup(endpoint.stop)
	return endpoint
}

func TestLocalDescriptionContainsAudioSection(t *testing.T) {
	endpoint := newTestEndpoint(t)

	body, err := endpoint.localDescription()
	require.NoError(t, err)

	sdp := string(body)
	assert.Contains(t, sdp, "m=audio ")
	assert.Contains(t, sdp, "a=rtpmap:0 PCMU/8000")
	assert.Contains(t, sdp, "a=sendrecv")
	assert.Contains(t, sdp, "a=ptime:20")
}

func TestLocalDescriptionReflectsDirection(t *testing.T) {
	endpoint := newTestEndpoint(t)

	endpoint.setDirection(directionSendOnly)
	body, err := endpoint.localDescription()
	require.NoError(t, err)
	assert.Contains(t, string(body), "a=sendonly")
	assert.NotContains(t, string(body), "a=sendrecv")

	endpoint.setDirection(directionSendRecv)
	body, err = endpoint.localDescription()
	require.NoError(t, err)
	assert.Contains(t, string(body), "a=sendrecv")
}

func TestApplyRemoteDescriptionRoundTrip(t *testing.T) {
	offerer := newTestEndpoint(t)
	answerer := newTestEndpoint(t)

	offer, err := offerer.localDescription()
	require.NoError(t, err)

	require.NoError(t, answerer.applyRemoteDescription(offer))

	offererAddr := offerer.conn.LocalAddr().(*net.UDPAddr)
	answerer.mu.Lock()
	remote := answerer.remoteAddr
	answerer.mu.Unlock()
	require.NotNil(t, remote)
	assert.Equal(t, offererAddr.Port, remote.Port)
}

func TestApplyRemoteDescriptionRejectsNonAudio(t *testing.T) {
	endpoint := newTestEndpoint(t)

	badSDP := strings.Join([]string{
		"v=0",
		"o=- 1 1 IN IP4 127.0.0.1",
		"s=webcall",
		"c=IN IP4 127.0.0.1",
		"t=0 0",
		"m=video 40100 RTP/AVP 96",
		"",
	}, "\r\n")

	err := endpoint.applyRemoteDescription([]byte(badSDP))
	require.Error(t, err)
}

func TestEndpointStopIdempotent(t *testing.T) {
	endpoint, err := newMediaEndpoint(testMediaConfig(), testLogger())
	require.NoError(t, err)

	endpoint.stop()
	endpoint.stop()
}

func TestSendersReportLocalTrack(t *testing.T) {
	endpoint := newTestEndpoint(t)

	senders := endpoint.Senders()
	require.Len(t, senders, 1)
	assert.NotZero(t, senders[0].SSRC)
	assert.Equal(t, uint8(DefaultPayloadType), senders[0].PayloadType)

	assert.Empty(t, endpoint.Receivers())
}
