package call_test

import (
	"testing"

	"github.com/arzzra/webcall/pkg/call"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRemoteParty(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		displayName string
		number      string
	}{
		{
			name:        "имя и номер",
			header:      `"Jane Doe" <sip:12345@example.com>`,
			displayName: "Jane Doe",
			number:      "12345",
		},
		{
			name:        "только номер",
			header:      `<sip:100@pbx.local>`,
			displayName: "",
			number:      "100",
		},
		{
			name:        "URI без user-части - сырой захват",
			header:      `<sip:unparsable>`,
			displayName: "",
			number:      "<sip:unparsable>",
		},
		{
			name:        "пустой заголовок",
			header:      "",
			displayName: "",
			number:      call.UnknownNumber,
		},
		{
			name:        "без скобок номер неизвестен",
			header:      `"Jane Doe" sip:12345@example.com`,
			displayName: "Jane Doe",
			number:      call.UnknownNumber,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			party := call.ParseRemoteParty(tt.header)
			assert.Equal(t, tt.displayName, party.DisplayName)
			assert.Equal(t, tt.number, party.Number)
		})
	}
}

func TestParseSemicolonHeader(t *testing.T) {
	params := call.ParseSemicolonHeader(`SIP;cause=200;text="Call completed elsewhere"`)

	require.Equal(t, 3, params.Len())
	assert.Equal(t, []string{"SIP", "cause", "text"}, params.Keys(), "порядок вставки сохраняется")

	value, ok := params.Get("SIP")
	assert.True(t, ok)
	assert.Equal(t, "", value, "сегмент без = дает пустое значение")

	cause, ok := params.Get("cause")
	assert.True(t, ok)
	assert.Equal(t, "200", cause)

	text, ok := params.Get("text")
	assert.True(t, ok)
	assert.Equal(t, "Call completed elsewhere", text, "кавычки удалены")
}

func TestParseSemicolonHeaderMissingKey(t *testing.T) {
	params := call.ParseSemicolonHeader("SIP;cause=487")

	_, ok := params.Get("text")
	assert.False(t, ok)
}
