package webhook

import (
	"crypto/ed25519"
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidtube/kidtube/pkg/models"
)

func signInteraction(priv ed25519.PrivateKey, timestamp string, body []byte) string {
	return hex.EncodeToString(ed25519.Sign(priv, append([]byte(timestamp), body...)))
}

func TestVerifyInteraction(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Date(2024, time.March, 4, 17, 0, 0, 0, time.UTC)
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"type":1}`)
	sig := signInteraction(priv, ts, body)

	assert.True(t, VerifyInteraction(pub, sig, ts, body, now))
	assert.True(t, VerifyInteraction(pub, sig, ts, body, now.Add(time.Minute)))

	tests := []struct {
		name string
		sig  string
		ts   string
		body []byte
		now  time.Time
	}{
		{"tampered body", sig, ts, []byte(`{"type":3}`), now},
		{"other timestamp", sig, strconv.FormatInt(now.Unix()+1, 10), body, now},
		{"not hex", "zz", ts, body, now},
		{"short signature", sig[:10], ts, body, now},
		{"bad timestamp", sig, "yesterday", body, now},
		{"stale", sig, ts, body, now.Add(MaxInteractionSkew + time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, VerifyInteraction(pub, tt.sig, tt.ts, tt.body, tt.now))
		})
	}
}

func TestParsePublicKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	key, err := ParsePublicKey(hex.EncodeToString(pub))
	require.NoError(t, err)
	assert.Equal(t, pub, key)

	_, err = ParsePublicKey("abcd")
	assert.Error(t, err)
	_, err = ParsePublicKey("not-hex")
	assert.Error(t, err)
}

func TestParseCustomID(t *testing.T) {
	action, err := ParseCustomID("request:12:approve")
	require.NoError(t, err)
	assert.Equal(t, ButtonAction{Kind: ActionRequest, ID: 12, Arg: VerbApprove}, action)

	action, err = ParseCustomID("bonus:3:today")
	require.NoError(t, err)
	assert.Equal(t, ButtonAction{Kind: ActionBonus, ID: 3, Arg: "today"}, action)

	for _, id := range []string{"", "request:12", "request:x:approve", "request:0:deny", "request:12:maybe", "reboot:1:now", "bonus:3:"} {
		_, err := ParseCustomID(id)
		assert.Error(t, err, id)
	}
}

func TestRequestEmbedButtons(t *testing.T) {
	payload := RequestEmbed(sampleEvent())
	require.Len(t, payload.Components, 1)
	row := payload.Components[0]
	assert.Equal(t, ComponentActionRow, row.Type)
	require.Len(t, row.Components, 2)
	assert.Equal(t, "request:9:approve", row.Components[0].CustomID)
	assert.Equal(t, ButtonSuccess, row.Components[0].Style)
	assert.Equal(t, "request:9:deny", row.Components[1].CustomID)
	assert.Equal(t, ButtonDanger, row.Components[1].Style)

	decided := sampleEvent()
	decided.Event = models.EventRequestApproved
	decided.Request.Status = models.RequestStatusApproved
	assert.Empty(t, RequestEmbed(decided).Components)
}
