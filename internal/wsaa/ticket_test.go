package wsaa

import (
	"encoding/xml"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTicket(t *testing.T) {
	now := time.Date(2025, 5, 10, 14, 30, 0, 0, time.FixedZone("ART", -3*3600))
	ticket := BuildTicket("wsfe", now, time.Hour, time.Minute)

	assert.Equal(t, uint32(now.Unix()), ticket.UniqueID)
	assert.Equal(t, now.Add(-time.Minute).UTC(), ticket.GenerationTime)
	assert.Equal(t, now.Add(time.Hour).UTC(), ticket.ExpirationTime)
	assert.Equal(t, "wsfe", ticket.Service)
}

func TestTicket_Marshal(t *testing.T) {
	now := time.Date(2025, 5, 10, 17, 30, 0, 0, time.UTC)
	doc, err := BuildTicket("wsfe", now, time.Hour, time.Minute).Marshal()
	require.NoError(t, err)

	var parsed ticketXML
	require.NoError(t, xml.Unmarshal(doc, &parsed))
	assert.Equal(t, "1.0", parsed.Version)
	assert.Equal(t, "wsfe", parsed.Service)
	assert.Equal(t, "2025-05-10T17:29:00.000Z", parsed.Header.GenerationTime)
	assert.Equal(t, "2025-05-10T18:30:00.000Z", parsed.Header.ExpirationTime)
	assert.Equal(t, uint32(now.Unix()), parsed.Header.UniqueID)

	t.Run("rejects empty service", func(t *testing.T) {
		_, err := BuildTicket("", now, time.Hour, 0).Marshal()
		assert.Error(t, err)
	})

	t.Run("rejects inverted window", func(t *testing.T) {
		_, err := BuildTicket("wsfe", now, -time.Hour, 0).Marshal()
		assert.Error(t, err)
	})
}
