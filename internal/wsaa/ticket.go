package wsaa

import (
	"encoding/xml"
	"fmt"
	"time"
)

const ticketTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Default access ticket timing
const (
	DefaultTicketTTL = time.Hour
	DefaultClockSkew = 60 * time.Second
)

// Ticket is the loginTicketRequest document submitted to WSAA
type Ticket struct {
	UniqueID       uint32
	GenerationTime time.Time
	ExpirationTime time.Time
	Service        string
}

type ticketXML struct {
	XMLName xml.Name `xml:"loginTicketRequest"`
	Version string   `xml:"version,attr"`
	Header  struct {
		UniqueID       uint32 `xml:"uniqueId"`
		GenerationTime string `xml:"generationTime"`
		ExpirationTime string `xml:"expirationTime"`
	} `xml:"header"`
	Service string `xml:"service"`
}

// BuildTicket creates a ticket for service valid from now-skew to now+ttl
func BuildTicket(service string, now time.Time, ttl, skew time.Duration) Ticket {
	return Ticket{
		UniqueID:       uint32(now.Unix()),
		GenerationTime: now.Add(-skew).UTC(),
		ExpirationTime: now.Add(ttl).UTC(),
		Service:        service,
	}
}

// Marshal renders the ticket as an XML document ready to be signed
func (t Ticket) Marshal() ([]byte, error) {
	if t.Service == "" {
		return nil, fmt.Errorf("ticket service is required")
	}
	if !t.GenerationTime.Before(t.ExpirationTime) {
		return nil, fmt.Errorf("ticket generation time must precede expiration time")
	}

	var doc ticketXML
	doc.Version = "1.0"
	doc.Header.UniqueID = t.UniqueID
	doc.Header.GenerationTime = t.GenerationTime.UTC().Format(ticketTimeLayout)
	doc.Header.ExpirationTime = t.ExpirationTime.UTC().Format(ticketTimeLayout)
	doc.Service = t.Service

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal access ticket: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
