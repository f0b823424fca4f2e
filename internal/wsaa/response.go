package wsaa

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/infofiscal/wsfe-harvester/internal/models"
)

type ticketResponseXML struct {
	XMLName xml.Name `xml:"loginTicketResponse"`
	Header  struct {
		Source         string `xml:"source"`
		Destination    string `xml:"destination"`
		UniqueID       string `xml:"uniqueId"`
		GenerationTime string `xml:"generationTime"`
		ExpirationTime string `xml:"expirationTime"`
	} `xml:"header"`
	Credentials struct {
		Token string `xml:"token"`
		Sign  string `xml:"sign"`
	} `xml:"credentials"`
}

var ticketTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
}

// ParseTicketResponse decodes a loginTicketResponse that may arrive as plain
// XML, HTML-escaped XML or base64. Token, sign and both timestamps are required.
func ParseTicketResponse(raw []byte) (models.Credential, error) {
	doc, err := unwrapTicketDocument(raw)
	if err != nil {
		return models.Credential{}, &AuthenticationError{Err: err}
	}

	var resp ticketResponseXML
	if err := xml.Unmarshal(doc, &resp); err != nil {
		return models.Credential{}, &AuthenticationError{Err: fmt.Errorf("decode loginTicketResponse: %w", err)}
	}

	cred := models.Credential{
		Token: strings.TrimSpace(resp.Credentials.Token),
		Sign:  strings.TrimSpace(resp.Credentials.Sign),
	}
	var missing []string
	if cred.Token == "" {
		missing = append(missing, "token")
	}
	if cred.Sign == "" {
		missing = append(missing, "sign")
	}
	if strings.TrimSpace(resp.Header.GenerationTime) == "" {
		missing = append(missing, "generationTime")
	}
	if strings.TrimSpace(resp.Header.ExpirationTime) == "" {
		missing = append(missing, "expirationTime")
	}
	if len(missing) > 0 {
		return models.Credential{}, &AuthenticationError{
			Err: fmt.Errorf("loginTicketResponse missing %s", strings.Join(missing, ", ")),
		}
	}

	if cred.GeneratedAt, err = parseTicketTime(resp.Header.GenerationTime); err != nil {
		return models.Credential{}, &AuthenticationError{Err: err}
	}
	if cred.ExpiresAt, err = parseTicketTime(resp.Header.ExpirationTime); err != nil {
		return models.Credential{}, &AuthenticationError{Err: err}
	}
	if err := cred.Validate(); err != nil {
		return models.Credential{}, &AuthenticationError{Err: err}
	}
	return cred, nil
}

func unwrapTicketDocument(raw []byte) ([]byte, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return nil, errors.New("loginTicketResponse is empty")
	}
	if isXMLDocument(s) {
		return []byte(s), nil
	}

	if unescaped := strings.TrimSpace(html.UnescapeString(s)); isXMLDocument(unescaped) {
		return []byte(unescaped), nil
	}

	compact := strings.Join(strings.Fields(s), "")
	decoded, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("loginTicketResponse is neither xml nor base64: %w", err)
	}
	decoded = bytes.TrimSpace(decoded)
	if !isXMLDocument(string(decoded)) {
		return nil, errors.New("decoded loginTicketResponse is not xml")
	}
	return decoded, nil
}

func isXMLDocument(s string) bool {
	return strings.HasPrefix(s, "<")
}

func parseTicketTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range ticketTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ticket timestamp %q", s)
}
