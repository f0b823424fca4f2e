// Package soap implements the SOAP 1.1 envelope handling shared by the
// WSAA and WSFEv1 clients.
package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// EnvelopeNS is the SOAP 1.1 envelope namespace
const EnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"

// maxResponseSize caps how much of a response body is read
const maxResponseSize = 16 << 20

type requestEnvelope struct {
	XMLName xml.Name    `xml:"soap:Envelope"`
	SoapNS  string      `xml:"xmlns:soap,attr"`
	Header  struct{}    `xml:"soap:Header"`
	Body    requestBody `xml:"soap:Body"`
}

type requestBody struct {
	Content any
}

// Marshal wraps body in a SOAP envelope. body must carry its own XMLName
// with the operation namespace.
func Marshal(body any) ([]byte, error) {
	env := requestEnvelope{
		SoapNS: EnvelopeNS,
		Body:   requestBody{Content: body},
	}
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal soap envelope: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// Fault is a SOAP 1.1 fault returned in place of a response body
type Fault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail string `xml:"detail"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("soap fault %s: %s", strings.TrimSpace(f.Code), strings.TrimSpace(f.String))
}

type responseEnvelope[T any] struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Body    struct {
		Fault   *Fault `xml:"http://schemas.xmlsoap.org/soap/envelope/ Fault"`
		Content *T     `xml:",any"`
	} `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
}

// Unmarshal decodes a SOAP response into T. A fault is returned as *Fault.
func Unmarshal[T any](data []byte) (*T, error) {
	var env responseEnvelope[T]
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode soap envelope: %w", err)
	}
	if env.Body.Fault != nil {
		return nil, env.Body.Fault
	}
	if env.Body.Content == nil {
		return nil, fmt.Errorf("soap body is empty")
	}
	return env.Body.Content, nil
}

// Response is a raw HTTP exchange result
type Response struct {
	StatusCode int
	Body       []byte
}

// Post sends payload to url with the given SOAPAction
func Post(ctx context.Context, client *http.Client, url, action string, payload []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", fmt.Sprintf("%q", action))

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}
