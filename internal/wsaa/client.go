package wsaa

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"net/http"
	"time"

	"github.com/infofiscal/wsfe-harvester/internal/soap"
	"go.uber.org/zap"
)

// ServiceNS is the namespace of the WSAA LoginCms service
const ServiceNS = "http://wsaa.view.sua.dvadac.desein.afip.gov"

type loginCmsRequest struct {
	XMLName xml.Name `xml:"http://wsaa.view.sua.dvadac.desein.afip.gov loginCms"`
	In0     string   `xml:"in0"`
}

type loginCmsResponse struct {
	XMLName xml.Name `xml:"http://wsaa.view.sua.dvadac.desein.afip.gov loginCmsResponse"`
	Return  string   `xml:"loginCmsReturn"`
}

// Client calls the WSAA LoginCms endpoint
type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// NewClient creates a WSAA client. A nil httpClient gets a 45s timeout client.
func NewClient(endpoint string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 45 * time.Second}
	}
	return &Client{
		endpoint: endpoint,
		http:     httpClient,
		logger:   logger,
	}
}

// LoginCms submits the signed ticket and returns the nested
// loginTicketResponse document exactly as carried in loginCmsReturn
func (c *Client) LoginCms(ctx context.Context, cms []byte) ([]byte, error) {
	payload, err := soap.Marshal(loginCmsRequest{In0: base64.StdEncoding.EncodeToString(cms)})
	if err != nil {
		return nil, &AuthenticationError{Err: err}
	}

	c.logger.Debug("Calling WSAA loginCms", zap.String("endpoint", c.endpoint))

	resp, err := soap.Post(ctx, c.http, c.endpoint, "", payload)
	if err != nil {
		return nil, &AuthenticationError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		authErr := &AuthenticationError{StatusCode: resp.StatusCode}
		if _, ferr := soap.Unmarshal[loginCmsResponse](resp.Body); ferr != nil {
			var fault *soap.Fault
			if errors.As(ferr, &fault) {
				authErr.Fault = fault.Error()
			}
		}
		c.logger.Error("WSAA returned non-success status",
			zap.Int("status", resp.StatusCode),
			zap.String("fault", authErr.Fault))
		return nil, authErr
	}

	out, err := soap.Unmarshal[loginCmsResponse](resp.Body)
	if err != nil {
		var fault *soap.Fault
		if errors.As(err, &fault) {
			return nil, &AuthenticationError{StatusCode: resp.StatusCode, Fault: fault.Error()}
		}
		return nil, &AuthenticationError{StatusCode: resp.StatusCode, Err: err}
	}
	if out.Return == "" {
		return nil, &AuthenticationError{StatusCode: resp.StatusCode, Err: errors.New("loginCmsReturn is empty")}
	}
	return []byte(out.Return), nil
}
