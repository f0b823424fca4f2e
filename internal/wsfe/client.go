// Package wsfe is a read-only client for the WSFEv1 electronic invoicing
// service. Every authenticated call fetches a fresh-enough credential first.
package wsfe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/infofiscal/wsfe-harvester/internal/models"
	"github.com/infofiscal/wsfe-harvester/internal/soap"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Operation names, also used as SOAPAction suffixes and metric labels
const (
	OpSalePoints     = "FEParamGetPtosVenta"
	OpVoucherTypes   = "FEParamGetTiposCbte"
	OpLastAuthorized = "FECompUltimoAutorizado"
	OpVoucher        = "FECompConsultar"
	OpDummy          = "FEDummy"
)

// CredentialProvider returns a credential valid for the next call
type CredentialProvider interface {
	Credential(ctx context.Context) (models.Credential, error)
}

// DummyStatus is the FEDummy infrastructure report
type DummyStatus struct {
	AppServer  string `json:"app_server"`
	DbServer   string `json:"db_server"`
	AuthServer string `json:"auth_server"`
}

// OK reports whether every component answered "OK"
func (s DummyStatus) OK() bool {
	return strings.EqualFold(s.AppServer, "OK") &&
		strings.EqualFold(s.DbServer, "OK") &&
		strings.EqualFold(s.AuthServer, "OK")
}

// Client is the typed facade over WSFEv1
type Client struct {
	endpoint    string
	cuit        int64
	credentials CredentialProvider
	http        *http.Client
	retry       *RetryStrategy
	logger      *zap.Logger
}

// NewClient creates a WSFEv1 client. A nil httpClient gets a 30s timeout.
func NewClient(endpoint string, cuit int64, credentials CredentialProvider, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		endpoint:    endpoint,
		cuit:        cuit,
		credentials: credentials,
		http:        httpClient,
		retry:       NewRetryStrategy(),
		logger:      logger,
	}
}

// SetRetryStrategy replaces the transport retry policy
func (c *Client) SetRetryStrategy(strategy *RetryStrategy) {
	c.retry = strategy
}

// SalePoints lists the taxpayer's sale points. "No results" yields an empty list.
func (c *Client) SalePoints(ctx context.Context) ([]models.SalePoint, error) {
	auth, err := c.auth(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := call[salePointsResponse](ctx, c, OpSalePoints, salePointsRequest{Auth: auth})
	if err != nil {
		return nil, err
	}
	if err := checkErrors(OpSalePoints, resp.Result.Errors); err != nil {
		if IsNotFound(err) {
			return []models.SalePoint{}, nil
		}
		return nil, err
	}

	points := make([]models.SalePoint, 0, len(resp.Result.ResultGet.PtoVenta))
	for _, pv := range resp.Result.ResultGet.PtoVenta {
		sp := models.SalePoint{
			Number:       pv.Nro,
			EmissionType: strings.TrimSpace(pv.EmisionTipo),
			Blocked:      strings.EqualFold(strings.TrimSpace(pv.Bloqueado), "S"),
		}
		if d, err := models.ParseAFIPDate(pv.FchBaja); err == nil {
			sp.DecommissionedAt = d
		} else {
			c.logger.Warn("Ignoring malformed sale point decommission date",
				zap.Int("sale_point", pv.Nro), zap.String("value", pv.FchBaja))
		}
		points = append(points, sp)
	}
	return points, nil
}

// VoucherTypes lists the voucher types known to the service
func (c *Client) VoucherTypes(ctx context.Context) ([]models.VoucherType, error) {
	auth, err := c.auth(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := call[voucherTypesResponse](ctx, c, OpVoucherTypes, voucherTypesRequest{Auth: auth})
	if err != nil {
		return nil, err
	}
	if err := checkErrors(OpVoucherTypes, resp.Result.Errors); err != nil {
		if IsNotFound(err) {
			return []models.VoucherType{}, nil
		}
		return nil, err
	}

	types := make([]models.VoucherType, 0, len(resp.Result.ResultGet.CbteTipo))
	for _, ct := range resp.Result.ResultGet.CbteTipo {
		vt := models.VoucherType{ID: ct.ID, Description: strings.TrimSpace(ct.Desc)}
		vt.ValidFrom, _ = models.ParseAFIPDate(ct.FchDesde)
		vt.ValidTo, _ = models.ParseAFIPDate(ct.FchHasta)
		types = append(types, vt)
	}
	return types, nil
}

// LastAuthorized returns the highest authorized number for the branch, 0 if none
func (c *Client) LastAuthorized(ctx context.Context, salePoint, voucherType int) (int64, error) {
	auth, err := c.auth(ctx)
	if err != nil {
		return 0, err
	}
	req := lastAuthorizedRequest{Auth: auth, PtoVta: salePoint, CbteTipo: voucherType}
	resp, err := call[lastAuthorizedResponse](ctx, c, OpLastAuthorized, req)
	if err != nil {
		return 0, err
	}
	if err := checkErrors(OpLastAuthorized, resp.Result.Errors); err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	if resp.Result.CbteNro < 0 {
		return 0, nil
	}
	return resp.Result.CbteNro, nil
}

// Voucher fetches one voucher. A confirmed miss returns nil, nil.
func (c *Client) Voucher(ctx context.Context, salePoint, voucherType int, number int64) (*models.VoucherRecord, error) {
	auth, err := c.auth(ctx)
	if err != nil {
		return nil, err
	}
	req := voucherRequest{Auth: auth}
	req.Req.PtoVta = salePoint
	req.Req.CbteTipo = voucherType
	req.Req.CbteNro = number

	resp, err := call[voucherResponse](ctx, c, OpVoucher, req)
	if err != nil {
		return nil, err
	}
	if err := checkErrors(OpVoucher, resp.Result.Errors); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if resp.Result.ResultGet == nil || len(strings.TrimSpace(string(resp.Result.ResultGet.Raw))) == 0 {
		return nil, nil
	}
	return c.toRecord(salePoint, voucherType, number, resp.Result.ResultGet), nil
}

// Dummy calls FEDummy, which needs no credential
func (c *Client) Dummy(ctx context.Context) (DummyStatus, error) {
	resp, err := call[dummyResponse](ctx, c, OpDummy, dummyRequest{})
	if err != nil {
		return DummyStatus{}, err
	}
	return DummyStatus{
		AppServer:  resp.Result.AppServer,
		DbServer:   resp.Result.DbServer,
		AuthServer: resp.Result.AuthServer,
	}, nil
}

func (c *Client) auth(ctx context.Context) (authXML, error) {
	cred, err := c.credentials.Credential(ctx)
	if err != nil {
		return authXML{}, err
	}
	return authXML{Token: cred.Token, Sign: cred.Sign, Cuit: c.cuit}, nil
}

func (c *Client) toRecord(salePoint, voucherType int, number int64, r *voucherResultXML) *models.VoucherRecord {
	rec := &models.VoucherRecord{
		SalePoint:         salePoint,
		VoucherType:       voucherType,
		Number:            number,
		Currency:          strings.TrimSpace(r.MonID),
		AuthorizationCode: strings.TrimSpace(r.CodAutorizacion),
		RawPayload:        append([]byte("<ResultGet>"), append(r.Raw, []byte("</ResultGet>")...)...),
	}

	if d, err := models.ParseAFIPDate(r.CbteFch); err == nil {
		rec.IssueDate = d
	} else {
		c.logger.Debug("Unparseable issue date", zap.String("value", r.CbteFch), zap.Error(err))
	}
	rec.AuthorizationDueDate, _ = models.ParseAFIPDate(r.FchVto)

	if v, err := strconv.Atoi(strings.TrimSpace(r.DocTipo)); err == nil {
		rec.DocType = &v
	}
	if v, err := strconv.ParseInt(strings.TrimSpace(r.DocNro), 10, 64); err == nil {
		rec.DocNumber = &v
	}

	rec.TotalAmount = c.amount("ImpTotal", r.ImpTotal)
	rec.NetAmount = c.amount("ImpNeto", r.ImpNeto)
	rec.ExemptAmount = c.amount("ImpOpEx", r.ImpOpEx)
	rec.VatAmount = c.amount("ImpIVA", r.ImpIVA)
	rec.CurrencyRate = c.amount("MonCotiz", r.MonCotiz)
	return rec
}

func (c *Client) amount(field, s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		c.logger.Warn("Ignoring malformed amount", zap.String("field", field), zap.String("value", s))
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func checkErrors(op string, errs errorsXML) error {
	if len(errs.Err) == 0 {
		return nil
	}
	return &ServiceError{Op: op, Errors: errs.messages()}
}

// call performs one operation with transport retries and decodes the reply
func call[T any](ctx context.Context, c *Client, op string, body any) (*T, error) {
	payload, err := soap.Marshal(body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	attempts := c.retry.attempts()
	var lastErr *TransportError
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.logger.Warn("Retrying WSFE call",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			if err := c.retry.wait(ctx, attempt-1); err != nil {
				return nil, err
			}
		}

		out, terr := c.roundTrip(ctx, op, payload)
		if terr == nil {
			return decodeOK[T](op, out)
		}
		lastErr = terr
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !terr.Retryable() {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) roundTrip(ctx context.Context, op string, payload []byte) ([]byte, *TransportError) {
	c.logger.Debug("Calling WSFE", zap.String("operation", op))

	resp, err := soap.Post(ctx, c.http, c.endpoint, ServiceNS+op, payload)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err, retryable: c.retry.IsTemporaryError(err)}
	}
	if resp.StatusCode != http.StatusOK {
		terr := &TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			retryable:  c.retry.IsRetryableStatusCode(resp.StatusCode),
		}
		var fault *soap.Fault
		if _, ferr := soap.Unmarshal[struct{}](resp.Body); errors.As(ferr, &fault) {
			terr.Fault = fault.Error()
		}
		return nil, terr
	}
	return resp.Body, nil
}

func decodeOK[T any](op string, body []byte) (*T, error) {
	out, err := soap.Unmarshal[T](body)
	if err != nil {
		var fault *soap.Fault
		if errors.As(err, &fault) {
			return nil, &TransportError{Op: op, StatusCode: http.StatusOK, Fault: fault.Error()}
		}
		return nil, &TransportError{Op: op, StatusCode: http.StatusOK, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return out, nil
}
