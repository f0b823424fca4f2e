package wsfe

import "encoding/xml"

// ServiceNS is the WSFEv1 target namespace
const ServiceNS = "http://ar.gov.afip.dif.FEV1/"

type authXML struct {
	Token string `xml:"Token"`
	Sign  string `xml:"Sign"`
	Cuit  int64  `xml:"Cuit"`
}

type errXML struct {
	Code int    `xml:"Code"`
	Msg  string `xml:"Msg"`
}

type errorsXML struct {
	Err []errXML `xml:"Err"`
}

func (e errorsXML) messages() []ServiceMessage {
	out := make([]ServiceMessage, 0, len(e.Err))
	for _, m := range e.Err {
		out = append(out, ServiceMessage{Code: m.Code, Msg: m.Msg})
	}
	return out
}

// FEParamGetPtosVenta

type salePointsRequest struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FEParamGetPtosVenta"`
	Auth    authXML  `xml:"Auth"`
}

type salePointsResponse struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FEParamGetPtosVentaResponse"`
	Result  struct {
		ResultGet struct {
			PtoVenta []struct {
				Nro         int    `xml:"Nro"`
				EmisionTipo string `xml:"EmisionTipo"`
				Bloqueado   string `xml:"Bloqueado"`
				FchBaja     string `xml:"FchBaja"`
			} `xml:"PtoVenta"`
		} `xml:"ResultGet"`
		Errors errorsXML `xml:"Errors"`
	} `xml:"FEParamGetPtosVentaResult"`
}

// FEParamGetTiposCbte

type voucherTypesRequest struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FEParamGetTiposCbte"`
	Auth    authXML  `xml:"Auth"`
}

type voucherTypesResponse struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FEParamGetTiposCbteResponse"`
	Result  struct {
		ResultGet struct {
			CbteTipo []struct {
				ID       int    `xml:"Id"`
				Desc     string `xml:"Desc"`
				FchDesde string `xml:"FchDesde"`
				FchHasta string `xml:"FchHasta"`
			} `xml:"CbteTipo"`
		} `xml:"ResultGet"`
		Errors errorsXML `xml:"Errors"`
	} `xml:"FEParamGetTiposCbteResult"`
}

// FECompUltimoAutorizado

type lastAuthorizedRequest struct {
	XMLName  xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FECompUltimoAutorizado"`
	Auth     authXML  `xml:"Auth"`
	PtoVta   int      `xml:"PtoVta"`
	CbteTipo int      `xml:"CbteTipo"`
}

type lastAuthorizedResponse struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FECompUltimoAutorizadoResponse"`
	Result  struct {
		PtoVta   int       `xml:"PtoVta"`
		CbteTipo int       `xml:"CbteTipo"`
		CbteNro  int64     `xml:"CbteNro"`
		Errors   errorsXML `xml:"Errors"`
	} `xml:"FECompUltimoAutorizadoResult"`
}

// FECompConsultar

type voucherRequest struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FECompConsultar"`
	Auth    authXML  `xml:"Auth"`
	Req     struct {
		CbteTipo int   `xml:"CbteTipo"`
		CbteNro  int64 `xml:"CbteNro"`
		PtoVta   int   `xml:"PtoVta"`
	} `xml:"FeCompConsReq"`
}

type voucherResultXML struct {
	Raw             []byte `xml:",innerxml"`
	Concepto        string `xml:"Concepto"`
	DocTipo         string `xml:"DocTipo"`
	DocNro          string `xml:"DocNro"`
	CbteDesde       string `xml:"CbteDesde"`
	CbteHasta       string `xml:"CbteHasta"`
	CbteFch         string `xml:"CbteFch"`
	ImpTotal        string `xml:"ImpTotal"`
	ImpTotConc      string `xml:"ImpTotConc"`
	ImpNeto         string `xml:"ImpNeto"`
	ImpOpEx         string `xml:"ImpOpEx"`
	ImpTrib         string `xml:"ImpTrib"`
	ImpIVA          string `xml:"ImpIVA"`
	MonID           string `xml:"MonId"`
	MonCotiz        string `xml:"MonCotiz"`
	Resultado       string `xml:"Resultado"`
	CodAutorizacion string `xml:"CodAutorizacion"`
	EmisionTipo     string `xml:"EmisionTipo"`
	FchVto          string `xml:"FchVto"`
	FchProceso      string `xml:"FchProceso"`
	PtoVta          string `xml:"PtoVta"`
	CbteTipo        string `xml:"CbteTipo"`
}

type voucherResponse struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FECompConsultarResponse"`
	Result  struct {
		ResultGet *voucherResultXML `xml:"ResultGet"`
		Errors    errorsXML         `xml:"Errors"`
	} `xml:"FECompConsultarResult"`
}

// FEDummy

type dummyRequest struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FEDummy"`
}

type dummyResponse struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FEDummyResponse"`
	Result  struct {
		AppServer  string `xml:"AppServer"`
		DbServer   string `xml:"DbServer"`
		AuthServer string `xml:"AuthServer"`
	} `xml:"FEDummyResult"`
}
