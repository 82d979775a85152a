package dian

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	icrypto "github.com/tintofe/einvoice-core/internal/infrastructure/crypto"
)

const (
	soapNS        = "http://schemas.xmlsoap.org/soap/envelope/"
	wsseNS        = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	wsuNS         = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	soapActionURI = "http://wcf.dian.colombia"

	connectTimeout = 30 * time.Second
	receiveTimeout = 60 * time.Second
)

// DefaultRetryBackoff es la secuencia de espera entre reintentos de
// errores de conexión y HTTP 5xx: 1s, 2s, 5s, 10s, 30s (hasta 5 reintentos tras el
// primer intento).
var DefaultRetryBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second}

// AsyncResponse es la respuesta de la operación SendBillAsync.
type AsyncResponse struct {
	Success      bool
	TrackID      string
	ErrorCode    string
	ErrorMessage string
}

// StatusZipResponse es la respuesta de la operación GetStatusZip.
type StatusZipResponse struct {
	TrackID       string
	StatusCode    string
	StatusMessage string
	ZipBase64     string
}

// SoapFaultError representa un fallo estructurado devuelto por la DIAN (p.ej. "FAD06"),
// que nunca se reintenta automáticamente.
type SoapFaultError struct {
	Code    string
	Message string
}

func (e *SoapFaultError) Error() string {
	return fmt.Sprintf("dian soap fault [%s]: %s", e.Code, e.Message)
}

// Client es el cliente WS-Security/SOAP contra los servicios de envío y consulta
// de la DIAN. El timeout de conexión es 30s y el de recepción completa 60s; los
// errores de conexión y HTTP 5xx se reintentan con backoff exponencial, nunca los
// HTTP 4xx ni los SOAP faults estructurados.
type Client struct {
	httpClient *http.Client
	backoff    []time.Duration
}

// NewClient construye el cliente con los timeouts y la secuencia de backoff de la DIAN.
func NewClient() *Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &Client{
		httpClient: &http.Client{
			Timeout: receiveTimeout,
			Transport: &http.Transport{
				DialContext: dialer.DialContext,
			},
		},
		backoff: DefaultRetryBackoff,
	}
}

type usernameToken struct {
	Username string `xml:"wsse:Username"`
	Password string `xml:"wsse:Password"`
	Nonce    string `xml:"wsse:Nonce"`
	Created  string `xml:"wsu:Created"`
}

type soapSecurityHeader struct {
	XMLName       xml.Name      `xml:"wsse:Security"`
	XmlnsWsse     string        `xml:"xmlns:wsse,attr"`
	XmlnsWsu      string        `xml:"xmlns:wsu,attr"`
	UsernameToken usernameToken `xml:"wsse:UsernameToken"`
}

type soapHeader struct {
	Security soapSecurityHeader `xml:"wsse:Security"`
}

type soapEnvelope struct {
	XMLName xml.Name    `xml:"soap:Envelope"`
	XmlnsS  string      `xml:"xmlns:soap,attr"`
	Header  soapHeader  `xml:"soap:Header"`
	Body    soapBody    `xml:"soap:Body"`
}

type soapBody struct {
	Content interface{}
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "soap:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

type sendBillAsyncBody struct {
	XMLName     xml.Name `xml:"SendBillAsync"`
	Xmlns       string   `xml:"xmlns,attr"`
	FileName    string   `xml:"fileName"`
	ContentFile string   `xml:"contentFile"`
}

// sendTestSetAsyncBody es el cuerpo de la operación de habilitación: mismo contrato de
// campos que SendBillAsync, pero contra el ambiente de pruebas de la DIAN. TestSetID
// se deja vacío: la DIAN asigna uno automáticamente al conjunto de pruebas vigente.
type sendTestSetAsyncBody struct {
	XMLName     xml.Name `xml:"SendTestSetAsync"`
	Xmlns       string   `xml:"xmlns,attr"`
	FileName    string   `xml:"fileName"`
	ContentFile string   `xml:"contentFile"`
	TestSetID   string   `xml:"testSetId"`
}

type getStatusZipBody struct {
	XMLName xml.Name `xml:"GetStatusZip"`
	Xmlns   string   `xml:"xmlns,attr"`
	TrackID string   `xml:"trackId"`
}

type soapResponseEnvelope struct {
	Body soapResponseBody `xml:"Body"`
}

type soapResponseBody struct {
	SendBillResponse    *sendBillAsyncResponse    `xml:"SendBillAsyncResponse"`
	SendTestSetResponse *sendTestSetAsyncResponse `xml:"SendTestSetAsyncResponse"`
	GetStatusZipResp    *getStatusZipResponse     `xml:"GetStatusZipResponse"`
	Fault               *soapFault                `xml:"Fault"`
}

type sendBillAsyncResponse struct {
	Result sendBillAsyncResult `xml:"SendBillAsyncResult"`
}

// sendTestSetAsyncResponse reusa la forma de sendBillAsyncResult: la DIAN expone el
// mismo contrato de resultado (IsValid/ErrorMessageList/StatusCode/ZipKey) para ambas
// operaciones, sólo cambia el nombre del elemento resultado.
type sendTestSetAsyncResponse struct {
	Result sendBillAsyncResult `xml:"SendTestSetAsyncResult"`
}

type sendBillAsyncResult struct {
	IsValid          bool     `xml:"IsValid"`
	ErrorMessageList []string `xml:"ErrorMessageList>string"`
	StatusCode       string   `xml:"StatusCode"`
	ZipKey           string   `xml:"ZipKey"`
}

type getStatusZipResponse struct {
	Result getStatusZipResult `xml:"GetStatusZipResult"`
}

type getStatusZipResult struct {
	StatusCode        string `xml:"StatusCode"`
	StatusDescription string `xml:"StatusDescription"`
	ZipBase64Bytes    string `xml:"ZipBase64Bytes"`
}

type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

func buildSecurityHeader(softwareID, softwarePIN string, now time.Time) (soapHeader, error) {
	nonceBytes, err := icrypto.SecureRandomBytes(16)
	if err != nil {
		return soapHeader{}, fmt.Errorf("dian soap: generar nonce: %w", err)
	}
	password := icrypto.SHA256Hex([]byte(softwarePIN + softwareID))
	return soapHeader{
		Security: soapSecurityHeader{
			XmlnsWsse: wsseNS,
			XmlnsWsu:  wsuNS,
			UsernameToken: usernameToken{
				Username: softwareID,
				Password: password,
				Nonce:    base64.StdEncoding.EncodeToString(nonceBytes),
				Created:  now.UTC().Format("2006-01-02T15:04:05.000Z"),
			},
		},
	}, nil
}

// SendBillAsync entrega el ZIP de la factura al servicio de recepción de producción
// de la DIAN. No reintenta si la DIAN devuelve un fault estructurado o si la respuesta
// exitosa carece de trackId.
func (c *Client) SendBillAsync(ctx context.Context, endpoint, softwareID, softwarePIN, filename, zipBase64 string) (*AsyncResponse, error) {
	header, err := buildSecurityHeader(softwareID, softwarePIN, time.Now())
	if err != nil {
		return nil, err
	}
	body := &sendBillAsyncBody{Xmlns: soapActionURI, FileName: filename, ContentFile: zipBase64}
	return c.sendAsync(ctx, endpoint, "SendBillAsync", header, body)
}

// SendTestSetAsync entrega el ZIP de la factura al servicio de habilitación de la DIAN.
// Mismo contrato de request/respuesta que SendBillAsync, pero bajo una operación propia
// del ambiente de pruebas; TestSetID se deja vacío para que la DIAN lo asigne.
func (c *Client) SendTestSetAsync(ctx context.Context, endpoint, softwareID, softwarePIN, filename, zipBase64 string) (*AsyncResponse, error) {
	header, err := buildSecurityHeader(softwareID, softwarePIN, time.Now())
	if err != nil {
		return nil, err
	}
	body := &sendTestSetAsyncBody{Xmlns: soapActionURI, FileName: filename, ContentFile: zipBase64}
	return c.sendAsync(ctx, endpoint, "SendTestSetAsync", header, body)
}

// sendAsync ejecuta el POST SOAP con reintentos y desempaqueta la respuesta común a
// SendBillAsync/SendTestSetAsync, que sólo difieren en el nombre de la operación y del
// elemento de respuesta.
func (c *Client) sendAsync(ctx context.Context, endpoint, operation string, header soapHeader, body interface{}) (*AsyncResponse, error) {
	raw, err := c.doWithRetry(ctx, endpoint, soapActionURI+"/"+operation, header, body)
	if err != nil {
		return nil, err
	}

	var envResp soapResponseEnvelope
	if err := xml.Unmarshal(raw, &envResp); err != nil {
		return nil, fmt.Errorf("dian soap: parsear respuesta %s: %w", operation, err)
	}
	if envResp.Body.Fault != nil {
		return nil, &SoapFaultError{Code: envResp.Body.Fault.FaultCode, Message: envResp.Body.Fault.FaultString}
	}

	var result sendBillAsyncResult
	switch operation {
	case "SendTestSetAsync":
		if envResp.Body.SendTestSetResponse == nil {
			return nil, fmt.Errorf("dian soap: respuesta %s vacía", operation)
		}
		result = envResp.Body.SendTestSetResponse.Result
	default:
		if envResp.Body.SendBillResponse == nil {
			return nil, fmt.Errorf("dian soap: respuesta %s vacía", operation)
		}
		result = envResp.Body.SendBillResponse.Result
	}
	if result.IsValid && result.ZipKey == "" {
		return nil, fmt.Errorf("dian soap: respuesta exitosa sin trackId")
	}
	return &AsyncResponse{
		Success:      result.IsValid,
		TrackID:      result.ZipKey,
		ErrorCode:    result.StatusCode,
		ErrorMessage: strings.Join(result.ErrorMessageList, "; "),
	}, nil
}

// GetStatusZip consulta el estado de un envío previamente entregado con SendBillAsync
// o SendTestSetAsync.
func (c *Client) GetStatusZip(ctx context.Context, endpoint, softwareID, softwarePIN, trackID string) (*StatusZipResponse, error) {
	header, err := buildSecurityHeader(softwareID, softwarePIN, time.Now())
	if err != nil {
		return nil, err
	}
	body := &getStatusZipBody{
		Xmlns:   soapActionURI,
		TrackID: trackID,
	}

	raw, err := c.doWithRetry(ctx, endpoint, soapActionURI+"/GetStatusZip", header, body)
	if err != nil {
		return nil, err
	}

	var envResp soapResponseEnvelope
	if err := xml.Unmarshal(raw, &envResp); err != nil {
		return nil, fmt.Errorf("dian soap: parsear respuesta GetStatusZip: %w", err)
	}
	if envResp.Body.Fault != nil {
		return nil, &SoapFaultError{Code: envResp.Body.Fault.FaultCode, Message: envResp.Body.Fault.FaultString}
	}
	if envResp.Body.GetStatusZipResp == nil {
		return nil, fmt.Errorf("dian soap: respuesta GetStatusZip vacía")
	}
	result := envResp.Body.GetStatusZipResp.Result
	return &StatusZipResponse{
		TrackID:       trackID,
		StatusCode:    result.StatusCode,
		StatusMessage: result.StatusDescription,
		ZipBase64:     result.ZipBase64Bytes,
	}, nil
}

// doWithRetry ejecuta la llamada SOAP con reintentos de backoff exponencial para
// errores de conexión y HTTP 5xx. Un SOAP fault o un HTTP 4xx se reporta de inmediato.
func (c *Client) doWithRetry(ctx context.Context, endpoint, soapAction string, header soapHeader, body interface{}) ([]byte, error) {
	envelope := soapEnvelope{XmlnsS: soapNS, Header: header, Body: soapBody{Content: body}}
	payload, err := xml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("dian soap: serializar envelope: %w", err)
	}

	var lastErr error
	attempts := len(c.backoff) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff[attempt-1]):
			}
		}

		raw, retryable, err := c.doOnce(ctx, endpoint, soapAction, payload)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("dian soap: agotados los reintentos: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, endpoint, soapAction string, payload []byte) (raw []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("dian soap: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", soapAction)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("dian soap: llamada HTTP fallida: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, true, fmt.Errorf("dian soap: leer respuesta: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		// Un SOAP fault viaja con HTTP 500: se devuelve el cuerpo sin reintentar para que
		// el llamador lo reporte como SoapFaultError.
		var probe soapResponseEnvelope
		if xml.Unmarshal(rawBody, &probe) == nil && probe.Body.Fault != nil {
			return rawBody, false, nil
		}
		return nil, true, fmt.Errorf("dian soap: HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, false, fmt.Errorf("dian soap: HTTP %d: %s", resp.StatusCode, string(rawBody))
	}
	return rawBody, false, nil
}
