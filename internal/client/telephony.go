// Package client, telefon sağlayıcısının REST API'si için istemciyi içerir.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var ErrMediaRejected = errors.New("sağlayıcı medya ekini reddetti")

// retryUnit, testlerde kısaltılabilen bekleme birimidir.
var retryUnit = time.Second

const requestTimeout = 15 * time.Second

// Sağlayıcının medya indirme/format hatalarını bildirdiği kodlar.
var mediaErrorCodes = map[int]bool{
	21620: true,
	21623: true,
	63019: true,
	63021: true,
}

// APIError, sağlayıcının 4xx hata gövdesidir.
type APIError struct {
	StatusCode int    `json:"status"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telefon API hatası (http %d, kod %d): %s", e.StatusCode, e.Code, e.Message)
}

// Is, medya indirme/format hatalarını ErrMediaRejected olarak sınıflandırır.
func (e *APIError) Is(target error) bool {
	return target == ErrMediaRejected && e.MediaRejected()
}

func (e *APIError) MediaRejected() bool {
	return mediaErrorCodes[e.Code] || e.StatusCode == http.StatusUnsupportedMediaType
}

type messageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// TelephonyClient, SMS/WhatsApp mesajları ve canlı çağrı yönlendirmesi için sağlayıcı REST istemcisidir.
type TelephonyClient struct {
	httpClient *http.Client
	baseURL    string
	accountSID string
	authToken  string
	log        zerolog.Logger
}

func NewTelephonyClient(rawBaseURL, accountSID, authToken string, log zerolog.Logger) *TelephonyClient {
	finalBaseURL := strings.TrimRight(rawBaseURL, "/")
	if !strings.HasPrefix(finalBaseURL, "http://") && !strings.HasPrefix(finalBaseURL, "https://") {
		finalBaseURL = "https://" + finalBaseURL
	}
	return &TelephonyClient{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    finalBaseURL,
		accountSID: accountSID,
		authToken:  authToken,
		log:        log.With().Str("client", "telephony").Logger(),
	}
}

func (c *TelephonyClient) accountURL(path string) string {
	return fmt.Sprintf("%s/Accounts/%s/%s", c.baseURL, url.PathEscape(c.accountSID), path)
}

// SendSMS, mesajı gönderir ve sağlayıcı mesaj kimliğini döndürür.
func (c *TelephonyClient) SendSMS(ctx context.Context, from, to, body string) (string, error) {
	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)
	return c.sendMessage(ctx, form)
}

// SendWhatsApp, mediaURL boş değilse kaydı ek olarak gönderir. Sağlayıcı eki reddederse ErrMediaRejected döner.
func (c *TelephonyClient) SendWhatsApp(ctx context.Context, from, to, body, mediaURL string) (string, error) {
	form := url.Values{}
	form.Set("From", whatsappAddress(from))
	form.Set("To", whatsappAddress(to))
	form.Set("Body", body)
	if mediaURL != "" {
		form.Set("MediaUrl", mediaURL)
	}
	sid, err := c.sendMessage(ctx, form)
	if err != nil && mediaURL != "" {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.MediaRejected() {
			return "", fmt.Errorf("%w: %v", ErrMediaRejected, err)
		}
	}
	return sid, err
}

func whatsappAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}

func (c *TelephonyClient) sendMessage(ctx context.Context, form url.Values) (string, error) {
	var out messageResponse
	if err := c.postForm(ctx, c.accountURL("Messages.json"), form, &out); err != nil {
		return "", err
	}
	c.log.Debug().Str("message_sid", out.SID).Str("status", out.Status).Msg("Mesaj sağlayıcıya iletildi.")
	return out.SID, nil
}

// RedirectCall, canlı çağrının yeni çağrı talimatlarını verilen adresten almasını sağlar.
func (c *TelephonyClient) RedirectCall(ctx context.Context, externalCallID, targetURL string) error {
	form := url.Values{}
	form.Set("Url", targetURL)
	form.Set("Method", http.MethodPost)
	path := fmt.Sprintf("Calls/%s.json", url.PathEscape(externalCallID))
	if err := c.postForm(ctx, c.accountURL(path), form, nil); err != nil {
		return fmt.Errorf("çağrı yönlendirilemedi: %w", err)
	}
	c.log.Info().Str("external_call_id", externalCallID).Str("url", targetURL).Msg("📞 Canlı çağrı yönlendirildi.")
	return nil
}

func (c *TelephonyClient) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	encoded := form.Encode()
	resp, err := doWithRetry(ctx, c.httpClient, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.accountSID, c.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, c.log)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		apiErr.StatusCode = resp.StatusCode
		c.log.Error().Int("status_code", resp.StatusCode).Int("code", apiErr.Code).Msg("Telefon API'si hata döndürdü.")
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("telefon API yanıtı çözümlenemedi: %w", err)
	}
	return nil
}
