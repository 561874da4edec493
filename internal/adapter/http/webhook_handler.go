package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jnsystems/sms-gateway/internal/app"
	"github.com/jnsystems/sms-gateway/internal/domain"
	"github.com/jnsystems/sms-gateway/internal/port"
)

// WebhookHandler terminates vendor delivery callbacks. Twilio signs the full
// public URL plus sorted form params; MessageBird signs a timestamp plus the
// raw body. Each endpoint assembles the WebhookRequest its vendor's scheme
// needs and hands off to the service.
type WebhookHandler struct {
	service *app.WebhookService
	baseURL string
}

func NewWebhookHandler(service *app.WebhookService, baseURL string) *WebhookHandler {
	return &WebhookHandler{service: service, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (h *WebhookHandler) Twilio(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid form body"})
		return
	}

	params := make(map[string]string, len(c.Request.PostForm))
	for key, values := range c.Request.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	req := port.WebhookRequest{
		URL:       h.callbackURL(c),
		Signature: c.GetHeader("X-Twilio-Signature"),
		Params:    params,
	}

	h.process(c, "twilio", req)
}

func (h *WebhookHandler) MessageBird(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unreadable body"})
		return
	}

	req := port.WebhookRequest{
		URL:       h.callbackURL(c),
		Signature: c.GetHeader("MessageBird-Signature"),
		Timestamp: c.GetHeader("MessageBird-Request-Timestamp"),
		Body:      body,
	}

	h.process(c, "messagebird", req)
}

func (h *WebhookHandler) process(c *gin.Context, providerName string, req port.WebhookRequest) {
	err := h.service.Process(c.Request.Context(), providerName, req)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, domain.ErrInvalidSignature):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrUnknownProvider):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// callbackURL rebuilds the URL the vendor signed. Behind a proxy the request
// host is not the public one, so a configured base URL takes precedence.
func (h *WebhookHandler) callbackURL(c *gin.Context) string {
	if h.baseURL != "" {
		return h.baseURL + c.Request.URL.Path
	}
	scheme := "https"
	if c.Request.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}
