package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/soothe-app/soothe/domain/repositories"
	"github.com/soothe-app/soothe/internal/auth"
	"github.com/soothe-app/soothe/internal/session"
	"github.com/soothe-app/soothe/internal/wire"
	"github.com/soothe-app/soothe/internal/ws"
)

// streamPollInterval paces the server-sent-events drain loop.
const streamPollInterval = 100 * time.Millisecond

// InitRoutes initializes all API routes.
func InitRoutes(e *echo.Echo, registry *session.Registry, gatherer prometheus.Gatherer, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "soothe-live",
		})
	})

	e.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API v1 routes
	v1 := e.Group("/api/v1", requireBearer(logger))

	v1.POST("/live", func(c echo.Context) error {
		return handleLive(c, registry, logger)
	})
	v1.POST("/live/stream", func(c echo.Context) error {
		return handleLiveStream(c, registry, logger)
	})

	// WebSocket push alternative to short polling
	e.GET("/ws/live", func(c echo.Context) error {
		return websocketWithAuth(registry, c, logger)
	})
}

// requireBearer rejects requests without a valid access token.
func requireBearer(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := claimsFromRequest(c)
			if err != nil {
				logger.Warn("Request rejected: invalid credentials", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "A valid bearer token is required",
				})
			}
			c.Set("claims", claims)
			return next(c)
		}
	}
}

func claimsFromRequest(c echo.Context) (*auth.Claims, error) {
	header := c.Request().Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return nil, auth.ErrInvalidToken
	}
	return auth.ValidateToken(token)
}

// handleLive dispatches one proxied live-session action.
func handleLive(c echo.Context, registry *session.Registry, logger *zap.Logger) error {
	var req LiveRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind live request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, LiveResponse{
			Error: "invalid request format",
		})
	}

	switch req.Action {
	case ActionCreateSession:
		return createSession(c, registry, req, logger)
	case ActionSendInput:
		return sendInput(c, registry, req, logger)
	case ActionGetMessages:
		return getMessages(c, registry, req)
	case ActionCloseSession:
		return closeSession(c, registry, req, logger)
	default:
		return c.JSON(http.StatusBadRequest, LiveResponse{
			Error: "unknown action: " + req.Action,
		})
	}
}

func createSession(c echo.Context, registry *session.Registry, req LiveRequest, logger *zap.Logger) error {
	config := repositories.SessionConfig{}
	if req.Config != nil {
		config = repositories.SessionConfig{
			Model:                    req.Config.Model,
			ResponseModalities:       req.Config.ResponseModalities,
			SystemInstruction:        req.Config.SystemInstruction,
			InputAudioTranscription:  req.Config.InputAudioTranscription,
			OutputAudioTranscription: req.Config.OutputAudioTranscription,
		}
	}

	id, err := registry.Create(c.Request().Context(), config)
	if err != nil {
		logger.Error("Failed to open upstream session", zap.Error(err))
		return c.JSON(http.StatusBadGateway, LiveResponse{
			Error: "failed to open session: " + err.Error(),
		})
	}

	logger.Info("Session created",
		zap.String("session_id", id),
		zap.String("model", config.Model))

	return c.JSON(http.StatusOK, LiveResponse{Success: true, SessionID: id})
}

func sendInput(c echo.Context, registry *session.Registry, req LiveRequest, logger *zap.Logger) error {
	if req.Input == nil || (req.Input.Image == nil && req.Input.Audio == nil) {
		return c.JSON(http.StatusBadRequest, LiveResponse{
			Error: "send_input requires an image or audio payload",
		})
	}

	ctx := c.Request().Context()
	var err error
	switch {
	case req.Input.Image != nil:
		err = registry.SendFrame(ctx, req.SessionID, req.Input.Image.Data)
	case req.Input.Audio != nil:
		err = registry.SendAudio(ctx, req.SessionID, req.Input.Audio.Data)
	}
	if err != nil {
		return liveError(c, err, logger)
	}

	return c.JSON(http.StatusOK, LiveResponse{Success: true, SessionID: req.SessionID})
}

func getMessages(c echo.Context, registry *session.Registry, req LiveRequest) error {
	msgs, closed, err := registry.Drain(req.SessionID)
	if err != nil {
		return liveError(c, err, nil)
	}

	encoded := make([]wire.Message, 0, len(msgs))
	for _, msg := range msgs {
		encoded = append(encoded, wire.Encode(msg))
	}

	return c.JSON(http.StatusOK, LiveResponse{
		Success:       true,
		SessionID:     req.SessionID,
		Messages:      encoded,
		SessionClosed: closed,
	})
}

func closeSession(c echo.Context, registry *session.Registry, req LiveRequest, logger *zap.Logger) error {
	if err := registry.Close(req.SessionID); err != nil {
		return liveError(c, err, logger)
	}

	logger.Info("Session closed", zap.String("session_id", req.SessionID))
	return c.JSON(http.StatusOK, LiveResponse{Success: true, SessionID: req.SessionID})
}

func liveError(c echo.Context, err error, logger *zap.Logger) error {
	status := http.StatusInternalServerError
	if err == session.ErrSessionNotFound {
		status = http.StatusNotFound
	} else if logger != nil {
		logger.Error("Live action failed", zap.Error(err))
	}
	return c.JSON(status, LiveResponse{Error: err.Error()})
}

// handleLiveStream drains a session as a server-sent-events stream.
// Each buffered message is framed as `data: <json>\n\n`; the stream is
// terminated with a literal `data: [DONE]` frame once the session closes.
func handleLiveStream(c echo.Context, registry *session.Registry, logger *zap.Logger) error {
	var req LiveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, LiveResponse{Error: "invalid request format"})
	}

	if !registry.Exists(req.SessionID) {
		return liveError(c, session.ErrSessionNotFound, logger)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	writer := newEventWriter(resp)
	ctx := c.Request().Context()
	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			msgs, closed, err := registry.Drain(req.SessionID)
			if err != nil {
				// Session was evicted underneath the stream.
				return writer.done()
			}
			for _, msg := range msgs {
				if err := writer.send(wire.Encode(msg)); err != nil {
					logger.Warn("Stream write failed", zap.Error(err))
					return nil
				}
			}
			if closed {
				return writer.done()
			}
		}
	}
}

// websocketWithAuth upgrades authenticated clients to the push surface.
func websocketWithAuth(registry *session.Registry, c echo.Context, logger *zap.Logger) error {
	token := c.QueryParam("token")
	if token == "" {
		if header := c.Request().Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}
	if token == "" {
		logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "An access token is required",
		})
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired access token",
		})
	}

	logger.Info("WebSocket connection authenticated",
		zap.String("user_id", claims.UserID),
		zap.String("role", claims.Role))

	return ws.Handle(registry, c, logger)
}
