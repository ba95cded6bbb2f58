// Package server exposes the sandbox registration service over HTTP.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/bark-labs/bark-push-sdk/internal/config"
	"github.com/bark-labs/bark-push-sdk/internal/logging"
	"github.com/bark-labs/bark-push-sdk/internal/model"
	"github.com/bark-labs/bark-push-sdk/internal/registrar"
	"github.com/bark-labs/bark-push-sdk/internal/service"
	"github.com/gofiber/fiber/v2"
)

const localClientID = "clientId"

// Server wires HTTP handlers.
type Server struct {
	app     *fiber.App
	regSvc  *service.RegistrationService
	authSvc *service.AuthService
	cfg     *config.Config
	logger  *slog.Logger
}

// New builds a server instance.
func New(cfg *config.Config, regSvc *service.RegistrationService, authSvc *service.AuthService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	app := fiber.New(fiber.Config{
		IdleTimeout:           cfg.Server.ReadTimeout,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		AppName:               "bark-push-sandbox",
		DisableStartupMessage: true,
	})
	s := &Server{
		app:     app,
		regSvc:  regSvc,
		authSvc: authSvc,
		cfg:     cfg,
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens and serves HTTP traffic.
func (s *Server) Start() error {
	s.logger.Info("sandbox registration server listening", "addr", s.cfg.Server.Addr)
	return s.app.Listen(s.cfg.Server.Addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/ping", s.handlePing)

	s.app.Post("/auth/token", s.handleToken)

	regs := s.app.Group("/push/deviceRegistrations", s.optionalClient)
	regs.Post("/", s.handleRegister)
	regs.Put("/:id", s.handleUpdate)
	regs.Delete("/:id", s.handleDelete)
	regs.Get("/:id", s.requireAuth, s.handleGet)

	s.app.Get("/status/endpoint", s.requireAuth, s.handleStatusEndpoint)

	admin := s.app.Group("/admin", s.requireAuth)
	admin.Get("/registrations", s.handleAdminList)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{"status": "ok"}
	if _, _, err := s.regSvc.Counts(c.UserContext()); err != nil {
		resp["store"] = fiber.Map{"status": "degraded", "error": err.Error()}
	} else {
		resp["store"] = fiber.Map{"status": "up"}
	}
	return c.JSON(resp)
}

func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": "pong"})
}

func (s *Server) handleToken(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		ClientID string `json:"clientId"`
	}
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, model.BadRequest("malformed request body"))
	}
	token, err := s.authSvc.Authenticate(req.Username, req.Password, req.ClientID)
	if err != nil {
		return s.fail(c, toErrorInfo(err))
	}
	return c.JSON(fiber.Map{"token": token, "clientId": req.ClientID})
}

func (s *Server) handleRegister(c *fiber.Ctx) error {
	var req model.DeviceDetails
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, model.BadRequest("malformed request body"))
	}
	resp, err := s.regSvc.Register(c.UserContext(), callerClientID(c), req)
	if err != nil {
		return s.fail(c, toErrorInfo(err))
	}
	s.logger.Info("device registered", "deviceId", resp.ID, "clientId", resp.ClientID)
	return c.JSON(resp)
}

func (s *Server) handleUpdate(c *fiber.Ctx) error {
	var req model.DeviceDetails
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, model.BadRequest("malformed request body"))
	}
	creds, err := deviceCredentials(c)
	if err != nil {
		return s.fail(c, toErrorInfo(err))
	}
	resp, err := s.regSvc.Update(c.UserContext(), callerClientID(c), c.Params("id"), creds, req)
	if err != nil {
		return s.fail(c, toErrorInfo(err))
	}
	s.logger.Info("device registration updated", "deviceId", resp.ID, "clientId", resp.ClientID)
	return c.JSON(resp)
}

func (s *Server) handleDelete(c *fiber.Ctx) error {
	creds, err := deviceCredentials(c)
	if err != nil {
		return s.fail(c, toErrorInfo(err))
	}
	if err := s.regSvc.Delete(c.UserContext(), c.Params("id"), creds); err != nil {
		return s.fail(c, toErrorInfo(err))
	}
	s.logger.Info("device deregistered", "deviceId", c.Params("id"))
	return c.SendStatus(http.StatusNoContent)
}

func (s *Server) handleGet(c *fiber.Ctx) error {
	reg, err := s.regSvc.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, toErrorInfo(err))
	}
	return c.JSON(model.RegistrationView{
		DeviceID:    reg.DeviceID,
		ClientID:    reg.ClientID,
		Platform:    reg.Platform,
		FormFactor:  reg.FormFactor,
		DeviceToken: reg.DeviceToken,
		Status:      reg.Status,
	})
}

func (s *Server) handleAdminList(c *fiber.Ctx) error {
	pageNum, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("pageSize", "10"))
	page, err := s.regSvc.Page(c.UserContext(), pageNum, pageSize)
	if err != nil {
		return s.fail(c, toErrorInfo(err))
	}
	return c.JSON(page)
}

func (s *Server) handleStatusEndpoint(c *fiber.Ctx) error {
	active, all, err := s.regSvc.Counts(c.UserContext())
	if err != nil {
		return c.JSON(model.StatusRes{Status: "degraded"})
	}
	return c.JSON(model.StatusRes{
		Status:          "online",
		ActiveDeviceNum: active,
		AllDeviceNum:    all,
	})
}

func (s *Server) fail(c *fiber.Ctx, info *model.ErrorInfo) error {
	if info.StatusCode >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", info.Message)
	}
	return c.Status(info.StatusCode).JSON(model.ErrorResponse{Error: info})
}

// optionalClient records the clientId of a bearer client token when present.
func (s *Server) optionalClient(c *fiber.Ctx) error {
	token := extractBearerToken(c.Get(fiber.HeaderAuthorization))
	if token == "" {
		return c.Next()
	}
	claims, err := s.authSvc.Validate(token)
	if err != nil {
		return s.fail(c, model.NewError(http.StatusUnauthorized, model.CodeInvalidCredential, "invalid client token"))
	}
	c.Locals(localClientID, claims.ClientID)
	return c.Next()
}

func (s *Server) requireAuth(c *fiber.Ctx) error {
	token := extractBearerToken(c.Get(fiber.HeaderAuthorization))
	if token == "" {
		return s.fail(c, model.NewError(http.StatusUnauthorized, model.CodeInvalidCredential, "client token required"))
	}
	claims, err := s.authSvc.Validate(token)
	if err != nil {
		return s.fail(c, model.NewError(http.StatusUnauthorized, model.CodeInvalidCredential, "invalid client token"))
	}
	c.Locals(localClientID, claims.ClientID)
	return c.Next()
}

func callerClientID(c *fiber.Ctx) string {
	id, _ := c.Locals(localClientID).(string)
	return id
}

func deviceCredentials(c *fiber.Ctx) (service.DeviceCredentials, error) {
	creds := service.DeviceCredentials{Secret: c.Get(registrar.HeaderDeviceSecret)}
	if raw := c.Get(registrar.HeaderIdentityToken); raw != "" {
		token, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return creds, service.ErrDeviceAuth
		}
		creds.IdentityToken = string(token)
	}
	return creds, nil
}

func toErrorInfo(err error) *model.ErrorInfo {
	switch {
	case errors.Is(err, service.ErrInvalidRegistration):
		return model.BadRequest(err.Error())
	case errors.Is(err, service.ErrClientIDMismatch):
		return model.NewError(http.StatusBadRequest, model.CodeClientIDMismatch, err.Error())
	case errors.Is(err, service.ErrDeviceAuth), errors.Is(err, service.ErrInvalidCredentials):
		return model.NewError(http.StatusUnauthorized, model.CodeInvalidCredential, err.Error())
	case errors.Is(err, service.ErrRegistrationNotFound):
		return model.NewError(http.StatusNotFound, model.CodeNotFound, err.Error())
	default:
		return model.NewError(http.StatusInternalServerError, model.CodeInternal, err.Error())
	}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
