package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mailtmpl/mailtmpl/pkg/config"
	"github.com/mailtmpl/mailtmpl/pkg/mail"
	"github.com/mailtmpl/mailtmpl/pkg/metrics"
	"github.com/mailtmpl/mailtmpl/pkg/templates"
)

// Server exposes the render and send API over HTTP.
type Server struct {
	gin    *gin.Engine
	config config.Config
	store  *templates.Store
	svc    *mail.Service
	log    *zap.SugaredLogger
}

// NewServer creates the HTTP API server.
func NewServer(log *zap.Logger, cfg config.Config, store *templates.Store, svc *mail.Service) *Server {
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
	)

	if cfg.Server.Debug {
		origins := cfg.Server.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:5173"}
		}
		engine.Use(
			cors.New(cors.Config{
				AllowOrigins: origins,
				AllowMethods: []string{"GET", "POST", "OPTIONS"},
				AllowHeaders: []string{"Origin", "Content-Type"},
				MaxAge:       12 * time.Hour,
			}),
		)
	}

	s := &Server{
		gin:    engine,
		config: cfg,
		store:  store,
		svc:    svc,
		log:    log.Sugar().Named("server"),
	}

	engine.GET("/healthz", s.healthz)
	engine.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	api := engine.Group("api")
	api.GET("/templates", s.listTemplates)
	api.POST("/render", s.render)
	api.POST("/send", s.send)

	return s
}

// Listen blocks serving the API on the configured listen address.
func (s *Server) Listen() error {
	return s.gin.Run(s.config.Server.ListenAddress)
}

// Handler returns the underlying HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.gin
}

type renderRequest struct {
	Template string         `json:"template" binding:"required"`
	Context  map[string]any `json:"context"`
	Subject  string         `json:"subject"`
	Body     string         `json:"body"`
}

type sendRequest struct {
	renderRequest
	From     string   `json:"from"`
	FromName string   `json:"fromName"`
	To       []string `json:"to" binding:"required"`
	Cc       []string `json:"cc"`
	Bcc      []string `json:"bcc"`
}

type renderResponse struct {
	Subject      string              `json:"subject"`
	Body         string              `json:"body"`
	Subtype      mail.ContentSubtype `json:"subtype"`
	Alternatives []mail.Alternative  `json:"alternatives,omitempty"`
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": s.store.Names()})
}

// render builds and renders a message without sending it, for previewing.
func (s *Server) render(c *gin.Context) {
	var req renderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := s.buildMessage(req, nil)
	if err != nil {
		s.respondBuildError(c, err)
		return
	}
	if err := msg.Render(); err != nil {
		metrics.MailRenderFailure.WithLabelValues(req.Template).Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, renderResponse{
		Subject:      msg.Subject,
		Body:         msg.Body,
		Subtype:      msg.Subtype,
		Alternatives: msg.Alternatives,
	})
}

// send builds a message and enqueues it for asynchronous delivery.
func (s *Server) send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := s.buildMessage(req.renderRequest, &req)
	if err != nil {
		s.respondBuildError(c, err)
		return
	}
	if err := msg.Render(); err != nil {
		metrics.MailRenderFailure.WithLabelValues(req.Template).Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	id, err := s.svc.Enqueue(msg)
	if err != nil {
		s.log.Errorw("Failed to enqueue message", "error", err, "template", req.Template)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (s *Server) buildMessage(req renderRequest, send *sendRequest) (*mail.Message, error) {
	opts := []mail.Option{}
	if req.Subject != "" {
		opts = append(opts, mail.WithSubject(req.Subject))
	}
	if req.Body != "" {
		opts = append(opts, mail.WithBody(req.Body))
	}
	if send != nil {
		if send.From != "" {
			opts = append(opts, mail.WithFrom(send.From, send.FromName))
		}
		opts = append(opts, mail.WithTo(send.To...))
		if len(send.Cc) > 0 {
			opts = append(opts, mail.WithCc(send.Cc...))
		}
		if len(send.Bcc) > 0 {
			opts = append(opts, mail.WithBcc(send.Bcc...))
		}
	}
	return mail.NewMessage(s.store, req.Template, req.Context, opts...)
}

func (s *Server) respondBuildError(c *gin.Context, err error) {
	if errors.Is(err, templates.ErrTemplateNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
