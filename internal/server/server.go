package server

import (
	"context"
	goerrors "errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"safevision/internal/config"
	"safevision/internal/frame"
	"safevision/internal/recording"
	"safevision/internal/session"
	"safevision/pkg/log"
)

type Server struct {
	conf       *config.Config
	sessions   Sessions
	pipeline   Pipeline
	alerts     Alerts
	monitor    Monitor
	recordings Recordings
	hub        *hub
	httpServer *http.Server
	logger     *logrus.Entry
}

func NewServer(conf *config.Config, deps Deps) *Server {
	return &Server{
		conf:       conf,
		sessions:   deps.Sessions,
		pipeline:   deps.Pipeline,
		alerts:     deps.Alerts,
		monitor:    deps.Monitor,
		recordings: deps.Recordings,
		hub:        newHub(),
		logger:     log.ComponentLogger("server"),
	}
}

func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := c.GetHeader(log.HttpXRequestId)
		if requestId == "" {
			requestId = strings.ReplaceAll(uuid.New().String(), "-", "")
		}
		c.Set(log.CtxRequestId, requestId)
		c.Header(log.HttpXRequestId, requestId)
		c.Next()
	}
}

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := time.Now()
		c.Next()
		latency := time.Since(t)
		status := c.Writer.Status()

		log.GetLogger(c).Info("ip: ", c.ClientIP(), " method: ", c.Request.Method, " path: ",
			c.Request.URL.Path, " status: ", status, " latency: ", latency)
	}
}

// Start routes processed frames back to their clients until ctx is done and
// serves HTTP until Shutdown.
func (s *Server) Start(ctx context.Context) {
	go s.deliver(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := s.SetUpRouter()
	pprof.Register(router)
	s.httpServer = &http.Server{
		Addr:    s.conf.Addr,
		Handler: router,
	}

	var err error
	if s.conf.SSLCert != "" && s.conf.SSLKey != "" {
		s.logger.Infof("start https server on %s", s.conf.Addr)
		err = s.httpServer.ListenAndServeTLS(s.conf.SSLCert, s.conf.SSLKey)
	} else {
		s.logger.Infof("start http server on %s", s.conf.Addr)
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && !goerrors.Is(err, http.ErrServerClosed) {
		s.logger.Fatal(err)
	}
}

func (s *Server) Shutdown(ctx context.Context) {
	s.hub.closeAll()
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Errorf("server forced to shutdown: %v", err)
	}
}

// CloseSession drops the stream connection of a session, if it has one.
func (s *Server) CloseSession(id string) {
	s.hub.closeSession(id)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(c *gin.Context, code int, err error) {
	c.JSON(code, ErrorResponse{
		Error: err.Error(),
	})
}

// statusFor maps component errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case goerrors.Is(err, frame.ErrInvalidFrame),
		goerrors.Is(err, recording.ErrInvalidFilename):
		return http.StatusBadRequest
	case goerrors.Is(err, recording.ErrRecordingNotFound),
		goerrors.Is(err, recording.ErrFileNotFound),
		goerrors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case goerrors.Is(err, recording.ErrRecordingConflict),
		goerrors.Is(err, session.ErrSessionExists):
		return http.StatusConflict
	case goerrors.Is(err, session.ErrTooManySessions):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

var sessionIdPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("sessionid", func(fl validator.FieldLevel) bool {
			return sessionIdPattern.MatchString(fl.Field().String())
		})
	}
}
