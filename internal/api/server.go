package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"classpulse/internal/results"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// Presence is the read side of the connection registry.
type Presence interface {
	Count(sessionID int64) int
	Names(sessionID int64) []string
	GetStats() map[string]int
}

// SocketServer upgrades a request into a session connection.
type SocketServer interface {
	Serve(w http.ResponseWriter, r *http.Request, sessionID int64, role string)
}

// Results records and reads graded responses.
type Results interface {
	RecordResponse(ctx context.Context, sessionQuestionID int64, studentName, answerText string) (*types.Response, error)
	ResultsFor(ctx context.Context, sessionID int64) ([]results.QuestionResult, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Deps are the collaborators the HTTP layer dispatches to. Metrics, Hub,
// SessionStats and Limiter are optional.
type Deps struct {
	Sessions     interfaces.SessionManager
	Results      Results
	Bank         interfaces.QuestionBank
	Models       interfaces.ModelLister
	Presence     Presence
	Sockets      SocketServer
	Database     HealthChecker
	Hub          StatsProvider
	SessionStats StatsProvider
	Metrics      http.Handler
	Limiter      *RateLimiter

	// RequestLogging turns on echo's access log.
	RequestLogging bool
}

// Server is the HTTP face of the application. It holds no state of its
// own beyond the submission rate limiter.
type Server struct {
	deps      Deps
	echo      *echo.Echo
	validator *requestValidator
}

func NewServer(deps Deps) *Server {
	s := &Server{
		deps:      deps,
		echo:      echo.New(),
		validator: newRequestValidator(),
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Validator = s.validator
	s.echo.HTTPErrorHandler = s.handleError

	if deps.RequestLogging {
		s.echo.Use(middleware.Logger())
	}
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
		MaxAge:       86400,
	}))

	s.RegisterRoutes(s.echo)
	return s
}

// RegisterRoutes mounts every endpoint on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	admin := e.Group("/api/admin")
	admin.POST("/sessions", s.createSession)
	admin.GET("/sessions", s.listSessions)
	admin.GET("/sessions/:id", s.getSession)
	admin.PUT("/sessions/:id/end", s.endSession)
	admin.POST("/sessions/:id/questions", s.launchQuestion)
	admin.POST("/sessions/:id/collections/:collection_id/launch", s.launchCollection)
	admin.PUT("/sessions/:id/questions/close-all", s.closeAllQuestions)
	admin.PUT("/sessions/:id/questions/:sqid/close", s.closeQuestion)
	admin.GET("/sessions/:id/results", s.sessionResults)
	admin.GET("/sessions/:id/connected-users", s.connectedUsers)
	admin.GET("/models", s.listModels)
	admin.POST("/collections", s.createCollection)
	admin.GET("/collections", s.listCollections)
	admin.POST("/questions", s.createQuestion)
	admin.GET("/questions", s.listQuestions)
	admin.GET("/ws/:id", s.socket(types.RoleInstructor))

	student := e.Group("/api/student")
	student.POST("/join/:code", s.joinSession)
	student.GET("/sessions/:id/active-questions", s.activeQuestions)
	student.POST("/sessions/:id/questions/:sqid/submit", s.submitResponse)
	student.GET("/ws/:id", s.socket(types.RoleStudent))

	e.GET("/health", s.healthCheck)
	if s.deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}
}

// Echo exposes the underlying router for Start and Shutdown.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves on address until Shutdown.
func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) socket(role string) echo.HandlerFunc {
	return func(c echo.Context) error {
		sessionID, err := pathID(c, "id")
		if err != nil {
			return err
		}
		s.deps.Sockets.Serve(c.Response(), c.Request(), sessionID, role)
		return nil
	}
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}

// bindValid binds the request body into v and validates it.
func bindValid(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return err
	}
	return c.Validate(v)
}
