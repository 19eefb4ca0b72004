package server

import (
	"embed"
	"html/template"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/krau/snapclassify/display"
	"github.com/krau/snapclassify/lifecycle"
)

//go:embed templates/*.html
var templates embed.FS

type Server struct {
	controller *lifecycle.Controller
	handle     *lifecycle.Handle
	board      *display.Board
	token      string
	maxUpload  int64
	upgrader   websocket.Upgrader
}

type Options struct {
	Token          string
	MaxUploadBytes int64
}

func New(controller *lifecycle.Controller, handle *lifecycle.Handle, board *display.Board, opts Options) *Server {
	return &Server{
		controller: controller,
		handle:     handle,
		board:      board,
		token:      opts.Token,
		maxUpload:  opts.MaxUploadBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.SetHTMLTemplate(template.Must(template.ParseFS(templates, "templates/*.html")))
	if s.maxUpload > 0 {
		// leave room for multipart framing
		r.MaxMultipartMemory = s.maxUpload + 1<<20
	}

	r.GET("/", s.IndexHandler)
	r.POST("/upload", s.UploadHandler)
	r.POST("/classify", s.ClassifyHandler)
	r.GET("/status", s.StatusHandler)
	r.GET("/preview", s.PreviewHandler)
	r.GET("/ws", s.WSHandler)
	r.GET("/health", s.HealthHandler)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		slog.Debug("Request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()))
	}
}
