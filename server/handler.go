package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/krau/snapclassify/lifecycle"
)

var (
	errUnauthorized = errors.New("unauthorized")
)

func (s *Server) authenticate(c *gin.Context) error {
	if s.token == "" {
		return nil
	}
	auth := c.GetHeader("Authorization")
	var providedToken string
	if len(auth) > 7 && auth[:7] == "Bearer " {
		providedToken = auth[7:]
	} else {
		providedToken = c.PostForm("token")
	}
	if subtle.ConstantTimeCompare([]byte(providedToken), []byte(s.token)) != 1 {
		return errUnauthorized
	}
	return nil
}

// limitBody caps the request body at the upload limit plus room for the
// rest of the multipart form.
func (s *Server) limitBody(c *gin.Context) {
	if s.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+1<<20)
	}
}

func formErrorCode(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// formFile reads the "file" field. A request without one yields a nil file.
func (s *Server) formFile(c *gin.Context) (*lifecycle.File, error) {
	fileHeader, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || (err == nil && fileHeader.Filename == "" && fileHeader.Size == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("cannot open uploaded file: %w", err)
	}
	defer file.Close()

	var r io.Reader = file
	if s.maxUpload > 0 {
		// one byte over the limit is enough for the decoder to reject it
		r = io.LimitReader(file, s.maxUpload+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cannot read uploaded file: %w", err)
	}
	return &lifecycle.File{Name: fileHeader.Filename, Data: data}, nil
}

func outcomeCode(out lifecycle.Outcome) int {
	switch {
	case out.Superseded:
		return http.StatusConflict
	case out.Status == lifecycle.StatusCannotLoad:
		return http.StatusUnprocessableEntity
	case out.Status == lifecycle.StatusModelNotReady:
		return http.StatusServiceUnavailable
	case out.Status == lifecycle.StatusAnalysisError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func (s *Server) ClassifyHandler(c *gin.Context) {
	s.limitBody(c)
	if err := s.authenticate(c); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		return
	}

	file, err := s.formFile(c)
	if err != nil {
		c.JSON(formErrorCode(err), gin.H{"error": err.Error()})
		return
	}
	if file == nil {
		c.Status(http.StatusNoContent)
		return
	}

	out := s.controller.Select(c.Request.Context(), file)
	body := gin.H{
		"status":      out.Status,
		"results":     out.Results,
		"predictions": out.Predictions,
		"superseded":  out.Superseded,
	}
	if out.Err != nil {
		body["error"] = out.Err.Error()
	}
	c.JSON(outcomeCode(out), body)
}

func (s *Server) UploadHandler(c *gin.Context) {
	s.limitBody(c)
	if err := s.authenticate(c); err != nil {
		c.String(http.StatusUnauthorized, "authentication failed")
		return
	}
	file, err := s.formFile(c)
	if err != nil {
		c.String(formErrorCode(err), err.Error())
		return
	}
	if file != nil {
		s.controller.Select(c.Request.Context(), file)
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) IndexHandler(c *gin.Context) {
	snap := s.board.Snapshot()
	backend := ""
	if b, ok := s.handle.Backend(); ok {
		backend = b.String()
	}
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Status":     snap.Status,
		"Results":    snap.Results,
		"HasPreview": snap.HasPreview,
		"Version":    snap.Version,
		"Backend":    backend,
		"NeedToken":  s.token != "",
	})
}

func (s *Server) StatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.statusBody())
}

func (s *Server) statusBody() gin.H {
	snap := s.board.Snapshot()
	body := gin.H{
		"status":      snap.Status,
		"results":     snap.Results,
		"has_preview": snap.HasPreview,
		"version":     snap.Version,
		"updated_at":  snap.UpdatedAt,
		"phase":       s.controller.Phase().String(),
	}
	b, ready := s.handle.Backend()
	body["ready"] = ready
	if ready {
		body["backend"] = b.String()
	}
	return body
}

func (s *Server) PreviewHandler(c *gin.Context) {
	data, ok := s.board.Preview()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no image loaded"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (s *Server) HealthHandler(c *gin.Context) {
	_, ready := s.handle.Get()
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "ready": ready})
}

// WSHandler streams board snapshots until the client goes away.
func (s *Server) WSHandler(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	updates, cancel := s.board.Subscribe()
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				errChan <- err
				return
			}
		}
	}()

	if err := conn.WriteJSON(s.statusBody()); err != nil {
		return
	}
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-updates:
			if err := conn.WriteJSON(s.statusBody()); err != nil {
				slog.Debug("WebSocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case err := <-errChan:
			slog.Debug("WebSocket closed", slog.String("error", err.Error()))
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
