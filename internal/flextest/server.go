// Package flextest provides an in-process fake of the flex web service for tests.
package flextest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"

	"github.com/gin-gonic/gin"
)

// BasePath mirrors the service's URL layout.
const BasePath = "/AccountManagement/FlexWebService"

// Options configures the fake service.
type Options struct {
	Token         string
	QueryID       string
	ReferenceCode string
	Statement     []byte

	// SendStatus and StatementStatus force an HTTP status on the respective endpoint.
	SendStatus      int
	StatementStatus int

	// AckBody replaces the generated SendRequest envelope.
	AckBody string

	// Redirect serves GetStatement through a 302 to a download route.
	Redirect bool
}

// Server is a running fake flex service.
type Server struct {
	*httptest.Server

	opts Options

	mu         sync.Mutex
	sends      []url.Values
	statements []url.Values
}

// New starts a fake service. Close it with Server.Close.
func New(opts Options) *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{opts: opts}

	r := gin.New()
	group := r.Group(BasePath)
	group.GET("/SendRequest", s.sendRequest)
	group.GET("/GetStatement", s.getStatement)
	group.GET("/download", s.download)

	s.Server = httptest.NewServer(r)
	return s
}

// BaseURL is the value to configure as the flex base URL.
func (s *Server) BaseURL() string {
	return s.URL + BasePath
}

// SendRequests returns the query parameters of every SendRequest call.
func (s *Server) SendRequests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.sends...)
}

// StatementRequests returns the query parameters of every GetStatement call.
func (s *Server) StatementRequests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.statements...)
}

// Calls is the total number of service calls received.
func (s *Server) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends) + len(s.statements)
}

// AckSuccess renders a successful SendRequest envelope.
func AckSuccess(ref string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<FlexStatementResponse timestamp="17 October, 2026 09:00 AM EDT">
<Status>Success</Status>
<ReferenceCode>%s</ReferenceCode>
<Url>https://example.invalid/GetStatement</Url>
</FlexStatementResponse>`, ref)
}

// AckFailure renders a failed SendRequest envelope.
func AckFailure(code, message string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<FlexStatementResponse timestamp="17 October, 2026 09:00 AM EDT">
<Status>Fail</Status>
<ErrorCode>%s</ErrorCode>
<ErrorMessage>%s</ErrorMessage>
</FlexStatementResponse>`, code, message)
}

func (s *Server) sendRequest(c *gin.Context) {
	s.mu.Lock()
	s.sends = append(s.sends, c.Request.URL.Query())
	s.mu.Unlock()

	if s.opts.SendStatus != 0 {
		c.Status(s.opts.SendStatus)
		return
	}
	if s.opts.AckBody != "" {
		c.Data(http.StatusOK, "text/xml", []byte(s.opts.AckBody))
		return
	}
	if c.Query("t") != s.opts.Token {
		c.Data(http.StatusOK, "text/xml", []byte(AckFailure("1015", "Token is invalid.")))
		return
	}
	if c.Query("q") != s.opts.QueryID {
		c.Data(http.StatusOK, "text/xml", []byte(AckFailure("1014", "Query is invalid.")))
		return
	}
	c.Data(http.StatusOK, "text/xml", []byte(AckSuccess(s.opts.ReferenceCode)))
}

func (s *Server) getStatement(c *gin.Context) {
	s.mu.Lock()
	s.statements = append(s.statements, c.Request.URL.Query())
	s.mu.Unlock()

	if s.opts.StatementStatus != 0 {
		c.Status(s.opts.StatementStatus)
		return
	}
	if c.Query("t") != s.opts.Token || c.Query("q") != s.opts.ReferenceCode {
		c.Status(http.StatusNotFound)
		return
	}
	if s.opts.Redirect {
		c.Redirect(http.StatusFound, BasePath+"/download?ref="+url.QueryEscape(s.opts.ReferenceCode))
		return
	}
	c.Data(http.StatusOK, "text/csv", s.opts.Statement)
}

func (s *Server) download(c *gin.Context) {
	if c.Query("ref") != s.opts.ReferenceCode {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, "text/csv", s.opts.Statement)
}
