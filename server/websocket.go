package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/xhad/prepbot/internal/logger"
	"github.com/xhad/prepbot/pkg/assistant"
	"github.com/xhad/prepbot/pkg/evaluator"
)

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// Message is the websocket frame in both directions. Inbound types are "ask"
// and "ingest"; outbound ones are "status", "response" and "error".
type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
}

// wsConn serialises writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) send(msgType, content string, data any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteJSON(Message{Type: msgType, Content: content, Data: data}); err != nil {
		logger.Debug("websocket write failed: %v", err)
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ws := &wsConn{conn: conn}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			ws.send("error", "malformed message: "+err.Error(), nil)
			continue
		}
		// The assistant serialises requests, so handling inline keeps replies in order.
		s.handleMessage(c, ws, msg)
	}
}

// checkOrigin accepts clients without an Origin header, same-host pages and
// the configured origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.originAllowed(origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

func (s *Server) handleMessage(c *gin.Context, ws *wsConn, msg Message) {
	ctx := c.Request.Context()

	switch msg.Type {
	case "ingest":
		// URLs are scraped; whatever text surrounds them is indexed as pasted text.
		src := assistant.Sources{
			URLs:       urlPattern.FindAllString(msg.Content, -1),
			PastedText: strings.TrimSpace(urlPattern.ReplaceAllString(msg.Content, "")),
		}
		if src.Empty() {
			ws.send("error", "nothing to ingest", nil)
			return
		}
		ws.send("status", fmt.Sprintf("Building knowledge base from %s", describe(src)), nil)

		report, err := s.assistant.LoadKnowledge(ctx, src)
		if err != nil {
			ws.send("error", err.Error(), report)
			return
		}
		ws.send("status", fmt.Sprintf("Knowledge base ready: %d chunks from %d documents", report.Chunks, report.Documents), report)

	case "ask", "":
		ws.send("status", "Thinking...", nil)
		reply, err := s.assistant.Ask(ctx, msg.Content)
		if err != nil {
			ws.send("error", err.Error(), nil)
			return
		}
		content := reply.Answer
		if reply.Evaluation != nil {
			content += "\n\n" + evaluator.Summary(*reply.Evaluation)
		}
		ws.send("response", content, reply)

	default:
		ws.send("error", fmt.Sprintf("unknown message type %q", msg.Type), nil)
	}
}

func describe(src assistant.Sources) string {
	parts := append([]string(nil), src.URLs...)
	if src.PastedText != "" {
		parts = append(parts, "pasted text")
	}
	return strings.Join(parts, ", ")
}
