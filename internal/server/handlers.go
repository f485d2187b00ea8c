// Package server exposes HTTP handlers, including WebSocket upgrades, chat
// history, health checks, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yujin2003/swimpro-sub001/internal/auth"
	"github.com/yujin2003/swimpro-sub001/internal/storage"
)

// ChatServer owns the hub, relay and collaborators behind the HTTP routes.
type ChatServer struct {
	cfg      *Config
	hub      *Hub
	relay    *Relay
	verifier TokenVerifier
	store    storage.MessageStore
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewChatServer builds the hub and relay around verifier and store. The hub
// loop is not started; call Start.
func NewChatServer(cfg *Config, verifier TokenVerifier, store storage.MessageStore, log *zap.Logger) *ChatServer {
	if cfg == nil {
		cfg = NewConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	hub := NewHub(log.Named("hub"))
	origins := newOriginPolicy(cfg.Origins(), log.Named("origin"))

	return &ChatServer{
		cfg:      cfg,
		hub:      hub,
		relay:    NewRelay(hub, verifier, store, log.Named("relay"), cfg.PersistTimeout),
		verifier: verifier,
		store:    store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		log: log,
	}
}

// Hub returns the room registry.
func (s *ChatServer) Hub() *Hub {
	return s.hub
}

// Relay returns the frame processor.
func (s *ChatServer) Relay() *Relay {
	return s.relay
}

// WebSocketHandler upgrades GET requests to chat connections and hands the
// new client to the hub, which launches its pumps.
func (s *ChatServer) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	client := NewClient(conn, s.hub, s.relay, r.RemoteAddr, s.cfg)
	if !s.hub.Register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			deadlineFromNow(writeWait))
		_ = conn.Close()
	}
}

// HistoryHandler returns the stored chat messages of one thread. The caller
// must present a valid bearer token.
func (s *ChatServer) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	postID := r.PathValue("postId")
	if postID == "" {
		writeJSON(w, http.StatusBadRequest, Reply{Error: errPostIDRequired}, s.log)
		return
	}

	messages, err := s.store.ListByPost(r.Context(), postID, s.cfg.HistoryLimit)
	if err != nil {
		s.log.Error("failed to load chat history", zap.String("post_id", postID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Reply{Error: "failed to load messages"}, s.log)
		return
	}
	if messages == nil {
		messages = []storage.Message{}
	}

	writeJSON(w, http.StatusOK, messages, s.log)
}

// RequireAuth rejects requests without a valid bearer token.
func (s *ChatServer) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, Reply{Error: errTokenRequired}, s.log)
			return
		}
		identity, err := s.verifier.Verify(token)
		if err != nil {
			s.log.Debug("HTTP request with rejected token", zap.String("path", r.URL.Path), zap.Error(err))
			writeJSON(w, http.StatusUnauthorized, Reply{Error: errInvalidToken}, s.log)
			return
		}
		s.log.Debug("HTTP request authenticated", zap.String("user_id", identity.UserID), zap.String("path", r.URL.Path))
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any, log *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn("error writing JSON response", zap.Error(err))
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat server is running!")
}

// TestPageHandler serves an HTML page for exercising the chat protocol by hand.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPage)
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Chat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Chat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="tokenInput" placeholder="Bearer token">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="postInput" placeholder="Post id">
        <button onclick="join()">Join</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addMessage(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = connected ? 'status connected' : 'status disconnected';
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function send(frame) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(frame));
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() {
                updateStatus(true);
                send({type: 'auth', token: document.getElementById('tokenInput').value});
            };
            ws.onmessage = function(event) {
                const frame = JSON.parse(event.data);
                if (frame.error) {
                    addMessage('error: ' + frame.error, 'red');
                } else if (frame.senderId !== undefined) {
                    addMessage(frame.senderId + ': ' + frame.text, 'green');
                } else {
                    addMessage(frame.message + (frame.room ? ' (' + frame.room + ')' : ''));
                }
            };
            ws.onclose = function() {
                addMessage('Connection closed');
                updateStatus(false);
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function join() {
            send({type: 'join', postId: document.getElementById('postInput').value});
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (text) {
                send({type: 'chat', text: text});
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
