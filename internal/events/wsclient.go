package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/gorilla/websocket"
)

const (
	pingPeriod   = 3 * time.Second
	pongWait     = 10 * time.Second
	writeWait    = 5 * time.Second
	sendBuffered = 64
)

var upgrade = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WsClient struct {
	client  *websocket.Conn
	message chan wsMessage
	stopCh  chan struct{}
	once    sync.Once
}

type wsMessage struct {
	data    []byte
	msgType int
}

func NewWsClient(client *websocket.Conn) *WsClient {
	wsClient := &WsClient{
		client:  client,
		message: make(chan wsMessage, sendBuffered),
		stopCh:  make(chan struct{}),
	}

	client.SetCloseHandler(func(code int, text string) error {
		logs.GetLogger().Debugf("subscriber sent close event, code: %d", code)
		wsClient.Close()
		return nil
	})

	return wsClient
}

// Serve upgrades the request and streams hub events to it until the peer
// goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrade.Upgrade(w, r, nil)
	if err != nil {
		logs.GetLogger().Errorf("Failed upgrade event stream, error: %+v", err)
		return
	}

	ws := NewWsClient(conn)
	if !h.add(ws) {
		ws.Close()
		return
	}
	defer h.remove(ws)

	go ws.readMessage()
	go ws.ping()
	ws.writeMessage()
}

func (ws *WsClient) Close() {
	ws.once.Do(func() {
		close(ws.stopCh)
		ws.client.Close()
	})
}

func (ws *WsClient) send(data []byte) bool {
	select {
	case <-ws.stopCh:
		return true
	default:
	}
	select {
	case ws.message <- wsMessage{data: data, msgType: websocket.TextMessage}:
		return true
	default:
		return false
	}
}

func (ws *WsClient) ping() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := ws.client.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				ws.Close()
				return
			}
		case <-ws.stopCh:
			return
		}
	}
}

func (ws *WsClient) writeMessage() {
	defer ws.Close()
	for {
		select {
		case msg := <-ws.message:
			ws.client.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.client.WriteMessage(msg.msgType, msg.data); err != nil {
				logs.GetLogger().Debugf("write event: %v", err)
				return
			}
		case <-ws.stopCh:
			return
		}
	}
}

// readMessage drains the peer so control frames are handled; any read
// error or a peer silent past pongWait ends the stream.
func (ws *WsClient) readMessage() {
	defer ws.Close()
	ws.client.SetReadDeadline(time.Now().Add(pongWait))
	ws.client.SetPongHandler(func(string) error {
		return ws.client.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.client.ReadMessage(); err != nil {
			return
		}
	}
}
