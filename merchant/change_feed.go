package merchant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// row-level change feed for one logical table filtered by merchant.
// delivery is at-least-once while the connection is live. events missed
// during a drop cannot be recovered from the feed, so every (re)connect
// surfaces a resync marker and the reconciler re-fetches.

type ChangeOp string

const (
	ChangeOpInsert ChangeOp = "INSERT"
	ChangeOpUpdate ChangeOp = "UPDATE"
	ChangeOpDelete ChangeOp = "DELETE"
)

type ChangeEvent struct {
	Table string   `json:"table"`
	Op    ChangeOp `json:"op"`
	// monotonic per-record version assigned by the store boundary
	Revision uint64          `json:"revision,omitempty"`
	Before   json.RawMessage `json:"before,omitempty"`
	After    json.RawMessage `json:"after,omitempty"`
}

// wire frame for the subscribe handshake and event delivery
type feedFrame struct {
	Type   string       `json:"type"`
	Table  string       `json:"table,omitempty"`
	Filter Filter       `json:"filter,omitempty"`
	Jwt    string       `json:"jwt,omitempty"`
	Event  *ChangeEvent `json:"event,omitempty"`
}

const (
	feedFrameTypeSubscribe  = "subscribe"
	feedFrameTypeSubscribed = "subscribed"
	feedFrameTypeChange     = "change"
)

type FeedEvent struct {
	// a (re)connect was established and cached state may have drifted
	Resync bool
	Event  *ChangeEvent
}

type ChangeFeedSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	EventBufferSize    int
}

func DefaultChangeFeedSettings() *ChangeFeedSettings {
	return &ChangeFeedSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
		EventBufferSize:    32,
	}
}

type ChangeFeedClient struct {
	ctx    context.Context
	cancel context.CancelFunc

	feedUrl    string
	sessionJwt string
	table      string
	merchantId string

	settings *ChangeFeedSettings

	events chan *FeedEvent
}

func NewChangeFeedClientWithDefaults(
	ctx context.Context,
	feedUrl string,
	sessionJwt string,
	table string,
	merchantId string,
) *ChangeFeedClient {
	return NewChangeFeedClient(ctx, feedUrl, sessionJwt, table, merchantId, DefaultChangeFeedSettings())
}

func NewChangeFeedClient(
	ctx context.Context,
	feedUrl string,
	sessionJwt string,
	table string,
	merchantId string,
	settings *ChangeFeedSettings,
) *ChangeFeedClient {
	cancelCtx, cancel := context.WithCancel(ctx)
	changeFeedClient := &ChangeFeedClient{
		ctx:        cancelCtx,
		cancel:     cancel,
		feedUrl:    feedUrl,
		sessionJwt: sessionJwt,
		table:      table,
		merchantId: merchantId,
		settings:   settings,
		events:     make(chan *FeedEvent, settings.EventBufferSize),
	}
	go changeFeedClient.run()
	return changeFeedClient
}

// closed when the client closes
func (self *ChangeFeedClient) Events() <-chan *FeedEvent {
	return self.events
}

func (self *ChangeFeedClient) run() {
	defer func() {
		self.cancel()
		close(self.events)
	}()

	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)
		connect := func() (*websocket.Conn, error) {
			dialer := &websocket.Dialer{
				HandshakeTimeout: self.settings.WsHandshakeTimeout,
			}
			ws, _, err := dialer.DialContext(self.ctx, self.feedUrl, nil)
			if err != nil {
				return nil, err
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			subscribeBytes, err := json.Marshal(&feedFrame{
				Type:  feedFrameTypeSubscribe,
				Table: self.table,
				Filter: Filter{
					"merchant_id": self.merchantId,
				},
				Jwt: self.sessionJwt,
			})
			if err != nil {
				return nil, err
			}

			ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, subscribeBytes); err != nil {
				return nil, err
			}
			ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
			if _, message, err := ws.ReadMessage(); err != nil {
				return nil, err
			} else {
				// verify the subscribe ack
				var ack feedFrame
				if err := json.Unmarshal(message, &ack); err != nil {
					return nil, err
				}
				if ack.Type != feedFrameTypeSubscribed || ack.Table != self.table {
					return nil, fmt.Errorf("Subscribe response error.")
				}
			}

			success = true
			return ws, nil
		}

		ws, err := connect()
		if err != nil {
			glog.Infof("[feed]subscribe error %s = %s\n", self.table, err)
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}

		// the cache may have drifted while disconnected
		select {
		case <-self.ctx.Done():
			ws.Close()
			return
		case self.events <- &FeedEvent{Resync: true}:
		}

		c := func() {
			defer ws.Close()

			handleCtx, handleCancel := context.WithCancel(self.ctx)
			defer handleCancel()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					case <-time.After(self.settings.PingTimeout):
						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
							// note that for websocket a deadline timeout cannot be recovered
							return
						}
					}
				}
			}()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					default:
					}

					ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
					messageType, message, err := ws.ReadMessage()
					if err != nil {
						glog.Infof("[feed]%s<- error = %s\n", self.table, err)
						return
					}

					if 0 == len(message) {
						// ping
						glog.V(2).Infof("[feed]ping %s<-\n", self.table)
						continue
					}

					switch messageType {
					case websocket.TextMessage, websocket.BinaryMessage:
						var frame feedFrame
						if err := json.Unmarshal(message, &frame); err != nil {
							glog.Infof("[feed]%s<- bad frame = %s\n", self.table, err)
							continue
						}
						if frame.Type != feedFrameTypeChange || frame.Event == nil {
							glog.V(2).Infof("[feed]other=%s %s<-\n", frame.Type, self.table)
							continue
						}

						select {
						case <-handleCtx.Done():
							return
						case self.events <- &FeedEvent{Event: frame.Event}:
							glog.V(2).Infof("[feed]%s<-\n", self.table)
						case <-time.After(self.settings.ReadTimeout):
							// a dropped event would leave the cache
							// stale until the next disconnect. force a
							// reconnect, which replays a resync
							glog.Infof("[feed]stalled %s<-\n", self.table)
							return
						}
					}
				}
			}()

			select {
			case <-handleCtx.Done():
			}
		}
		reconnect = NewReconnect(self.settings.ReconnectTimeout)
		c()
		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

func (self *ChangeFeedClient) Close() {
	self.cancel()
}
