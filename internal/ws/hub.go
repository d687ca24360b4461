// Package ws fans newly stored tweets out to streaming clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/splax/tweetwatch/internal/domain"
)

// AllAccounts is the subscription key of clients that follow every account.
const AllAccounts = ""

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Event is the payload pushed to subscribers.
type Event struct {
	Type    string         `json:"type"`
	Account string         `json:"account"`
	Tweets  []domain.Tweet `json:"tweets"`
}

// Hub manages stream subscriptions by account username.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan chan int
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

type message struct {
	account string
	payload []byte
}

type subscription struct {
	account string
	client  Subscriber
}

// NewHub creates a running Hub. Close stops it.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		count:     make(chan chan int),
		done:      make(chan struct{}),
		log:       logger,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			h.clients = nil
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.account]; !ok {
				h.clients[sub.account] = make(map[Subscriber]struct{})
			}
			h.clients[sub.account][sub.client] = struct{}{}
		case sub := <-h.unreg:
			h.remove(sub.account, sub.client)
		case msg := <-h.broadcast:
			h.deliver(msg.account, msg.payload)
			if msg.account != AllAccounts {
				h.deliver(AllAccounts, msg.payload)
			}
		case reply := <-h.count:
			total := 0
			for _, clients := range h.clients {
				total += len(clients)
			}
			reply <- total
		}
	}
}

func (h *Hub) deliver(account string, payload []byte) {
	clients, ok := h.clients[account]
	if !ok {
		return
	}
	for c := range clients {
		if err := c.Send(payload); err != nil {
			c.Close()
			delete(clients, c)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, account)
	}
}

func (h *Hub) remove(account string, client Subscriber) {
	if clients, ok := h.clients[account]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, account)
		}
	}
}

// Register adds a client to an account stream; AllAccounts follows everything.
func (h *Hub) Register(account string, client Subscriber) {
	select {
	case h.register <- subscription{account: account, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(account string, client Subscriber) {
	select {
	case h.unreg <- subscription{account: account, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to the account's clients and to AllAccounts clients.
func (h *Hub) Broadcast(account string, payload []byte) {
	select {
	case h.broadcast <- message{account: account, payload: payload}:
	case <-h.done:
	}
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// TweetsStored publishes a batch of new tweets for account.
func (h *Hub) TweetsStored(_ context.Context, account string, tweets []domain.Tweet) {
	payload, err := json.Marshal(Event{Type: "tweets", Account: account, Tweets: tweets})
	if err != nil {
		h.log.Error("encode tweet event failed", "account", account, "error", err)
		return
	}
	h.Broadcast(account, payload)
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
