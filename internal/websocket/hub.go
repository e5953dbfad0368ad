package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"tradeexec/internal/bot"
	"tradeexec/internal/models"
	"tradeexec/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Буферы для сериализации, чтобы не аллоцировать на каждое событие роутера котировок
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

const broadcastBufferSize = 1024

// Hub управляет всеми активными WebSocket соединениями операторов
//
// Функции:
// - Регистрация и отмена регистрации клиентов
// - Broadcast событий движка всем клиентам
// - Отключение медленных клиентов
//
// Broadcast никогда не блокирует поллеры движка: при переполнении
// очереди событие отбрасывается и учитывается в DroppedMessages.
//
// Использование:
// 1. Создать hub: hub := NewHub(logger, origins)
// 2. Запустить в горутине: go hub.Run()
// 3. Передать hub движку как bot.EventPublisher
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	origins *OriginChecker
	dropped atomic.Int64
	logger  *utils.Logger

	mu sync.RWMutex
}

// NewHub создает новый Hub. origins - список разрешённых Origin через запятую, пусто или "*" - любые.
func NewHub(logger *utils.Logger, origins string) *Hub {
	if logger == nil {
		logger = utils.L()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		origins:    NewOriginChecker(origins),
		logger:     logger.WithComponent("ws_hub"),
	}
}

// Run запускает главный цикл Hub, возвращается после Stop
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", utils.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", utils.Int("clients", n))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var slow []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					slow = append(slow, client)
				}
			}

			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				n := len(h.clients)
				h.mu.Unlock()
				h.logger.Warn("removed slow clients", utils.Int("removed", len(slow)), utils.Int("clients", n))
			}
		}
	}
}

// Stop останавливает Run и закрывает всех клиентов
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast сериализует сообщение и ставит его в очередь без блокировки
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("failed to marshal broadcast message", utils.Err(err))
		return
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")
	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
	}
}

// PublishLegUpdate реализует bot.EventPublisher
func (h *Hub) PublishLegUpdate(leg *models.LegState) {
	h.Broadcast(NewLegUpdateMessage(leg))
}

// PublishRiskExit реализует bot.EventPublisher
func (h *Hub) PublishRiskExit(exit *models.RiskExit) {
	h.Broadcast(NewRiskExitMessage(exit))
}

// PublishKillSwitch реализует bot.EventPublisher
func (h *Hub) PublishKillSwitch(state models.KillSwitchState) {
	h.Broadcast(NewKillSwitchMessage(state))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages - сколько событий отброшено из-за переполнения очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}

var _ bot.EventPublisher = (*Hub)(nil)
