package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"slices"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

const chat_preview_length = 50

const chat_id_alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

type ChatStore struct {
	db *gorm.DB
}

func NewChatStore(db *gorm.DB) *ChatStore {
	return &ChatStore{db: db}
}

func generate_chat_session_id() string {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = chat_id_alphabet[rand.Intn(len(chat_id_alphabet))]
	}
	return "chat_" + string(suffix)
}

// OpenSession is idempotent: a browser that already holds a live session id
// gets the same session back instead of a new one.
func (s *ChatStore) OpenSession(existingId string, customerName string) (*ChatSessions, error) {
	if existingId != "" {
		session := ChatSessions{}
		result := s.db.First(&session, "session_id = ? AND is_active = ?", existingId, true)
		if result.Error == nil && result.RowsAffected > 0 {
			return &session, nil
		}
	}

	if customerName == "" {
		customerName = "Anonymous Customer"
	}
	session := ChatSessions{
		SessionId:    generate_chat_session_id(),
		CustomerName: customerName,
		StartTime:    time.Now().UTC(),
		MessageCount: 0,
		LastMessage:  "Chat session started",
		LastActivity: time.Now().UTC(),
		IsActive:     true,
	}
	if err := s.db.Create(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *ChatStore) SessionExists(sessionId string) bool {
	var count int64
	s.db.Model(&ChatSessions{}).Where("session_id = ?", sessionId).Count(&count)
	return count > 0
}

// AppendMessage stores a message and bumps the owning session's counters.
// Messages are append-only; there is no edit or delete.
func (s *ChatStore) AppendMessage(sessionId string, sender string, text string) (*ChatMessages, error) {
	message := ChatMessages{
		SessionId: sessionId,
		Sender:    sender,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	if err := s.db.Create(&message).Error; err != nil {
		return nil, err
	}

	session := ChatSessions{}
	result := s.db.First(&session, "session_id = ?", sessionId)
	if result.Error == nil && result.RowsAffected > 0 {
		session.MessageCount++
		preview := []rune(text)
		if len(preview) > chat_preview_length {
			preview = preview[:chat_preview_length]
		}
		session.LastMessage = string(preview) + "..."
		session.LastActivity = time.Now().UTC()
		if err := s.db.Save(&session).Error; err != nil {
			log.Printf("failed to update chat session counters: %v", err)
		}
	}
	return &message, nil
}

func (s *ChatStore) Messages(sessionId string) ([]ChatMessages, error) {
	var list []ChatMessages
	err := s.db.Where("session_id = ?", sessionId).Order("id asc").Find(&list).Error
	return list, err
}

func (s *ChatStore) ActiveSessions() ([]ChatSessions, error) {
	var list []ChatSessions
	err := s.db.Where("is_active = ?", true).Order("last_activity desc").Find(&list).Error
	return list, err
}

// Canned support answers for the quick-question buttons. Anything else gets
// the fallback.
var bot_responses = map[string]string{
	"What packages do you recommend?": "For most servers, I recommend our 14x Server Boosts (1 Month) package for $8. It unlocks Level 2-3 features including premium audio quality and custom emojis! 🚀",
	"How fast is delivery?":           "We offer instant delivery! Your boosts will be applied within 5 minutes of payment confirmation. No waiting around! ⚡",
	"Is this safe for my server?":     "Absolutely! All our services are 100% Discord ToS compliant. We use legitimate Discord Nitro accounts for boosting. Your server is completely safe! 🔒",
}

const bot_fallback_response = "Thanks for your message! For immediate assistance, please join our Discord support server by clicking any \"Order Now\" button. Our team will help you right away! 💜"

const bot_response_delay = 1500 * time.Millisecond

func lookup_bot_response(userMessage string) string {
	if response, ok := bot_responses[strings.TrimSpace(userMessage)]; ok {
		return response
	}
	return bot_fallback_response
}

// schedule_bot_response answers a customer message after a short simulated
// typing delay.
func schedule_bot_response(sessionId string, userMessage string) {
	response := lookup_bot_response(userMessage)
	time.AfterFunc(bot_response_delay, func() {
		message, err := chats.AppendMessage(sessionId, "bot", response)
		if err != nil {
			log.Printf("failed to store bot response: %v", err)
			return
		}
		BroadcastPublisher.Publish(BroadcastChatMessage{event: "new_message", data: *message})
	})
}

type ChatWebsocketCommand struct {
	Cmd string
}

type SendChatMessageRequest struct {
	Cmd     string
	Message string
}

type RecievedChatMessage struct {
	Cmd       string `json:"cmd"`
	SessionId string `json:"sessionId"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// chat_websocket_handler serves both sides of the live chat. Customers
// connect anonymously to their own session; admins pass their token as a
// query param and may also connect to the "all" feed to monitor every
// session.
func chat_websocket_handler(c *websocket.Conn) {
	session := c.Params("session")

	sender := "customer"
	is_admin := false
	if c.Query("token") != "" {
		token, tokenerr := jwt.Parse(c.Query("token"), func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
			}
			return privateKey.Public(), nil
		})
		if tokenerr != nil || !token.Valid {
			c.Close()
			return
		}
		claims := token.Claims.(jwt.MapClaims)
		sid, ok := claims["sid"].(string)
		if !ok {
			c.Close()
			return
		}
		live, ok := sessions.RestoreSession(sid)
		if !ok {
			c.Close()
			return
		}
		permissions, err := GetRolePermissions(live.Role)
		if err != nil || !slices.Contains(permissions, "live_chat") {
			c.Close()
			return
		}
		if live.IsAdmin {
			sender = "admin"
			is_admin = true
		}
	}

	if session == "all" {
		if !is_admin {
			c.Close()
			return
		}
	} else if !chats.SessionExists(session) {
		c.Close()
		return
	}

	// Push loop: forward broadcast messages belonging to this session (or
	// everything, for the admin monitor feed). The quit channel stops the
	// loop once the read side is gone.
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		eventChannel := BroadcastPublisher.Subscribe()
		defer BroadcastPublisher.Unsubscribe(eventChannel)
		for {
			var recv_msg BroadcastChatMessage
			select {
			case recv_msg = <-eventChannel:
			case <-quit:
				return
			}
			if session != "all" && recv_msg.data.SessionId != session {
				continue
			}

			responce := RecievedChatMessage{
				SessionId: recv_msg.data.SessionId,
				Sender:    recv_msg.data.Sender,
				Message:   recv_msg.data.Text,
				Timestamp: recv_msg.data.Timestamp.Format(time.RFC3339),
			}
			switch recv_msg.event {
			case "new_message":
				responce.Cmd = "recv_msg"
			case "typing":
				responce.Cmd = "recv_typing"
				responce.Message = ""
			default:
				continue
			}

			responce_json, err := json.Marshal(responce)
			if err != nil {
				c.Close()
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, responce_json); err != nil {
				log.Println("write error:", err)
				return // Exit the goroutine if there's a write error
			}
		}
	}()

	var (
		msg []byte
		err error
	)
	for {
		if _, msg, err = c.ReadMessage(); err != nil {
			log.Println("read:", err)
			break
		}

		r := ChatWebsocketCommand{}
		if err := json.Unmarshal(msg, &r); err != nil {
			c.Close()
			return
		}

		switch r.Cmd {
		case "msg":
			r := SendChatMessageRequest{}
			if err := json.Unmarshal(msg, &r); err != nil {
				c.Close()
				return
			}
			if strings.TrimSpace(r.Message) == "" || session == "all" {
				break
			}
			message, err := chats.AppendMessage(session, sender, r.Message)
			if err != nil {
				log.Printf("failed to store chat message: %v", err)
				break
			}
			BroadcastPublisher.Publish(BroadcastChatMessage{event: "new_message", data: *message})
			if sender == "customer" {
				schedule_bot_response(session, r.Message)
			}
		case "typing":
			if session == "all" {
				break
			}
			BroadcastPublisher.Publish(BroadcastChatMessage{event: "typing", data: ChatMessages{
				SessionId: session,
				Sender:    sender,
				Timestamp: time.Now().UTC(),
			}})
		default:
			c.Close()
		}
	}
}

type OpenChatSessionRequest struct {
	SessionId    string
	CustomerName string
}

func open_chat_session(c *fiber.Ctx) error {
	r := new(OpenChatSessionRequest)
	if err := json.Unmarshal(c.BodyRaw(), &r); err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	session, err := chats.OpenSession(r.SessionId, r.CustomerName)
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.JSON(fiber.Map{
		"sessionId":    session.SessionId,
		"customerName": session.CustomerName,
		"startTime":    session.StartTime,
	})
}

func chat_history(c *fiber.Ctx) error {
	session := c.Params("session")
	if !chats.SessionExists(session) {
		c.Status(fiber.StatusNotFound)
		return c.SendString("chat session not found!")
	}

	list, err := chats.Messages(session)
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.JSON(list)
}

func admin_list_chats(c *fiber.Ctx) error {
	if err := CheckIfTokenHasPermission(c, "live_chat"); err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	list, err := chats.ActiveSessions()
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.JSON(list)
}
