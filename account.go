package main

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const session_lifetime = 24 * time.Hour

type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// CreateSession persists a new session row. The uuid token ends up inside the
// JWT, so deleting the row is enough to revoke the token.
func (s *SessionStore) CreateSession(name, discord, email, role string, isAdmin bool) (*Sessions, error) {
	session := Sessions{
		Token:   uuid.NewString(),
		Name:    name,
		Discord: discord,
		Email:   email,
		Role:    role,
		IsAdmin: isAdmin,
		Expiry:  time.Now().Add(session_lifetime).UnixMilli(),
	}
	if err := s.db.Create(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// RestoreSession returns the session for a token if it is still alive.
// Expired rows are purged as a side effect of the failed restore.
func (s *SessionStore) RestoreSession(token string) (*Sessions, bool) {
	session := Sessions{}
	result := s.db.First(&session, "token = ?", token)
	if result.Error != nil || result.RowsAffected == 0 {
		return nil, false
	}
	if session.Expiry <= time.Now().UnixMilli() {
		s.db.Unscoped().Delete(&session)
		return nil, false
	}
	return &session, true
}

func (s *SessionStore) DeleteSession(token string) {
	s.db.Unscoped().Where("token = ?", token).Delete(&Sessions{})
}

// RenewSession pushes the expiry another full lifetime out.
func (s *SessionStore) RenewSession(session *Sessions) error {
	session.Expiry = time.Now().Add(session_lifetime).UnixMilli()
	return s.db.Save(session).Error
}

func create_session_token(session *Sessions) (string, error) {
	claims := jwt.MapClaims{
		"sid":   session.Token,
		"name":  session.Name,
		"admin": session.IsAdmin,
		"exp":   time.Unix(0, session.Expiry*int64(time.Millisecond)).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(privateKey)
}

// session_from_ctx resolves the jwtware-validated token back to a live
// session row.
func session_from_ctx(c *fiber.Ctx) (*Sessions, bool) {
	user, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return nil, false
	}
	claims, ok := user.Claims.(jwt.MapClaims)
	if !ok {
		return nil, false
	}
	sid, ok := claims["sid"].(string)
	if !ok {
		return nil, false
	}
	return sessions.RestoreSession(sid)
}

type CustomerLoginRequest struct {
	Method string // order-id, discord or email
	Value  string
}

type AdminLoginRequest struct {
	Password string
}

type CustomerProfile struct {
	Id       string   `json:"id"`
	Name     string   `json:"name"`
	Discord  string   `json:"discord"`
	Email    string   `json:"email"`
	Orders   []Orders `json:"orders"`
	JoinDate int64    `json:"joinDate"`
}

// find_customer_account derives a customer identity from the order history.
// There are no standalone customer records: placing an order is what creates
// an account.
func find_customer_account(method string, value string) (*CustomerProfile, bool) {
	order := Orders{}
	found := false

	switch method {
	case "order-id":
		result := db.First(&order, "order_id = ?", value)
		found = result.Error == nil && result.RowsAffected > 0
	case "discord":
		needle := "%" + strings.ToLower(value) + "%"
		result := db.Where("lower(discord) LIKE ?", needle).Order("id asc").First(&order)
		found = result.Error == nil && result.RowsAffected > 0
	case "email":
		result := db.Where("lower(email) = ?", strings.ToLower(value)).Order("id asc").First(&order)
		found = result.Error == nil && result.RowsAffected > 0
	}
	if !found {
		return nil, false
	}

	history, err := orders.CustomerOrders(order.Discord, order.Email)
	if err != nil {
		log.Printf("failed to load customer history: %v", err)
		return nil, false
	}

	joinDate := int64(0)
	for _, o := range history {
		if joinDate == 0 || o.Timestamp.UnixMilli() < joinDate {
			joinDate = o.Timestamp.UnixMilli()
		}
	}

	return &CustomerProfile{
		Id:       order.Discord,
		Name:     strings.SplitN(order.Discord, "#", 2)[0],
		Discord:  order.Discord,
		Email:    order.Email,
		Orders:   history,
		JoinDate: joinDate,
	}, true
}

func customer_login(c *fiber.Ctx) error {
	r := new(CustomerLoginRequest)
	if err := json.Unmarshal(c.BodyRaw(), &r); err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	if strings.TrimSpace(r.Value) == "" {
		c.Status(fiber.StatusBadRequest)
		return c.SendString("please enter your login information!")
	}

	profile, found := find_customer_account(r.Method, strings.TrimSpace(r.Value))
	if !found {
		c.Status(fiber.StatusNotFound)
		return c.SendString("account not found, please check your information or place an order first!")
	}

	session, err := sessions.CreateSession(profile.Name, profile.Discord, profile.Email, "customer", false)
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	t, err := create_session_token(session)
	if err != nil {
		log.Printf("token.SignedString: %v", err)
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	return c.JSON(fiber.Map{"token": t, "user": profile, "isAdmin": false})
}

func admin_login(c *fiber.Ctx) error {
	r := new(AdminLoginRequest)
	if err := json.Unmarshal(c.BodyRaw(), &r); err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	if len(admin_password_hash) == 0 {
		c.Status(fiber.StatusServiceUnavailable)
		return c.SendString("admin access is not configured on this server!")
	}
	if err := bcrypt.CompareHashAndPassword(admin_password_hash, []byte(r.Password)); err != nil {
		c.Status(fiber.StatusUnauthorized)
		return c.SendString("invalid admin access code!")
	}

	session, err := sessions.CreateSession("Administrator", "", "", "admin", true)
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	t, err := create_session_token(session)
	if err != nil {
		log.Printf("token.SignedString: %v", err)
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	permissions, err := GetRolePermissions("admin")
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	return c.JSON(fiber.Map{
		"token":   t,
		"isAdmin": true,
		"user": fiber.Map{
			"id":          "admin",
			"name":        "Administrator",
			"role":        "admin",
			"permissions": permissions,
		},
	})
}

// reauth swaps a still-valid token for a fresh one and pushes the session
// expiry out, so returning visitors stay logged in.
func reauth(c *fiber.Ctx) error {
	session, ok := session_from_ctx(c)
	if !ok {
		c.Status(fiber.StatusUnauthorized)
		return c.SendString("session expired!")
	}

	if err := sessions.RenewSession(session); err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	t, err := create_session_token(session)
	if err != nil {
		log.Printf("token.SignedString: %v", err)
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.JSON(fiber.Map{"token": t, "isAdmin": session.IsAdmin})
}

func logout(c *fiber.Ctx) error {
	session, ok := session_from_ctx(c)
	if ok {
		sessions.DeleteSession(session.Token)
	}
	return c.SendString("success!")
}

func account_info(c *fiber.Ctx) error {
	session, ok := session_from_ctx(c)
	if !ok {
		c.Status(fiber.StatusUnauthorized)
		return c.SendString("session expired!")
	}

	if session.IsAdmin {
		permissions, err := GetRolePermissions(session.Role)
		if err != nil {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.JSON(fiber.Map{
			"isAdmin": true,
			"user": fiber.Map{
				"id":          "admin",
				"name":        session.Name,
				"role":        session.Role,
				"permissions": permissions,
			},
		})
	}

	profile, found := find_customer_account("discord", session.Discord)
	if !found {
		c.Status(fiber.StatusNotFound)
		return c.SendString("account not found!")
	}
	return c.JSON(fiber.Map{"isAdmin": false, "user": profile})
}

func account_orders(c *fiber.Ctx) error {
	session, ok := session_from_ctx(c)
	if !ok {
		c.Status(fiber.StatusUnauthorized)
		return c.SendString("session expired!")
	}

	history, err := orders.CustomerOrders(session.Discord, session.Email)
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.JSON(history)
}
