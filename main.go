package main

import (
	"crypto/rand"
	"crypto/rsa"
	"log"
	"os"
	"runtime/debug"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	// Auth
	jwtware "github.com/gofiber/contrib/jwt"
)

var (
	// Regenerated on every boot. Sessions live in the database, so a restart
	// only forces clients through /api/reauth, it does not log anyone out.
	privateKey *rsa.PrivateKey

	orders   *OrderStore
	sessions *SessionStore
	chats    *ChatStore
	outbox   *NotificationOutbox

	// Empty when ADMIN_PASSWORD is unset; admin login is then disabled.
	admin_password_hash []byte
)

func getenv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func main() {
	// Configure runtime settings
	debug.SetGCPercent(35) // 35% limit for GC

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}

	// Auth setup
	rng := rand.Reader
	var err error
	privateKey, err = rsa.GenerateKey(rng, 2048)
	if err != nil {
		log.Fatalf("rsa.GenerateKey: %v", err)
	}

	if password := os.Getenv("ADMIN_PASSWORD"); password != "" {
		admin_password_hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("bcrypt.GenerateFromPassword: %v", err)
		}
	} else {
		log.Println("ADMIN_PASSWORD not set, admin login is disabled")
	}

	if err := LoadSiteConfig(os.Getenv("SITE_CONFIG")); err != nil {
		log.Fatalf("failed to load site config: %v", err)
	}
	if siteConfig.Shop.WebhookUrl == "" {
		log.Println("no webhook url configured, order notifications will not be delivered")
	}

	if err := OpenDatabase(getenv("DB_PATH", "./driizzyy-boosts.db")); err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	if err := InitializeRoles(); err != nil {
		log.Fatalf("failed to initialize roles: %v", err)
	}

	orders = NewOrderStore(db)
	sessions = NewSessionStore(db)
	chats = NewChatStore(db)
	outbox = NewNotificationOutbox(db)
	outbox.Start()

	// Create fiber application
	app := fiber.New()

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Accept-Language, Content-Length, Authorization",
	}))

	// Public API
	app.Post("/api/orders", create_order)
	app.Get("/api/orders/track", track_order)
	app.Post("/api/coupons/apply", apply_coupon)
	app.Get("/api/site", get_site_info)
	app.Post("/api/login/customer", customer_login)
	app.Post("/api/login/admin", admin_login)
	app.Post("/api/chat/sessions", open_chat_session)
	app.Get("/api/chat/:session/messages", chat_history)

	// Add a websocket path
	app.Use("/ws", func(c *fiber.Ctx) error {
		// IsWebSocketUpgrade returns true if the client
		// requested upgrade to the WebSocket protocol.
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat/:session", websocket.New(chat_websocket_handler))

	app.Get("/monitor", monitor.New(
		monitor.Config{
			Title:   "Driizzyy Boosts Metrics",
			Refresh: (50 * time.Millisecond),
		},
	))

	// JWT Middleware; everything registered below requires a valid token.
	app.Use(jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{
			JWTAlg: jwtware.RS256,
			Key:    privateKey.Public(),
		},
	}))

	app.Post("/api/reauth", reauth)
	app.Post("/api/logout", logout)
	app.Get("/api/account", account_info)
	app.Get("/api/account/orders", account_orders)

	app.Get("/api/admin/orders", admin_list_orders)
	app.Post("/api/admin/orders/status", admin_update_status)
	app.Get("/api/admin/stats", admin_stats)
	app.Get("/api/admin/chats", admin_list_chats)

	log.Fatal(app.Listen(":" + getenv("PORT", "3000")))
}
