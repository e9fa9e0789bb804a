package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gtuk/discordwebhook"
	"gorm.io/gorm"
)

// Embed colors, straight from the Discord palette the shop has always used.
const new_order_color = "5814783"

var status_colors = map[string]string{
	"pending":    "16776960", // Yellow
	"processing": "3447003",  // Blue
	"completed":  "3066993",  // Green
	"cancelled":  "15158332", // Red
}

// NotificationOutbox decouples "order recorded" from "Discord notified".
// Writers enqueue a row and nudge the worker; the worker delivers with a
// bounded retry and records the outcome. A lost nudge is harmless because the
// periodic sweep picks up anything pending.
type NotificationOutbox struct {
	db            *gorm.DB
	queue         chan uint
	maxAttempts   uint
	baseBackoff   time.Duration
	sweepInterval time.Duration
}

func NewNotificationOutbox(db *gorm.DB) *NotificationOutbox {
	return &NotificationOutbox{
		db:            db,
		queue:         make(chan uint, 64),
		maxAttempts:   5,
		baseBackoff:   2 * time.Second,
		sweepInterval: 30 * time.Second,
	}
}

func (o *NotificationOutbox) enqueue(kind string, order *Orders) {
	notification := Notifications{
		Kind:        kind,
		OrderId:     order.OrderId,
		Status:      order.Status,
		State:       "pending",
		NextAttempt: time.Now().UTC(),
	}
	if err := o.db.Create(&notification).Error; err != nil {
		log.Printf("failed to enqueue notification: %v", err)
		return
	}
	select {
	case o.queue <- notification.ID:
	default:
		// Queue full, the sweep will get to it.
	}
}

func (o *NotificationOutbox) EnqueueOrderCreated(order *Orders) {
	o.enqueue("order_created", order)
}

func (o *NotificationOutbox) EnqueueStatusUpdate(order *Orders) {
	o.enqueue("status_update", order)
}

func (o *NotificationOutbox) Start() {
	go o.run()
}

func (o *NotificationOutbox) run() {
	ticker := time.NewTicker(o.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case id := <-o.queue:
			o.Deliver(id)
		case <-ticker.C:
			o.Sweep()
		}
	}
}

// Sweep retries every pending notification whose backoff has elapsed.
func (o *NotificationOutbox) Sweep() {
	var pending []Notifications
	err := o.db.Where("state = ? AND next_attempt <= ?", "pending", time.Now().UTC()).Find(&pending).Error
	if err != nil {
		log.Printf("outbox sweep failed: %v", err)
		return
	}
	for _, notification := range pending {
		o.Deliver(notification.ID)
	}
}

// Deliver makes a single delivery attempt and records the outcome. At-most-
// once per attempt: a notification is either delivered, rescheduled with a
// doubled backoff, or marked failed once the attempts run out.
func (o *NotificationOutbox) Deliver(id uint) {
	notification := Notifications{}
	result := o.db.First(&notification, id)
	if result.Error != nil || result.RowsAffected == 0 {
		return
	}
	if notification.State != "pending" || notification.NextAttempt.After(time.Now().UTC()) {
		return
	}

	order := Orders{}
	result = o.db.First(&order, "order_id = ?", notification.OrderId)
	if result.Error != nil || result.RowsAffected == 0 {
		// Evicted before delivery; nothing sensible left to send.
		notification.State = "failed"
		notification.LastError = "order no longer exists"
		o.db.Save(&notification)
		return
	}

	err := o.send(&notification, &order)
	notification.Attempts++
	if err == nil {
		notification.State = "delivered"
		notification.LastError = ""
	} else {
		notification.LastError = err.Error()
		if notification.Attempts >= o.maxAttempts {
			notification.State = "failed"
			log.Printf("giving up on notification %d after %d attempts: %v", notification.ID, notification.Attempts, err)
		} else {
			backoff := o.baseBackoff << (notification.Attempts - 1)
			notification.NextAttempt = time.Now().UTC().Add(backoff)
		}
	}
	if err := o.db.Save(&notification).Error; err != nil {
		log.Printf("failed to record notification outcome: %v", err)
	}
}

func (o *NotificationOutbox) send(notification *Notifications, order *Orders) error {
	if siteConfig.Shop.WebhookUrl == "" {
		return fmt.Errorf("webhook url is not configured")
	}

	var message discordwebhook.Message
	if notification.Kind == "status_update" {
		message = build_status_update_message(order)
	} else {
		message = build_new_order_message(order)
	}
	// The webhook library reports a non-2xx response as an error built from
	// the response body, which Discord sometimes leaves empty. Wrap it so the
	// stored failure reason is never blank.
	if err := discordwebhook.SendMessage(siteConfig.Shop.WebhookUrl, message); err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	return nil
}

func strptr(s string) *string { return &s }
func boolptr(b bool) *bool    { return &b }

func embed_field(name string, value string) discordwebhook.Field {
	return discordwebhook.Field{Name: strptr(name), Value: strptr(value), Inline: boolptr(true)}
}

func build_new_order_message(order *Orders) discordwebhook.Message {
	fields := []discordwebhook.Field{
		embed_field("📦 Package", order.Package),
		embed_field("💰 Price", fmt.Sprintf("$%.2f", order.Price)),
		embed_field("🆔 Order ID", "`"+order.OrderId+"`"),
		embed_field("👤 Discord", order.Discord),
		embed_field("📧 Email", order.Email),
		embed_field("🏠 Server ID", "`"+order.ServerId+"`"),
	}
	if order.Coupon != "" {
		fields = append(fields, embed_field("🎟️ Coupon", order.Coupon))
	}

	embed := discordwebhook.Embed{
		Title:  strptr("🛒 New Order Received"),
		Color:  strptr(new_order_color),
		Fields: &fields,
		Footer: &discordwebhook.Footer{Text: strptr("Driizzyy Boosts - Automated Order System")},
	}
	return discordwebhook.Message{
		Username: strptr("Driizzyy Boosts"),
		Embeds:   &[]discordwebhook.Embed{embed},
	}
}

func build_status_update_message(order *Orders) discordwebhook.Message {
	color, ok := status_colors[order.Status]
	if !ok {
		color = status_colors["pending"]
	}

	fields := []discordwebhook.Field{
		embed_field("🆔 Order ID", "`"+order.OrderId+"`"),
		embed_field("📊 Status", strings.ToUpper(order.Status)),
		embed_field("👤 Customer", order.Discord),
		embed_field("📦 Package", order.Package),
		embed_field("💰 Price", fmt.Sprintf("$%.2f", order.Price)),
		embed_field("⏰ Updated", order.LastUpdated.Format("2006-01-02 15:04:05 MST")),
	}

	embed := discordwebhook.Embed{
		Title:  strptr("📋 Order Status Update"),
		Color:  strptr(color),
		Fields: &fields,
		Footer: &discordwebhook.Footer{Text: strptr("Driizzyy Boosts - Admin Update")},
	}
	return discordwebhook.Message{
		Username: strptr("Driizzyy Boosts - Admin"),
		Embeds:   &[]discordwebhook.Embed{embed},
	}
}
