package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func set_test_webhook(t *testing.T, url string) {
	t.Helper()
	previous := siteConfig.Shop.WebhookUrl
	siteConfig.Shop.WebhookUrl = url
	t.Cleanup(func() { siteConfig.Shop.WebhookUrl = previous })
}

func last_notification(t *testing.T, outbox *NotificationOutbox) Notifications {
	t.Helper()
	notification := Notifications{}
	require.NoError(t, outbox.db.Order("id desc").First(&notification).Error)
	return notification
}

func TestDeliverOrderCreated(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()
	set_test_webhook(t, server.URL)

	gdb := test_database(t)
	ob := NewNotificationOutbox(gdb)

	order := Orders{OrderId: "DB-123456ABCDEF", Package: "14x Boosts (1 Month)", Price: 6.00, Discord: "Foo#1234", Email: "foo@bar.com", ServerId: "Not provided", Status: "pending", Coupon: "WELCOME"}
	require.NoError(t, gdb.Create(&order).Error)

	ob.EnqueueOrderCreated(&order)
	notification := last_notification(t, ob)
	assert.Equal(t, "pending", notification.State)

	ob.Deliver(notification.ID)

	notification = last_notification(t, ob)
	assert.Equal(t, "delivered", notification.State)
	assert.Equal(t, uint(1), notification.Attempts)
	assert.Empty(t, notification.LastError)

	payload := string(body)
	assert.Contains(t, payload, "New Order Received")
	assert.Contains(t, payload, "DB-123456ABCDEF")
	assert.Contains(t, payload, "Driizzyy Boosts")
	assert.Contains(t, payload, "WELCOME")
	assert.Contains(t, payload, "$6.00")
}

func TestDeliverRetriesWithBackoffThenFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	set_test_webhook(t, server.URL)

	gdb := test_database(t)
	ob := NewNotificationOutbox(gdb)

	order := Orders{OrderId: "DB-111111AAAAAA", Package: "p", Price: 2, Discord: "A#1", Email: "a@b.com", Status: "processing"}
	require.NoError(t, gdb.Create(&order).Error)

	ob.EnqueueStatusUpdate(&order)
	notification := last_notification(t, ob)

	ob.Deliver(notification.ID)
	notification = last_notification(t, ob)
	assert.Equal(t, "pending", notification.State)
	assert.Equal(t, uint(1), notification.Attempts)
	// Discord's error body can be empty, the stored reason must not be.
	assert.NotEmpty(t, notification.LastError)
	assert.Contains(t, notification.LastError, "webhook post failed")
	assert.True(t, notification.NextAttempt.After(time.Now().UTC()), "backoff should push the next attempt into the future")

	// Delivery respects the backoff window.
	ob.Deliver(notification.ID)
	assert.Equal(t, uint(1), last_notification(t, ob).Attempts)

	// Force the clock forward until the attempts run out.
	for i := uint(1); i < ob.maxAttempts; i++ {
		require.NoError(t, gdb.Model(&Notifications{}).Where("id = ?", notification.ID).
			Update("next_attempt", time.Now().UTC().Add(-time.Second)).Error)
		ob.Deliver(notification.ID)
	}

	notification = last_notification(t, ob)
	assert.Equal(t, "failed", notification.State)
	assert.Equal(t, ob.maxAttempts, notification.Attempts)
}

func TestDeliverWithoutWebhookConfigured(t *testing.T) {
	set_test_webhook(t, "")

	gdb := test_database(t)
	ob := NewNotificationOutbox(gdb)

	order := Orders{OrderId: "DB-222222BBBBBB", Package: "p", Price: 2, Discord: "A#1", Email: "a@b.com", Status: "pending"}
	require.NoError(t, gdb.Create(&order).Error)

	ob.EnqueueOrderCreated(&order)
	notification := last_notification(t, ob)
	ob.Deliver(notification.ID)

	notification = last_notification(t, ob)
	assert.Equal(t, "pending", notification.State)
	assert.Contains(t, notification.LastError, "not configured")
}

func TestDeliverMissingOrderFailsTerminally(t *testing.T) {
	set_test_webhook(t, "http://localhost:0/unused")

	gdb := test_database(t)
	ob := NewNotificationOutbox(gdb)

	notification := Notifications{Kind: "order_created", OrderId: "DB-333333CCCCCC", Status: "pending", State: "pending", NextAttempt: time.Now().UTC()}
	require.NoError(t, gdb.Create(&notification).Error)

	ob.Deliver(notification.ID)

	notification = last_notification(t, ob)
	assert.Equal(t, "failed", notification.State)
	assert.Contains(t, notification.LastError, "no longer exists")
}

func TestSweepRetriesDuePending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	set_test_webhook(t, server.URL)

	gdb := test_database(t)
	ob := NewNotificationOutbox(gdb)

	order := Orders{OrderId: "DB-444444DDDDDD", Package: "p", Price: 2, Discord: "A#1", Email: "a@b.com", Status: "completed"}
	require.NoError(t, gdb.Create(&order).Error)

	notification := Notifications{Kind: "status_update", OrderId: order.OrderId, Status: order.Status, State: "pending", Attempts: 2, NextAttempt: time.Now().UTC().Add(-time.Second)}
	require.NoError(t, gdb.Create(&notification).Error)

	ob.Sweep()

	notification = last_notification(t, ob)
	assert.Equal(t, "delivered", notification.State)
	assert.Equal(t, uint(3), notification.Attempts)
}

func TestStatusUpdateMessageShape(t *testing.T) {
	order := Orders{OrderId: "DB-555555EEEEEE", Package: "14x Boosts", Price: 8, Discord: "Foo#1234", Status: "completed", LastUpdated: time.Now().UTC()}

	message := build_status_update_message(&order)
	require.NotNil(t, message.Username)
	assert.Equal(t, "Driizzyy Boosts - Admin", *message.Username)

	require.NotNil(t, message.Embeds)
	require.Len(t, *message.Embeds, 1)
	embed := (*message.Embeds)[0]
	assert.Equal(t, "📋 Order Status Update", *embed.Title)
	assert.Equal(t, status_colors["completed"], *embed.Color)
	require.NotNil(t, embed.Fields)
	assert.Len(t, *embed.Fields, 6)
	assert.Equal(t, "COMPLETED", *(*embed.Fields)[1].Value)
}

func TestNewOrderMessageUsesUnknownStatusFallback(t *testing.T) {
	order := Orders{OrderId: "DB-666666FFFFFF", Package: "p", Price: 2, Discord: "A#1", Status: "weird", LastUpdated: time.Now().UTC()}
	message := build_status_update_message(&order)
	embed := (*message.Embeds)[0]
	assert.Equal(t, status_colors["pending"], *embed.Color)
}
