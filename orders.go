package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// The storefront only keeps the most recent orders around, oldest evicted
// first. Matches the original cap so tracking links stay valid long enough.
const max_stored_orders = 50

var valid_order_statuses = []string{"pending", "processing", "completed", "cancelled"}

const order_id_alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var email_pattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type OrderStore struct {
	db *gorm.DB
}

func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db}
}

// generate_order_id builds ids of the form DB-<last 6 digits of unix
// millis><6 random alnum>.
func generate_order_id() string {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = order_id_alphabet[rand.Intn(len(order_id_alphabet))]
	}
	return "DB-" + timestamp[len(timestamp)-6:] + string(suffix)
}

// CreateOrder assigns an order id and the pending status, persists the order
// and evicts the oldest entries beyond the cap. The id is rerolled if it is
// already taken; the timestamp suffix makes that close to impossible, but the
// store is the last line of defence for the unique index.
func (s *OrderStore) CreateOrder(order *Orders) error {
	if order.ServerId == "" {
		order.ServerId = "Not provided"
	}
	order.Status = "pending"
	order.Timestamp = time.Now().UTC()
	order.LastUpdated = order.Timestamp

	for attempt := 0; ; attempt++ {
		id := generate_order_id()
		var count int64
		if err := s.db.Model(&Orders{}).Where("order_id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			order.OrderId = id
			break
		}
		if attempt >= 4 {
			return fmt.Errorf("could not allocate an order id")
		}
	}

	if err := s.db.Create(order).Error; err != nil {
		return err
	}
	return s.evict_oldest()
}

func (s *OrderStore) evict_oldest() error {
	var count int64
	if err := s.db.Model(&Orders{}).Count(&count).Error; err != nil {
		return err
	}
	if count <= max_stored_orders {
		return nil
	}
	var victims []Orders
	if err := s.db.Order("id asc").Limit(int(count - max_stored_orders)).Find(&victims).Error; err != nil {
		return err
	}
	for _, victim := range victims {
		if err := s.db.Unscoped().Delete(&victim).Error; err != nil {
			return err
		}
	}
	return nil
}

// FindOrder resolves a tracking query the way the site always has: exact
// order id first, then case-insensitive substring on the Discord handle,
// then case-insensitive email match.
func (s *OrderStore) FindOrder(query string) (*Orders, bool) {
	order := Orders{}
	result := s.db.First(&order, "order_id = ?", query)
	if result.Error == nil && result.RowsAffected > 0 {
		return &order, true
	}

	needle := strings.ToLower(query)
	result = s.db.Where("lower(discord) LIKE ?", "%"+needle+"%").Order("id asc").First(&order)
	if result.Error == nil && result.RowsAffected > 0 {
		return &order, true
	}

	result = s.db.Where("lower(email) = ?", needle).Order("id asc").First(&order)
	if result.Error == nil && result.RowsAffected > 0 {
		return &order, true
	}
	return nil, false
}

// CustomerOrders assembles a customer's full history: every order placed with
// the same Discord handle or the same email.
func (s *OrderStore) CustomerOrders(discord string, email string) ([]Orders, error) {
	var list []Orders
	err := s.db.Where("discord = ? OR email = ?", discord, email).Order("id asc").Find(&list).Error
	return list, err
}

// UpdateOrderStatus is a no-op on the store when the order id is unknown; the
// caller decides how to report that.
func (s *OrderStore) UpdateOrderStatus(orderId string, status string) (*Orders, bool) {
	order := Orders{}
	result := s.db.First(&order, "order_id = ?", orderId)
	if result.Error != nil || result.RowsAffected == 0 {
		return nil, false
	}
	order.Status = status
	order.LastUpdated = time.Now().UTC()
	if err := s.db.Save(&order).Error; err != nil {
		log.Printf("failed to save order status: %v", err)
		return nil, false
	}
	return &order, true
}

func (s *OrderStore) AllOrders() ([]Orders, error) {
	var list []Orders
	err := s.db.Order("id desc").Find(&list).Error
	return list, err
}

type OrderStats struct {
	TotalOrders int64   `json:"totalOrders"`
	Revenue     float64 `json:"revenue"`
	Pending     int64   `json:"pending"`
	Processing  int64   `json:"processing"`
	Completed   int64   `json:"completed"`
	Cancelled   int64   `json:"cancelled"`
}

func (s *OrderStore) Stats() (OrderStats, error) {
	stats := OrderStats{}
	if err := s.db.Model(&Orders{}).Count(&stats.TotalOrders).Error; err != nil {
		return stats, err
	}
	row := s.db.Model(&Orders{}).Select("COALESCE(SUM(price), 0)").Row()
	if err := row.Scan(&stats.Revenue); err != nil {
		return stats, err
	}
	for status, target := range map[string]*int64{
		"pending":    &stats.Pending,
		"processing": &stats.Processing,
		"completed":  &stats.Completed,
		"cancelled":  &stats.Cancelled,
	} {
		if err := s.db.Model(&Orders{}).Where("status = ?", status).Count(target).Error; err != nil {
			return stats, err
		}
	}
	return stats, nil
}

type CreateOrderRequest struct {
	Package  string
	Price    float64
	Discord  string
	Email    string
	ServerId string
	Coupon   string
}

func create_order(c *fiber.Ctx) error {
	r := new(CreateOrderRequest)
	if err := json.Unmarshal(c.BodyRaw(), &r); err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	if r.Package == "" || r.Discord == "" || r.Email == "" {
		c.Status(fiber.StatusBadRequest)
		return c.SendString("please enter your package, Discord username and email address!")
	}
	if !email_pattern.MatchString(r.Email) {
		c.Status(fiber.StatusBadRequest)
		return c.SendString("please enter a valid email address!")
	}
	if r.Price < 0 {
		c.Status(fiber.StatusBadRequest)
		return c.SendString("price cannot be negative!")
	}

	// The catalog owns the price for packages it knows about. The price on
	// the request is only trusted for custom packages the catalog has never
	// heard of.
	price := r.Price
	if boostPackage, known := FindPackage(r.Package); known {
		price = boostPackage.Price
	} else if price == 0 {
		c.Status(fiber.StatusBadRequest)
		return c.SendString("unknown package!")
	}
	coupon := ""
	if r.Coupon != "" {
		discounted, _, ok := ApplyCoupon(price, r.Coupon)
		if !ok {
			c.Status(fiber.StatusBadRequest)
			return c.SendString("invalid coupon code!")
		}
		price = discounted
		coupon = strings.ToUpper(strings.TrimSpace(r.Coupon))
	}

	order := Orders{
		Package:  r.Package,
		Price:    price,
		Discord:  r.Discord,
		Email:    r.Email,
		ServerId: r.ServerId,
		Coupon:   coupon,
	}
	if err := orders.CreateOrder(&order); err != nil {
		log.Printf("failed to create order: %v", err)
		c.Status(fiber.StatusInternalServerError)
		return c.SendString("failed to create order, please try again or contact support!")
	}

	// Delivery is the outbox worker's problem; the order is placed either way.
	outbox.EnqueueOrderCreated(&order)

	return c.JSON(fiber.Map{
		"orderId":        order.OrderId,
		"status":         order.Status,
		"price":          order.Price,
		"ticket_channel": siteConfig.Shop.TicketChannel,
	})
}

type TrackingStep struct {
	Id        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	Active    bool   `json:"active"`
}

func tracking_steps(status string) []TrackingStep {
	steps := []TrackingStep{
		{Id: "received", Title: "Order Received"},
		{Id: "payment", Title: "Payment Confirmed"},
		{Id: "processing", Title: "Boosting in Progress"},
		{Id: "completed", Title: "Completed"},
	}
	switch status {
	case "pending":
		steps[0].Completed = true
		steps[1].Active = true
	case "processing":
		steps[0].Completed = true
		steps[1].Completed = true
		steps[2].Active = true
	case "completed":
		for i := range steps {
			steps[i].Completed = true
		}
	case "cancelled":
		steps[0].Completed = true
	}
	return steps
}

func tracking_eta(status string) string {
	switch status {
	case "completed":
		return "Delivered"
	case "cancelled":
		return "Cancelled"
	default:
		return "2-3 minutes"
	}
}

func track_order(c *fiber.Ctx) error {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		c.Status(fiber.StatusBadRequest)
		return c.SendString("please enter an order id, Discord username or email!")
	}

	order, found := orders.FindOrder(query)
	if !found {
		c.Status(fiber.StatusNotFound)
		return c.SendString("order not found!")
	}

	return c.JSON(fiber.Map{
		"orderId":     order.OrderId,
		"package":     order.Package,
		"price":       order.Price,
		"discord":     order.Discord,
		"email":       order.Email,
		"serverId":    order.ServerId,
		"status":      order.Status,
		"timestamp":   order.Timestamp,
		"lastUpdated": order.LastUpdated,
		"eta":         tracking_eta(order.Status),
		"steps":       tracking_steps(order.Status),
	})
}

type UpdateOrderStatusRequest struct {
	OrderId string
	Status  string
}

func admin_update_status(c *fiber.Ctx) error {
	if err := CheckIfTokenHasPermission(c, "update_orders"); err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	r := new(UpdateOrderStatusRequest)
	if err := json.Unmarshal(c.BodyRaw(), &r); err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	valid := false
	for _, status := range valid_order_statuses {
		if r.Status == status {
			valid = true
			break
		}
	}
	if !valid {
		c.Status(fiber.StatusBadRequest)
		return c.SendString("unknown order status!")
	}

	order, found := orders.UpdateOrderStatus(r.OrderId, r.Status)
	if !found {
		c.Status(fiber.StatusNotFound)
		return c.SendString("order does not exist!")
	}

	outbox.EnqueueStatusUpdate(order)

	return c.JSON(fiber.Map{
		"orderId":     order.OrderId,
		"status":      order.Status,
		"lastUpdated": order.LastUpdated,
	})
}

func admin_list_orders(c *fiber.Ctx) error {
	if err := CheckIfTokenHasPermission(c, "view_all_orders"); err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	list, err := orders.AllOrders()
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	status := c.Query("status")
	search := strings.ToLower(c.Query("search"))
	filtered := make([]Orders, 0, len(list))
	for _, order := range list {
		if status != "" && order.Status != status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(order.OrderId), search) &&
			!strings.Contains(strings.ToLower(order.Discord), search) &&
			!strings.Contains(strings.ToLower(order.Email), search) {
			continue
		}
		filtered = append(filtered, order)
	}
	return c.JSON(filtered)
}

func admin_stats(c *fiber.Ctx) error {
	if err := CheckIfTokenHasPermission(c, "view_all_orders"); err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	stats, err := orders.Stats()
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	list, err := orders.AllOrders()
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	if len(list) > 10 {
		list = list[:10]
	}

	return c.JSON(fiber.Map{
		"stats":          stats,
		"recentActivity": list,
	})
}
