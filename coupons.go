package main

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type Coupon struct {
	Discount    float64
	Type        string // percentage or fixed
	Description string
}

var coupons = map[string]Coupon{
	"FIRST10": {Discount: 10, Type: "percentage", Description: "10% off first order"},
	"BOOST5":  {Discount: 5, Type: "percentage", Description: "5% off any boost package"},
	"WELCOME": {Discount: 2, Type: "fixed", Description: "$2 off your order"},
	"SAVE20":  {Discount: 20, Type: "percentage", Description: "20% off your order"},
}

// No coupon combination may push an order below a dollar.
const minimum_order_price = 1.00

// ApplyCoupon returns the discounted price rounded to cents. Unknown codes
// leave the price untouched and report ok = false.
func ApplyCoupon(price float64, code string) (float64, Coupon, bool) {
	coupon, ok := coupons[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return price, Coupon{}, false
	}

	discounted := price
	if coupon.Type == "percentage" {
		discounted = price * (1 - coupon.Discount/100)
	} else {
		discounted = price - coupon.Discount
	}
	if discounted < minimum_order_price {
		discounted = minimum_order_price
	}
	return math.Round(discounted*100) / 100, coupon, true
}

type ApplyCouponRequest struct {
	Code  string
	Price float64
}

// apply_coupon lets the checkout preview a discount before submitting.
func apply_coupon(c *fiber.Ctx) error {
	r := new(ApplyCouponRequest)
	if err := json.Unmarshal(c.BodyRaw(), &r); err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	if r.Price < 0 {
		c.Status(fiber.StatusBadRequest)
		return c.SendString("price cannot be negative!")
	}

	discounted, coupon, ok := ApplyCoupon(r.Price, r.Code)
	if !ok {
		c.Status(fiber.StatusBadRequest)
		return c.SendString("invalid coupon code!")
	}

	return c.JSON(fiber.Map{
		"code":        strings.ToUpper(strings.TrimSpace(r.Code)),
		"description": coupon.Description,
		"price":       fmt.Sprintf("%.2f", discounted),
	})
}
