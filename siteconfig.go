package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2"
)

//go:embed config/site.json
var defaultSiteJson []byte

type BoostPackage struct {
	Name           string  `json:"name"`
	Boosts         int     `json:"boosts"`
	DurationMonths int     `json:"duration_months"`
	Price          float64 `json:"price"`
}

type SiteConfig struct {
	Shop struct {
		WebhookUrl    string `json:"webhook_url"`
		TicketChannel string `json:"ticket_channel"`
	} `json:"shop"`
	Packages []BoostPackage `json:"packages"`
	Business struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Discord string `json:"discord"`
	} `json:"business"`
}

var siteConfig SiteConfig

// LoadSiteConfig starts from the embedded defaults, overlays an optional
// config file and lets WEBHOOK_URL override the shop webhook. The server
// still starts without a webhook url; orders then persist but notifications
// are recorded as failed.
func LoadSiteConfig(path string) error {
	if err := json.Unmarshal(defaultSiteJson, &siteConfig); err != nil {
		return fmt.Errorf("failed to parse embedded site config: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read site config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &siteConfig); err != nil {
			return fmt.Errorf("failed to parse site config %s: %w", path, err)
		}
	}

	if url := os.Getenv("WEBHOOK_URL"); url != "" {
		siteConfig.Shop.WebhookUrl = url
	}
	return nil
}

func FindPackage(name string) (*BoostPackage, bool) {
	for i := range siteConfig.Packages {
		if siteConfig.Packages[i].Name == name {
			return &siteConfig.Packages[i], true
		}
	}
	return nil, false
}

// get_site_info serves the public catalog. The webhook url never leaves the
// server.
func get_site_info(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"shop": fiber.Map{
			"ticket_channel": siteConfig.Shop.TicketChannel,
		},
		"packages": siteConfig.Packages,
		"business": siteConfig.Business,
	})
}
