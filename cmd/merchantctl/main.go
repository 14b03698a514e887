package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/stacksgate/stacksgate/app/models"
	"github.com/stacksgate/stacksgate/app/repository"
	"github.com/stacksgate/stacksgate/internal/pkg/database"
	"github.com/stacksgate/stacksgate/internal/pkg/env"
)

// merchantctl manages merchant accounts from the command line. API keys are
// shown exactly once at creation; only their hash is stored.
func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	database.SetupDatabase()
	repository.InitializeFactory(database.GetDB())
	merchants := repository.GetGlobalFactory().GetMerchantRepository()

	switch os.Args[1] {
	case "create":
		if len(os.Args) < 4 {
			log.Fatal("usage: merchantctl create <name> <email> [webhook-url]")
		}
		webhookURL := ""
		if len(os.Args) > 4 {
			webhookURL = os.Args[4]
		}
		createMerchant(merchants, os.Args[2], os.Args[3], webhookURL)

	case "rotate-secret":
		if len(os.Args) < 3 {
			log.Fatal("usage: merchantctl rotate-secret <merchant-id>")
		}
		rotateSecret(merchants, os.Args[2])

	case "deactivate":
		if len(os.Args) < 3 {
			log.Fatal("usage: merchantctl deactivate <merchant-id>")
		}
		setActive(merchants, os.Args[2], false)

	case "activate":
		if len(os.Args) < 3 {
			log.Fatal("usage: merchantctl activate <merchant-id>")
		}
		setActive(merchants, os.Args[2], true)

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: merchantctl [command]")
	fmt.Println("Available commands:")
	fmt.Println("  create <name> <email> [webhook-url] - create a merchant")
	fmt.Println("  rotate-secret <merchant-id>         - rotate the webhook secret")
	fmt.Println("  deactivate <merchant-id>            - deactivate a merchant")
	fmt.Println("  activate <merchant-id>              - activate a merchant")
}

func createMerchant(merchants repository.MerchantRepository, name, email, webhookURL string) {
	apiKey := newAPIKey()
	secret, err := models.GenerateWebhookSecret()
	if err != nil {
		log.Fatalf("Failed to generate webhook secret: %v", err)
	}

	merchant := &models.Merchant{
		ID:            "mch_" + hex.EncodeToString(uuidBytes())[:24],
		Name:          name,
		Email:         email,
		APIKeyHash:    models.HashAPIKey(apiKey),
		WebhookURL:    webhookURL,
		WebhookSecret: secret,
		Active:        true,
	}
	if err := merchants.Create(merchant); err != nil {
		log.Fatalf("Failed to create merchant: %v", err)
	}

	fmt.Printf("Merchant created: %s\n", merchant.ID)
	fmt.Printf("API key (store this now, it is not shown again): %s\n", apiKey)
	fmt.Printf("Webhook secret: %s\n", secret)
}

func rotateSecret(merchants repository.MerchantRepository, id string) {
	merchant, err := merchants.GetByID(id)
	if err != nil {
		log.Fatalf("Merchant %s not found: %v", id, err)
	}

	secret, err := models.GenerateWebhookSecret()
	if err != nil {
		log.Fatalf("Failed to generate webhook secret: %v", err)
	}
	merchant.WebhookSecret = secret
	if err := merchants.Update(merchant); err != nil {
		log.Fatalf("Failed to update merchant: %v", err)
	}

	fmt.Printf("New webhook secret for %s: %s\n", id, secret)
}

func setActive(merchants repository.MerchantRepository, id string, active bool) {
	merchant, err := merchants.GetByID(id)
	if err != nil {
		log.Fatalf("Merchant %s not found: %v", id, err)
	}
	merchant.Active = active
	if err := merchants.Update(merchant); err != nil {
		log.Fatalf("Failed to update merchant: %v", err)
	}
	fmt.Printf("Merchant %s active=%t\n", id, active)
}

func newAPIKey() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("Failed to generate API key: %v", err)
	}
	return "sk_" + hex.EncodeToString(buf)
}

func uuidBytes() []byte {
	id := uuid.New()
	return id[:]
}
