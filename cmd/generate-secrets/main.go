package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santosh227/airline-booking-service/internal/utils"
	"github.com/santosh227/airline-booking-service/pkg/jwt"
)

func main() {
	devToken := flag.Bool("dev-token", false, "also print a signed access token for local testing")
	userID := flag.String("user-id", "", "user id for the dev token (random when empty)")
	roles := flag.String("roles", "", "comma separated roles for the dev token, e.g. admin")
	flag.Parse()

	fmt.Println("===========================================")
	fmt.Println("Secret Generator for Airline Booking Service")
	fmt.Println("===========================================")
	fmt.Println()

	jwtSecret, err := utils.GenerateSecret(32)
	if err != nil {
		log.Fatalf("Failed to generate JWT secret: %v", err)
	}
	webhookSecret, err := utils.GenerateSecret(32)
	if err != nil {
		log.Fatalf("Failed to generate webhook secret: %v", err)
	}
	apiKey, err := utils.GenerateSecret(24)
	if err != nil {
		log.Fatalf("Failed to generate internal API key: %v", err)
	}
	apiKeyHash, err := utils.HashAPIKey(apiKey)
	if err != nil {
		log.Fatalf("Failed to hash internal API key: %v", err)
	}

	fmt.Println("✅ Secrets generated successfully!")
	fmt.Println()
	fmt.Println("Add these to your .env file:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)
	fmt.Printf("PAYMENT_WEBHOOK_SECRET=%s\n", webhookSecret)
	fmt.Printf("INTERNAL_API_KEY_HASH=%s\n", apiKeyHash)
	fmt.Println()
	fmt.Println("Give this key to services calling /api/v1/inventory (X-API-Key header):")
	fmt.Printf("INVENTORY_API_KEY=%s\n", apiKey)

	if *devToken {
		id := uuid.New()
		if *userID != "" {
			parsed, err := uuid.Parse(*userID)
			if err != nil {
				log.Fatalf("Invalid -user-id: %v", err)
			}
			id = parsed
		}

		var roleList []string
		for _, r := range strings.Split(*roles, ",") {
			if r = strings.TrimSpace(r); r != "" {
				roleList = append(roleList, r)
			}
		}

		token, err := jwt.NewService(jwtSecret, 24*time.Hour).GenerateAccessToken(id, "", roleList)
		if err != nil {
			log.Fatalf("Failed to sign dev token: %v", err)
		}
		fmt.Println()
		fmt.Printf("Dev token for user %s (valid 24h, signed with the JWT_SECRET above):\n", id)
		fmt.Println(token)
	}

	fmt.Println()
	fmt.Println("⚠️  IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
