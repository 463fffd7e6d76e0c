package main

import (
	"fmt"
	"os"

	"github.com/cloudomate/coreauth/internal/crypto"
)

// keygen prints fresh secrets for local setup: the tenant database
// encryption key and a JWT secret for the HS256 internal tokens. The RS256
// signing keys are managed in the database and rotate via the key manager.
func main() {
	tenantKey, err := crypto.GenerateKey()
	if err != nil {
		fmt.Printf("Failed to generate key: %v\n", err)
		os.Exit(1)
	}

	jwtSecret, err := crypto.GenerateKey()
	if err != nil {
		fmt.Printf("Failed to generate key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("--- COPY BELOW TO .env.local ---")
	fmt.Printf("TENANT_DB_ENCRYPTION_KEY=%s\n", tenantKey)
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)
	fmt.Println("--------------------------------")
}
