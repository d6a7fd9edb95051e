package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/suryarastogi/helping-hands-sub000/pkg/config"
)

// knownSecrets are the credential names the engine looks up at run time.
var knownSecrets = []string{
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"GEMINI_API_KEY",
	"OLLAMA_HOST",
}

// handleSecretsDecryption loads encrypted credentials into memory when the
// workspace has a secrets file. Without one the engine reads credentials
// from the environment.
func handleSecretsDecryption(workspaceDir string) error {
	if !config.SecretsFileExists(workspaceDir) {
		return nil
	}

	password := os.Getenv("HANDS_PASSWORD")
	if password == "" {
		fmt.Print("Enter the workspace password: ")
		raw, err := term.ReadPassword(syscall.Stdin)
		fmt.Println() // New line after password input
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
		for i := range raw {
			raw[i] = 0
		}
	}

	secrets, err := config.DecryptSecretsFile(workspaceDir, password)
	if err != nil {
		return fmt.Errorf("failed to decrypt secrets file: %w", err)
	}
	config.SetDecryptedSecrets(secrets)
	fmt.Println("🔐 Credentials unlocked")
	return nil
}

// initSecrets interactively collects provider credentials and writes the
// encrypted secrets file into the workspace data directory.
func initSecrets(workspaceDir string) error {
	if config.SecretsFileExists(workspaceDir) {
		fmt.Println("⚠️  A secrets file already exists in this workspace. Entered credentials replace it.")
	}

	password, err := promptForPassword()
	if err != nil {
		return fmt.Errorf("failed to get password: %w", err)
	}

	scanner := bufio.NewScanner(os.Stdin)
	secrets := make(map[string]string)
	for _, name := range knownSecrets {
		fmt.Printf("Enter %s (optional, press Enter to skip): ", name)
		if scanner.Scan() {
			value := strings.TrimSpace(scanner.Text())
			if value != "" {
				secrets[name] = value
			}
		}
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no credentials entered")
	}

	fmt.Println()
	fmt.Println("🔐 Encrypting and saving credentials...")
	if err := config.EncryptSecretsFile(workspaceDir, password, secrets); err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}

	fmt.Printf("✅ Credentials saved to %s/secrets.json.enc (file permissions: 0600)\n", config.DefaultDataDir)
	return nil
}

// updateSecrets adds, replaces, or removes a single credential in the
// encrypted store without re-entering the others.
func updateSecrets(workspaceDir, set, unset string) error {
	if !config.SecretsFileExists(workspaceDir) {
		return fmt.Errorf("no secrets file in this workspace; run -secrets-init first")
	}

	password := os.Getenv("HANDS_PASSWORD")
	if password == "" {
		fmt.Print("Enter the workspace password: ")
		raw, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
		for i := range raw {
			raw[i] = 0
		}
	}

	secrets, err := config.DecryptSecretsFile(workspaceDir, password)
	if err != nil {
		return fmt.Errorf("failed to decrypt secrets file: %w", err)
	}
	config.SetDecryptedSecrets(secrets)

	if set != "" {
		name, value, ok := strings.Cut(set, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || value == "" {
			return fmt.Errorf("-secrets-set expects KEY=VALUE, got %q", set)
		}
		config.SetSecret(name, value)
		fmt.Printf("✅ Stored %s\n", name)
	}
	if unset != "" {
		config.DeleteSecret(strings.TrimSpace(unset))
		fmt.Printf("✅ Removed %s\n", strings.TrimSpace(unset))
	}

	if err := config.SaveSecretsToFile(workspaceDir, password); err != nil {
		return fmt.Errorf("failed to save secrets: %w", err)
	}
	return nil
}

// promptForPassword prompts for a password with confirmation.
func promptForPassword() (string, error) {
	maxAttempts := 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Print("Enter a password for this workspace: ")
		password1, err := term.ReadPassword(syscall.Stdin)
		fmt.Println() // New line after password input
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		fmt.Print("Confirm password: ")
		password2, err := term.ReadPassword(syscall.Stdin)
		fmt.Println() // New line after password input
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		if !bytes.Equal(password1, password2) {
			if attempt < maxAttempts {
				fmt.Println("❌ Passwords do not match. Please try again.")
				continue
			}
			return "", fmt.Errorf("passwords do not match after %d attempts", maxAttempts)
		}

		password := string(password1)

		// Clear password bytes from memory
		for i := range password1 {
			password1[i] = 0
		}
		for i := range password2 {
			password2[i] = 0
		}

		fmt.Println()
		fmt.Println("⚠️  You'll need this password for every run in this workspace.")
		fmt.Println("💡 Store it in the HANDS_PASSWORD environment variable for passwordless runs.")

		return password, nil
	}

	return "", fmt.Errorf("failed to get matching passwords")
}
