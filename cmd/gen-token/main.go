// Command gen-token prints HS256 bearer tokens accepted by the board service
// when it runs with AUTH0_TEST_MODE=1.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func rootCmd() *cobra.Command {
	var (
		count  int
		prefix string
		ttl    time.Duration
		output string
	)
	cmd := &cobra.Command{
		Use:   "gen-token [user-id]",
		Short: "Print bearer tokens for a board service running in test mode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("TEST_JWT_SECRET")
			if secret == "" {
				return errors.New("TEST_JWT_SECRET must be set")
			}
			if count < 1 {
				return errors.New("count must be at least 1")
			}
			if len(args) > 0 && count > 1 {
				return errors.New("explicit user ID cannot be combined with --count")
			}

			claims := tokenClaims{
				audience: os.Getenv("AUTH0_AUDIENCE"),
				issuer:   issuerFor(os.Getenv("AUTH0_DOMAIN")),
				ttl:      ttl,
			}
			tokens := make([]string, count)
			for i := range tokens {
				userID := prefix
				switch {
				case len(args) > 0:
					userID = args[0]
				case count > 1:
					userID = fmt.Sprintf("%s-%d", prefix, i+1)
				}
				tok, err := signToken([]byte(secret), userID, claims, time.Now())
				if err != nil {
					return fmt.Errorf("sign token: %w", err)
				}
				tokens[i] = tok
			}

			if output != "" {
				if err := writeTokens(output, tokens); err != nil {
					return fmt.Errorf("write tokens: %w", err)
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), tokens[0])
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of tokens to generate")
	cmd.Flags().StringVar(&prefix, "prefix", "board-user", "user ID prefix when count > 1")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write the tokens to as a JSON array")
	return cmd
}

type tokenClaims struct {
	audience string
	issuer   string
	ttl      time.Duration
}

func issuerFor(domain string) string {
	if domain == "" {
		return ""
	}
	return "https://" + domain + "/"
}

func signToken(secret []byte, userID string, c tokenClaims, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(c.ttl).Unix(),
	}
	if c.audience != "" {
		claims["aud"] = c.audience
	}
	if c.issuer != "" {
		claims["iss"] = c.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
