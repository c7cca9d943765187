package main

import (
	"fmt"
	"time"

	"echo-civic-assistant/backend/pkg/jwt"

	"github.com/spf13/cobra"
)

var (
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development JWT",
	Long: `Mint a JWT for --user signed with JWT_SECRET. Use it as a Bearer
token or as ?token= on the WebSocket URL.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(jwt.RoleCitizen), "Role claim (citizen or admin)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}

func mintToken(secret string) (string, error) {
	role := jwt.Role(tokenRole)
	if role != jwt.RoleCitizen && role != jwt.RoleAdmin {
		return "", fmt.Errorf("unknown role %q", tokenRole)
	}
	return jwt.NewService(secret, tokenTTL).GenerateToken(userID, role)
}

func runToken(cmd *cobra.Command, args []string) error {
	token, err := mintToken(loadConfig().JWT.Secret)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
