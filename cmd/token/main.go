// Package main mints operator tokens for the protected video routes.
//
//	go run ./cmd/token -operator ops@example.com -role editor
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/aura-vod/backend/config"
	"github.com/aura-vod/backend/internal/auth"
)

func main() {
	operator := flag.String("operator", "", "token subject, e.g. an email address")
	role := flag.String("role", auth.RoleEditor, "operator role: admin or editor")
	hours := flag.Int("hours", 0, "validity in hours (default JWT_EXPIRE_HOURS)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if cfg.JWT.Secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
		os.Exit(1)
	}
	expire := cfg.JWT.ExpireHours
	if *hours > 0 {
		expire = *hours
	}

	token, err := auth.NewJWTService(cfg.JWT.Secret, expire).Generate(*operator, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
