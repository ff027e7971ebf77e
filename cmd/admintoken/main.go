// Command admintoken prints an admin bearer token signed with the
// configured secret.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"ragdesk/internal/config"
	"ragdesk/internal/pkg/jwtutil"
)

func main() {
	subject := flag.String("subject", "admin", "token subject")
	ttl := flag.Duration("ttl", 0, "token lifetime (default auth.admin_jwt_expire_minute)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	expiry := *ttl
	if expiry <= 0 {
		expiry = time.Duration(cfg.Auth.AdminJWTExpireMinute) * time.Minute
	}

	token, err := jwtutil.GenerateToken(cfg.Auth.AdminJWTSecret, expiry, *subject, jwtutil.RoleAdmin)
	if err != nil {
		log.Fatalf("generate token failed: %v", err)
	}
	fmt.Println(token)
}
