// Command issue-token prints a bearer token for the content API write routes.
//
//	JWT_SECRET=... issue-token --editor maria --ttl 24h
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/juju/gnuflag"

	"github.com/01moynul/edu-content-api/internal/auth"
	"github.com/01moynul/edu-content-api/internal/config"
)

func main() {
	var (
		editor string
		ttl    time.Duration
	)
	f := gnuflag.NewFlagSet("issue-token", gnuflag.ExitOnError)
	f.StringVar(&editor, "editor", "", "name of the editor the token is issued to")
	f.DurationVar(&ttl, "ttl", 72*time.Hour, "token lifetime")
	if err := f.Parse(true, os.Args[1:]); err != nil {
		log.Fatal(err)
	}

	config.LoadDotEnv()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET environment variable is not set.")
	}
	if editor == "" {
		log.Fatal("--editor is required")
	}

	token, err := auth.GenerateToken([]byte(secret), editor, ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
