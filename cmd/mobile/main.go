// Package main is the mobile-side companion tool: it signs in, claims
// scanned pairing codes, manages the vault, and runs sync passes.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/krypkey/krypkey/internal/client/api"
	"github.com/krypkey/krypkey/internal/client/mobile"
	"github.com/krypkey/krypkey/internal/client/store"
	"github.com/krypkey/krypkey/internal/models"
	"github.com/krypkey/krypkey/internal/transit"
)

var (
	version   string
	buildDate string
)

// repl runs the interactive shell loop for the vault.
func repl(vault *mobile.Vault, device string) {
	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()

	for {
		fmt.Print("vault> ")
		if !scanner.Scan() {
			break
		}
		args := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "help":
			fmt.Println("Available commands: help, register <user> <pass>, login <user> <pass>, unlock <secret>, scan <code>, sync, list, add <title> <username> <password>, sessions, revoke <id>, delete <id>, logout, exit")
		case "register":
			if len(args) < 3 {
				fmt.Println("Usage: register <user> <pass>")
				continue
			}
			if err := vault.Register(ctx, args[1], args[2]); err != nil {
				fmt.Println("register failed:", err)
			} else {
				fmt.Println("Registered as", args[1])
			}
		case "login":
			if len(args) < 3 {
				fmt.Println("Usage: login <user> <pass>")
				continue
			}
			if err := vault.Login(ctx, args[1], args[2]); err != nil {
				fmt.Println("login failed:", err)
			} else {
				fmt.Println("Signed in as", args[1])
			}
		case "unlock":
			if len(args) < 2 {
				fmt.Println("Usage: unlock <secret>")
				continue
			}
			if err := vault.Unlock(args[1]); err != nil {
				fmt.Println("unlock failed:", err)
			} else {
				fmt.Println("Vault unlocked")
			}
		case "scan":
			if len(args) < 2 {
				fmt.Println("Usage: scan <code>")
				continue
			}
			sessionID, err := vault.ScanAndAuthenticate(ctx, args[1], device)
			if err != nil {
				fmt.Println("scan failed:", err)
			} else {
				fmt.Println("Paired session", sessionID)
			}
		case "sync":
			report, err := vault.Sync(ctx)
			if err != nil {
				fmt.Println("sync failed:", err)
				continue
			}
			fmt.Printf("Sync done: %d saved, %d skipped, %d failed\n",
				report.Saved, report.Skipped, report.Failed)
		case "list":
			creds, err := vault.Credentials(ctx)
			if err != nil {
				fmt.Println("list failed:", err)
				continue
			}
			for _, c := range creds {
				fmt.Printf("ID: %s\nTitle: %s\nCategory: %s\n---\n", c.ID, c.Title, c.Category)
			}
		case "add":
			if len(args) < 4 {
				fmt.Println("Usage: add <title> <username> <password>")
				continue
			}
			c := models.Credential{
				Title:    args[1],
				Category: models.CategoryLogin,
				Login:    &models.LoginFields{Username: args[2], Password: args[3]},
			}
			if err := vault.AddCredential(ctx, c); err != nil {
				fmt.Println("add failed:", err)
			} else {
				fmt.Println("Saved")
			}
		case "sessions":
			sessions, err := vault.Sessions(ctx, false)
			if err != nil {
				fmt.Println("sessions failed:", err)
				continue
			}
			for _, s := range sessions {
				fmt.Printf("ID: %s\nDevice: %s\nExpires: %s\n---\n",
					s.SessionID, s.DeviceName, s.ExpiresAt.Format(time.RFC3339))
			}
		case "revoke":
			if len(args) < 2 {
				fmt.Println("Usage: revoke <id>")
				continue
			}
			if err := vault.RevokeSession(ctx, args[1]); err != nil {
				fmt.Println("revoke failed:", err)
			} else {
				fmt.Println("Session revoked")
			}
		case "delete":
			if len(args) < 2 {
				fmt.Println("Usage: delete <id>")
				continue
			}
			if err := vault.DeleteCredential(ctx, args[1]); err != nil {
				fmt.Println("delete failed:", err)
			} else {
				fmt.Println("Deleted")
			}
		case "logout":
			if err := vault.Logout(); err != nil {
				fmt.Println("logout failed:", err)
			} else {
				fmt.Println("Signed out")
			}
		case "exit":
			fmt.Println("Bye")
			return
		default:
			fmt.Println("Unknown command. Type 'help' for a list of commands.")
		}
	}
}

func main() {
	var (
		baseURL   string
		storePath string
		device    string
		delay     time.Duration
		showVer   bool
	)
	flag.StringVar(&baseURL, "url", "http://localhost:8080", "server base URL")
	flag.StringVar(&storePath, "store", "vault-store.json", "path to the local secure store")
	flag.StringVar(&device, "device", "Mobile", "device name recorded on claimed sessions")
	flag.DurationVar(&delay, "sync-delay", 100*time.Millisecond, "pause between sync persists")
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	flag.Parse()

	if showVer {
		fmt.Printf("Vault Client\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}

	s, err := store.NewFileStore(storePath)
	if err != nil {
		fmt.Println("cannot open store:", err)
		os.Exit(1)
	}

	a := api.New(baseURL, nil)
	vault := mobile.NewVault(a, s, transit.XOR{}, delay)

	repl(vault, device)
}
