// Package main is the extension-side companion tool: it registers a
// pairing session, renders the QR handshake in the terminal, polls for
// the mobile claim, and relays captured credentials.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/krypkey/krypkey/internal/client/api"
	"github.com/krypkey/krypkey/internal/client/extension"
	"github.com/krypkey/krypkey/internal/client/store"
	"github.com/krypkey/krypkey/internal/models"
	"github.com/krypkey/krypkey/internal/qr"
	"github.com/krypkey/krypkey/internal/transit"
)

var (
	version   string
	buildDate string
)

// repl runs the interactive shell loop for the pairing client.
func repl(client *extension.PollingClient) {
	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()

	for {
		fmt.Printf("extension[%s]> ", client.State())
		if !scanner.Scan() {
			break
		}
		args := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "help":
			fmt.Println("Available commands: help, pair, status, unlock, capture <title> <username> <password>, pending, flush, logout, exit")
		case "pair":
			code, err := client.StartPairing(ctx)
			if err != nil {
				fmt.Println("pairing failed:", err)
				continue
			}
			art, err := qr.RenderTerminal(code)
			if err != nil {
				fmt.Println("cannot render code:", err)
				continue
			}
			fmt.Println("Scan this code with the mobile app:")
			fmt.Println(art)
		case "status":
			fmt.Println("State:", client.State())
			if id := client.SessionID(); id != "" {
				fmt.Println("Session:", id)
			}
		case "unlock":
			if err := client.Unlock(ctx); err != nil {
				fmt.Println("unlock failed:", err)
			} else {
				fmt.Println("Unlocked")
			}
		case "capture":
			if len(args) < 4 {
				fmt.Println("Usage: capture <title> <username> <password>")
				continue
			}
			fields := models.LoginFields{Username: args[2], Password: args[3]}
			if err := client.Capture(ctx, args[1], fields, models.CategoryLogin); err != nil {
				fmt.Println("capture failed:", err)
			} else {
				fmt.Println("Captured")
			}
		case "pending":
			has, err := client.HasPending(ctx)
			if err != nil {
				fmt.Println("check failed:", err)
			} else {
				fmt.Println("Pending captures awaiting the mobile app:", has)
			}
		case "flush":
			if err := client.FlushQueue(ctx); err != nil {
				fmt.Println("flush failed:", err)
			} else {
				fmt.Println("Offline queue flushed")
			}
		case "logout":
			if err := client.Logout(ctx); err != nil {
				fmt.Println("logout failed:", err)
			} else {
				fmt.Println("Logged out")
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
		expiry    int
		showVer   bool
	)
	flag.StringVar(&baseURL, "url", "http://localhost:8080", "server base URL")
	flag.StringVar(&storePath, "store", "extension-store.json", "path to the local secure store")
	flag.StringVar(&device, "device", "Extension", "device name shown on the mobile app")
	flag.IntVar(&expiry, "expiry", 7200, "pairing session lifetime in seconds")
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	flag.Parse()

	if showVer {
		fmt.Printf("Pairing Extension\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}

	s, err := store.NewFileStore(storePath)
	if err != nil {
		fmt.Println("cannot open store:", err)
		os.Exit(1)
	}

	a := api.New(baseURL, nil)
	client := extension.New(a, s, transit.XOR{}, extension.Config{
		DeviceName:    device,
		ExpirySeconds: expiry,
	})

	repl(client)
}
