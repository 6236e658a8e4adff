package main

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/bubblechat/core/internal/connection"
	"github.com/bubblechat/core/internal/model"
	"github.com/bubblechat/core/internal/session"
)

func main() {
	endpoint := getEnv("CHAT_URL", "ws://localhost:8080/ws")
	username := getEnv("CHAT_USERNAME", "")

	conn := connection.NewManager(connection.Config{})
	sess := session.NewSession(conn, username)

	conn.SetOnMessage(sess.HandleFrame)
	conn.SetOnStateChange(func(state connection.State, lastErr string) {
		switch state {
		case connection.StateConnecting:
			fmt.Println("* connecting...")
		case connection.StateConnected:
			fmt.Println("* connected")
		case connection.StateDisconnected:
			if lastErr != "" {
				fmt.Printf("* disconnected: %s\n", lastErr)
			} else {
				fmt.Println("* disconnected")
			}
		}
	})

	// The change callback fires on the receive goroutine as well as on
	// submits from this one.
	var printedMu sync.Mutex
	printed := 0
	sess.SetOnChange(func() {
		printedMu.Lock()
		defer printedMu.Unlock()

		messages := sess.Messages()
		if printed > len(messages) {
			// A failed send was rolled back.
			printed = len(messages)
			return
		}
		for ; printed < len(messages); printed++ {
			m := messages[printed]
			name := m.User
			if sess.Own(m) {
				name = "you"
			}
			fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), name, m.Text)
		}
	})

	if err := conn.Connect(endpoint); err != nil {
		if errors.Is(err, model.ErrInvalidEndpoint) {
			log.Fatalf("Invalid endpoint %q", endpoint)
		}
		fmt.Printf("* connect failed: %v (a retry is scheduled)\n", err)
	}
	defer conn.Disconnect()

	fmt.Printf("Chatting as %s. Type a message, /name <name>, /retry, or /quit.\n", sess.Username())

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "/quit":
			return
		case line == "/retry":
			if err := sess.Retry(); err != nil {
				fmt.Printf("* retry failed: %v\n", err)
			}
		case strings.HasPrefix(line, "/name "):
			sess.SetUsername(strings.TrimSpace(strings.TrimPrefix(line, "/name ")))
			fmt.Printf("* now chatting as %s\n", sess.Username())
		default:
			if err := sess.Submit(line); err != nil {
				if errors.Is(err, model.ErrNotConnected) {
					fmt.Println("* not connected; /retry to reconnect")
					continue
				}
				// Hand the undelivered text back for editing.
				fmt.Printf("* send failed, message not delivered: %s\n", line)
			}
		}
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
