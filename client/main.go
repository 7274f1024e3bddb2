// A terminal chat client for manual testing: log in, connect to the gateway,
// and talk in a room. /room switches rooms, /quit exits.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huddleapp/huddle/pkg/model"
)

type loginResponse struct {
	Token string `json:"token"`
	Room  string `json:"room"`
}

type outFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Room    string `json:"room,omitempty"`
}

type inFrame struct {
	Type     string          `json:"type"`
	Message  *model.Message  `json:"message,omitempty"`
	Messages []model.Message `json:"messages,omitempty"`
	Room     string          `json:"room,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func login(apiAddr, userID, displayName string) (loginResponse, error) {
	reqBody, _ := json.Marshal(map[string]string{
		"user_id":      userID,
		"display_name": displayName,
	})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return loginResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return loginResponse{}, fmt.Errorf("login failed: %s", string(body))
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return loginResponse{}, err
	}
	return lr, nil
}

func render(m model.Message) {
	fmt.Printf("\r[%s] %s: %s\n> ", m.CreatedAt.Local().Format("15:04"), m.UserName, m.Content)
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	name := flag.String("name", "", "display name (defaults to user id)")
	roomKey := flag.String("room", "", "room to join (defaults to your last room)")
	flag.Parse()

	displayName := *name
	if displayName == "" {
		displayName = *userID
	}

	log.Printf("Logging in as %s...", *userID)
	lr, err := login(*apiAddr, *userID, displayName)
	if err != nil {
		log.Fatal("Login failed: ", err)
	}

	joinRoom := *roomKey
	if joinRoom == "" {
		joinRoom = lr.Room
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	q := u.Query()
	q.Set("room", joinRoom)
	u.RawQuery = q.Encode()
	log.Printf("connecting to %s", u.String())

	header := http.Header{}
	header.Add("Authorization", "Bearer "+lr.Token)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial: ", err)
	}
	defer c.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}

			var frame inFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				log.Printf("Received raw: %s", raw)
				continue
			}

			switch frame.Type {
			case "history":
				fmt.Printf("\r--- %s (%d messages) ---\n> ", frame.Room, len(frame.Messages))
				for _, m := range frame.Messages {
					render(m)
				}
			case "message":
				if frame.Message != nil {
					render(*frame.Message)
				}
			case "error":
				fmt.Printf("\r! %s\n> ", frame.Error)
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			if text == "" {
				fmt.Print("> ")
				continue
			}

			if text == "/quit" {
				close(interrupt)
				break
			}

			frame := outFrame{Type: "message", Content: text}
			if next, ok := strings.CutPrefix(text, "/room "); ok {
				frame = outFrame{Type: "join", Room: strings.TrimSpace(next)}
			}

			payload, _ := json.Marshal(frame)
			if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Println("write:", err)
				break
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("interrupt")

			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("write close:", err)
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
