package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/mahaj/schemahub/pkg/attribution"
	"github.com/mahaj/schemahub/pkg/collab"
	"github.com/mahaj/schemahub/pkg/document"
	"github.com/mahaj/schemahub/pkg/model"
	"github.com/mahaj/schemahub/pkg/protocol"
	"github.com/mahaj/schemahub/pkg/snowflake"
)

type LoginResponse struct {
	Token string `json:"token"`
}

func login(apiAddr, userID, username, role string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{
		"user_id":  userID,
		"username": username,
		"role":     role,
	})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}

	return loginResp.Token, nil
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	username := flag.String("name", "", "display name (defaults to user id)")
	role := flag.String("role", "editor", "workspace role (owner/admin/editor/viewer)")
	workspaceID := flag.String("workspace", "demo", "workspace id")
	flag.Parse()

	if *username == "" {
		*username = *userID
	}

	// 1. Login to get token
	log.Printf("Logging in as %s (%s)...", *userID, *role)
	token, err := login(*apiAddr, *userID, *username, *role)
	if err != nil {
		log.Fatal("Login failed:", err)
	}

	// 2. Connect the collaboration session
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	buffer := document.NewBuffer("")

	session, err := collab.Connect(context.Background(), collab.Config{
		URL:         u.String(),
		WorkspaceID: *workspaceID,
		Token:       token,
		Surface:     buffer,
		OnState: func(st collab.ConnState) {
			fmt.Printf("\n[connection: %s]\n> ", st)
		},
		OnPresence: func(users []model.CollaborativeUser) {
			names := make([]string, 0, len(users))
			for _, u := range users {
				names = append(names, fmt.Sprintf("%s(%s,%s)", u.Username, u.Role, u.Status))
			}
			fmt.Printf("\n[here: %s]\n> ", strings.Join(names, " "))
		},
		OnTyping: func(names []string) {
			if line := collab.FormatTyping(names); line != "" {
				fmt.Printf("\n[%s]\n> ", line)
			}
		},
		OnChat: func(messages []model.ChatMessage) {
			if len(messages) == 0 {
				return
			}
			m := messages[len(messages)-1]
			tag := ""
			if m.IsPromoted {
				tag = " [intent]"
			}
			fmt.Printf("\n[chat %d] %s: %s%s\n> ", m.ID, m.SenderName, m.Content, tag)
		},
		OnLabels: func(labels []attribution.Label) {
			for _, l := range labels {
				fmt.Printf("\n[%s @ line %d] %s at %s\n> ",
					l.BlockID, l.Line, l.Text, snowflake.TimeOf(l.UpdatedAt).Format("15:04:05"))
			}
		},
		OnCursor: func(c protocol.Cursor) {
			fmt.Printf("\n[%s cursor %d:%d]\n> ", c.Username, c.Line, c.Col)
		},
		OnError: func(err error) {
			fmt.Printf("\n[session error: %v]\n", err)
		},
	})
	if err != nil {
		log.Fatal("Join failed:", err)
	}
	defer session.Close()

	fmt.Printf("Joined %s as %s (role=%s, canEdit=%v)\n", *workspaceID, session.Username(), session.Role(), session.CanEdit())
	fmt.Println("Commands: /set <line> <text>  /commit <type:name> <start> <end>  /save [note]  /promote <id>  /status <s>  /doc  (anything else is chat)")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		session.Close()
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := scanner.Text()
		handleLine(session, buffer, line)
		fmt.Print("> ")
	}
}

// handleLine interprets one console command against the session.
func handleLine(session *collab.Session, buffer *document.Buffer, line string) {
	switch {
	case strings.HasPrefix(line, "/set "):
		parts := strings.SplitN(strings.TrimPrefix(line, "/set "), " ", 2)
		if len(parts) != 2 {
			fmt.Println("usage: /set <line> <text>")
			return
		}
		n, err := strconv.Atoi(parts[0])
		if err != nil || n < 1 {
			fmt.Println("bad line number")
			return
		}
		for buffer.LineCount() < n {
			end := buffer.LineCount()
			col := len(buffer.Lines()[end-1]) + 1
			buffer.ApplyEdits([]protocol.Edit{{
				Range: protocol.Range{StartLine: end, StartCol: col, EndLine: end, EndCol: col},
				Text:  "\n",
			}})
		}
		width := len(buffer.Lines()[n-1]) + 1
		edit := protocol.Edit{
			Range: protocol.Range{StartLine: n, StartCol: 1, EndLine: n, EndCol: width},
			Text:  parts[1],
		}
		buffer.ApplyEdits([]protocol.Edit{edit})
		session.Keystroke()
		session.SendChange([]protocol.Edit{edit}, buffer.Content())

	case strings.HasPrefix(line, "/commit "):
		parts := strings.Fields(strings.TrimPrefix(line, "/commit "))
		if len(parts) != 3 {
			fmt.Println("usage: /commit <type:name> <start> <end>")
			return
		}
		start, err1 := strconv.Atoi(parts[1])
		end, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil {
			fmt.Println("bad line numbers")
			return
		}
		session.CommitAttribution(parts[0], start, end)

	case strings.HasPrefix(line, "/save"):
		note := strings.TrimSpace(strings.TrimPrefix(line, "/save"))
		session.SaveVersion(buffer.Content(), note)

	case strings.HasPrefix(line, "/promote "):
		id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "/promote ")), 10, 64)
		if err != nil {
			fmt.Println("bad message id")
			return
		}
		if err := session.PromoteMessage(id); err != nil {
			fmt.Printf("promote failed: %v\n", err)
		}

	case strings.HasPrefix(line, "/status "):
		session.SetStatus(model.UserStatus(strings.TrimPrefix(line, "/status ")))

	case line == "/doc":
		for i, l := range buffer.Lines() {
			fmt.Printf("%3d| %s\n", i+1, l)
		}

	case line != "":
		session.SendChat(line)
	}
}
