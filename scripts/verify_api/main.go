package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
)

type LoginResponse struct {
	Token string `json:"token"`
}

func main() {
	apiAddr := "http://localhost:8081"

	// 1. Login
	reqBody, _ := json.Marshal(map[string]string{"user_id": "test_user", "username": "Test User", "role": "editor"})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Token: %s...\n", loginResp.Token[:10])

	// 2. Fetch workspace projections
	for _, path := range []string{"/workspaces/demo/attributions", "/workspaces/demo/versions", "/workspaces/demo/users"} {
		req, _ := http.NewRequest("GET", apiAddr+path, nil)
		req.Header.Add("Authorization", "Bearer "+loginResp.Token)

		resp, err = http.DefaultClient.Do(req)
		if err != nil {
			log.Fatalf("Request %s failed: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		log.Printf("%s: %s", path, string(body))
	}
}
