// Command smoke exercises a running API instance end to end: health
// probe, signup, duplicate rejection and the unverified-login gate.
// It needs no mailbox access, so it is safe against any environment.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

func main() {
	base := os.Getenv("LOQUI_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(base + "/healthz")
	if err != nil {
		log.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("healthz: status %d", resp.StatusCode)
	}

	email := fmt.Sprintf("smoke-%d@example.com", rand.New(rand.NewSource(time.Now().UnixNano())).Int())
	signup := map[string]string{
		"name":             "Smoke Test",
		"email":            email,
		"password":         "Sm0ke!pass",
		"confirm_password": "Sm0ke!pass",
	}

	if code := post(client, base+"/v1/auth/signup", signup); code != http.StatusCreated {
		log.Fatalf("signup: expected 201, got %d", code)
	}
	if code := post(client, base+"/v1/auth/signup", signup); code != http.StatusConflict {
		log.Fatalf("duplicate signup: expected 409, got %d", code)
	}

	login := map[string]string{"email": email, "password": "Sm0ke!pass"}
	if code := post(client, base+"/v1/auth/login", login); code != http.StatusForbidden {
		log.Fatalf("unverified login: expected 403, got %d", code)
	}

	badLogin := map[string]string{"email": email, "password": "not-the-password"}
	if code := post(client, base+"/v1/auth/login", badLogin); code != http.StatusUnauthorized {
		log.Fatalf("wrong password: expected 401, got %d", code)
	}

	fmt.Printf("smoke test passed: %s\n", email)
}

func post(client *http.Client, url string, body any) int {
	data, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal: %v", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		log.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}
