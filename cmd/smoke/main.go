package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"norruva.org/internal/demo"
	"norruva.org/internal/domain"
)

// smoke drives generated passports through submit, approve and recycle
// against a running API started with the demo directory.
func main() {
	log.SetFlags(0)
	var (
		base  = flag.String("addr", envOr("NORRUVA_API_URL", "http://localhost:8080"), "API base URL")
		count = flag.Int("n", 5, "passports to create")
		seed  = flag.Int64("seed", 0, "generator seed (0 = time based)")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c := &client{base: *base, http: &http.Client{Timeout: 10 * time.Second}}
	scenario := demo.DefaultScenario()
	supplier := c.login(ctx, mustUser(scenario, domain.RoleSupplier))
	auditor := c.login(ctx, mustUser(scenario, domain.RoleAuditor))
	recycler := c.login(ctx, mustUser(scenario, domain.RoleRecycler))
	c.admin = c.login(ctx, mustUser(scenario, domain.RoleAdmin))

	gen := demo.NewGenerator(*seed)
	var counter demo.Counter
	start := time.Now()
	for i := 0; i < *count; i++ {
		var p domain.Product
		c.call(ctx, supplier, http.MethodPost, "/v1/products", gen.NextProduct(), &p)
		c.await(ctx, p.ID, func(p domain.Product) bool { return !p.IsProcessing })
		c.call(ctx, supplier, http.MethodPost, "/v1/products/"+p.ID+"/submit", nil, nil)
		c.call(ctx, auditor, http.MethodPost, "/v1/products/"+p.ID+"/approve", nil, nil)
		final := c.await(ctx, p.ID, func(p domain.Product) bool { return !p.IsMinting })
		counter.Add(final.Status == domain.StatusPublished)
		if final.Status == domain.StatusPublished {
			c.call(ctx, recycler, http.MethodPost, "/v1/products/"+p.ID+"/recycle", nil, nil)
		}
	}

	var credits struct {
		Balance int64 `json:"balance"`
	}
	c.call(ctx, recycler, http.MethodGet, "/v1/credits", nil, &credits)
	counter.Credits = credits.Balance

	if counter.Published != *count {
		log.Fatalf("smoke failed: %d of %d passports published", counter.Published, counter.Created)
	}
	fmt.Printf("smoke passed: %d passports published (%.0f%%), recycler balance %d, %s\n",
		counter.Published, counter.PublishRate()*100, counter.Credits, time.Since(start).Round(time.Millisecond))
}

type client struct {
	base  string
	http  *http.Client
	admin string
}

func (c *client) login(ctx context.Context, userID string) string {
	var out struct {
		Token string `json:"token"`
	}
	c.call(ctx, "", http.MethodPost, "/v1/auth/token", map[string]string{"userId": userID}, &out)
	return out.Token
}

func (c *client) call(ctx context.Context, token, method, path string, body, out any) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatalf("%s %s: encode: %v", method, path, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&e)
		log.Fatalf("%s %s: %s %v", method, path, resp.Status, e)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

// await polls id with the admin token until done holds; drafts are
// invisible to guests.
func (c *client) await(ctx context.Context, id string, done func(domain.Product) bool) domain.Product {
	for {
		var p domain.Product
		c.call(ctx, c.admin, http.MethodGet, "/v1/products/"+id, nil, &p)
		if done(p) {
			return p
		}
		select {
		case <-ctx.Done():
			log.Fatalf("timed out waiting for %s", id)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func mustUser(s demo.Scenario, role domain.Role) string {
	u, ok := s.UserWithRole(role)
	if !ok {
		log.Fatalf("scenario has no %s", role)
	}
	return u.ID
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
