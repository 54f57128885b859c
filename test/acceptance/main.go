package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Runs against a server started with `ingredient-matcher serve` and the
// Frida reference dataset loaded.

type MCPRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type CallToolParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

type MatchNameArgs struct {
	Text        string `json:"text"`
	CatalogKind string `json:"catalog_kind,omitempty"`
	TopK        int    `json:"top_k,omitempty"`
}

type Candidate struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Tier       string `json:"tier"`
	Confidence int    `json:"confidence"`
}

type MatchNameResponse struct {
	Normalized string      `json:"normalized"`
	Candidates []Candidate `json:"candidates"`
}

// TestQuery is an ingredient line and the match it should produce. An empty
// WantTier accepts any tier.
type TestQuery struct {
	Text     string
	WantName string
	WantTier string
}

var (
	serverURL   = getEnv("MATCHER_URL", "http://localhost:8080")
	maxDuration = 1 * time.Second
	testRuns    = 5
)

var queries = []TestQuery{
	{Text: "2 gulerødder", WantName: "Gulerod"},
	{Text: "100 g mandler", WantName: "Mandel"},
	{Text: "1 dl piskefløde", WantName: "Fløde"},
}

func main() {
	fmt.Printf("🧪 Ingredient matcher acceptance test against %s\n\n", serverURL)

	fmt.Printf("1. Testing health endpoint...\n")
	if err := testHealth(); err != nil {
		fail("Health check failed: %v", err)
	}
	fmt.Printf("✅ Health check passed\n\n")

	fmt.Printf("2. Testing MCP initialize...\n")
	if err := testInitialize(); err != nil {
		fail("Initialize failed: %v", err)
	}
	fmt.Printf("✅ Server answered initialize\n\n")

	fmt.Printf("3. Testing match_name (%d runs per query, limit %v)...\n", testRuns, maxDuration)
	var total, slowest time.Duration
	for _, q := range queries {
		for i := 1; i <= testRuns; i++ {
			start := time.Now()
			res, err := matchName(q.Text, i)
			if err != nil {
				fail("%q run %d failed: %v", q.Text, i, err)
			}
			d := time.Since(start)
			total += d
			slowest = max(slowest, d)

			if err := validate(q, res); err != nil {
				fail("%q run %d: %v", q.Text, i, err)
			}
			if d > maxDuration {
				fail("%q run %d took %v, limit is %v", q.Text, i, d, maxDuration)
			}
		}
		fmt.Printf("   ✓ %q\n", q.Text)
	}

	runs := time.Duration(len(queries) * testRuns)
	fmt.Printf("\n📊 Performance Summary:\n")
	fmt.Printf("   Calls: %d\n", runs)
	fmt.Printf("   Average: %v\n", total/runs)
	fmt.Printf("   Max: %v\n", slowest)
	fmt.Printf("\n🎉 ALL TESTS PASSED!\n")
}

func fail(format string, args ...any) {
	fmt.Printf("❌ "+format+"\n", args...)
	os.Exit(1)
}

func testHealth() error {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("expected status 200, got %d: %s", resp.StatusCode, body)
	}
	return nil
}

func testInitialize() error {
	body, err := post(MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": "2025-06-18",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]string{"name": "acceptance", "version": "1.0.0"},
		},
	})
	if err != nil {
		return err
	}
	if !strings.Contains(string(body), "serverInfo") {
		return fmt.Errorf("response doesn't contain an initialize result: %s", body)
	}
	return nil
}

func matchName(text string, id int) (*MatchNameResponse, error) {
	body, err := post(MCPRequest{
		JSONRPC: "2.0",
		ID:      id + 1,
		Method:  "tools/call",
		Params: CallToolParams{
			Name:      "match_name",
			Arguments: MatchNameArgs{Text: text, TopK: 3},
		},
	})
	if err != nil {
		return nil, err
	}

	var rpc struct {
		Result struct {
			IsError bool `json:"isError"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &rpc); err != nil {
		return nil, fmt.Errorf("failed to parse MCP response JSON: %w", err)
	}
	if rpc.Error != nil {
		return nil, fmt.Errorf("rpc error: %s", rpc.Error.Message)
	}
	if len(rpc.Result.Content) == 0 {
		return nil, fmt.Errorf("MCP response missing content")
	}
	if rpc.Result.IsError {
		return nil, fmt.Errorf("tool error: %s", rpc.Result.Content[0].Text)
	}

	var res MatchNameResponse
	if err := json.Unmarshal([]byte(rpc.Result.Content[0].Text), &res); err != nil {
		return nil, fmt.Errorf("failed to parse match_name result: %w", err)
	}
	return &res, nil
}

func validate(q TestQuery, res *MatchNameResponse) error {
	if len(res.Candidates) == 0 {
		return fmt.Errorf("no candidates (normalized %q)", res.Normalized)
	}
	best := res.Candidates[0]
	if !strings.Contains(best.Name, q.WantName) {
		return fmt.Errorf("expected %q in best candidate, got %q", q.WantName, best.Name)
	}
	if q.WantTier != "" && best.Tier != q.WantTier {
		return fmt.Errorf("expected tier %s, got %s (%s)", q.WantTier, best.Tier, best.Name)
	}
	for i := 1; i < len(res.Candidates); i++ {
		if res.Candidates[i].Confidence > res.Candidates[i-1].Confidence {
			return fmt.Errorf("candidates not ordered by confidence")
		}
	}
	return nil
}

func post(req MCPRequest) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, serverURL+"/mcp", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expected status 200, got %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
