package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	gateway := os.Getenv("VERITY_URL")
	if gateway == "" {
		gateway = "http://localhost:8080"
	}

	switch os.Args[1] {
	case "scan":
		cmdScan(gateway)
	case "trust":
		cmdTrust(gateway)
	case "products":
		cmdProducts(gateway)
	case "chain":
		cmdChain(gateway)
	case "strike":
		cmdStrike(gateway)
	case "alerts":
		cmdAlerts(gateway)
	case "resolve":
		cmdResolve(gateway)
	case "dashboard":
		cmdDashboard(gateway)
	case "version":
		fmt.Printf("verity-cli v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Verity Trust Engine CLI v` + version + `

Usage: verity <command> [flags]

Commands:
  scan       Verify a product by NFC tag or SKU
  trust      Show a product's trust breakdown
  products   List registered products
  chain      Verify a product's provenance chain
  strike     Record a counterfeit strike against a seller
  alerts     List moderation alerts
  resolve    Resolve a moderation alert
  dashboard  Show the analytics snapshot
  version    Print version
  help       Show this help

Environment:
  VERITY_URL   Engine URL (default: http://localhost:8080)

Examples:
  verity scan --tag nfc-ab12
  verity trust --product 4f7c...
  verity strike --seller seller-9
  verity resolve --alert a1b2... --actor ops`)
}

// flag parsing shared by the simple one-value commands
func argValue(names ...string) string {
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		for _, n := range names {
			if args[i] == n && i+1 < len(args) {
				return args[i+1]
			}
		}
	}
	return ""
}

// ----------------------------------------------------------------
// scan command
// ----------------------------------------------------------------

func cmdScan(gateway string) {
	tag := argValue("--tag", "-t")
	sku := argValue("--sku")
	location := argValue("--location", "-l")
	if tag == "" && sku == "" {
		fmt.Fprintln(os.Stderr, "Error: --tag or --sku is required")
		os.Exit(1)
	}
	if location == "" {
		location = "cli"
	}

	body, _ := json.Marshal(map[string]string{
		"nfcTagId": tag,
		"sku":      sku,
		"location": location,
	})
	resp, err := doRequest("POST", gateway+"/api/scan", body)
	if err != nil {
		fail(err)
	}

	var result struct {
		Product struct {
			ID         string  `json:"id"`
			Name       string  `json:"name"`
			TrustScore float64 `json:"trust_score"`
		} `json:"product"`
		ChainValid bool   `json:"chain_valid"`
		EventCount int    `json:"event_count"`
		TagHolders int    `json:"tag_holders"`
		Verdict    string `json:"verdict"`
	}
	json.Unmarshal(resp, &result)

	fmt.Printf("Product:  %s (%s)\n", result.Product.Name, result.Product.ID)
	fmt.Printf("Score:    %.1f | events=%d | chain_valid=%v | tag_holders=%d\n",
		result.Product.TrustScore, result.EventCount, result.ChainValid, result.TagHolders)
	fmt.Printf("Verdict:  %s\n", colorVerdict(result.Verdict))
}

func colorVerdict(v string) string {
	switch v {
	case "genuine":
		return color.GreenString(v)
	case "unverified":
		return color.YellowString(v)
	default:
		return color.RedString(v)
	}
}

// ----------------------------------------------------------------
// trust command
// ----------------------------------------------------------------

func cmdTrust(gateway string) {
	productID := argValue("--product", "-p")
	if productID == "" {
		fmt.Fprintln(os.Stderr, "Usage: verity trust --product <product-id>")
		os.Exit(1)
	}

	resp, err := doRequest("GET", gateway+"/api/products/"+productID+"/trust", nil)
	if err != nil {
		fail(err)
	}

	var b struct {
		Composite          float64 `json:"composite"`
		LedgerIntegrity    float64 `json:"ledger_integrity"`
		SellerTrust        float64 `json:"seller_trust"`
		TagUniqueness      float64 `json:"tag_uniqueness"`
		ReviewAuthenticity float64 `json:"review_authenticity"`
		Stale              bool    `json:"stale"`
	}
	json.Unmarshal(resp, &b)

	fmt.Printf("Composite:  %s\n", colorScore(b.Composite))
	fmt.Printf("  integrity=%s seller=%s tag=%s reviews=%s\n",
		signal(b.LedgerIntegrity), signal(b.SellerTrust),
		signal(b.TagUniqueness), signal(b.ReviewAuthenticity))
	if b.Stale {
		fmt.Println(color.YellowString("  (stale)"))
	}
}

func colorScore(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	switch {
	case v >= 70:
		return color.GreenString(s)
	case v >= 40:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

func signal(v float64) string {
	if v < 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", v)
}

// ----------------------------------------------------------------
// products command
// ----------------------------------------------------------------

func cmdProducts(gateway string) {
	resp, err := doRequest("GET", gateway+"/api/products", nil)
	if err != nil {
		fail(err)
	}

	var products []struct {
		ID         string  `json:"id"`
		SKU        string  `json:"sku"`
		Name       string  `json:"name"`
		TrustScore float64 `json:"trust_score"`
		Active     bool    `json:"active"`
	}
	json.Unmarshal(resp, &products)

	if len(products) == 0 {
		fmt.Println("No products registered")
		return
	}
	for _, p := range products {
		state := "active"
		if !p.Active {
			state = color.RedString("deactivated")
		}
		fmt.Printf("%-38s %-16s %-24s %s  %s\n", p.ID, p.SKU, p.Name, colorScore(p.TrustScore), state)
	}
}

// ----------------------------------------------------------------
// chain command
// ----------------------------------------------------------------

func cmdChain(gateway string) {
	productID := argValue("--product", "-p")
	if productID == "" {
		fmt.Fprintln(os.Stderr, "Usage: verity chain --product <product-id>")
		os.Exit(1)
	}

	resp, err := doRequest("GET", gateway+"/api/products/"+productID+"/verify", nil)
	if err != nil {
		fail(err)
	}

	var result struct {
		Valid  bool   `json:"valid"`
		Detail string `json:"detail"`
	}
	json.Unmarshal(resp, &result)

	if result.Valid {
		fmt.Println(color.GreenString("Chain valid"))
		return
	}
	fmt.Println(color.RedString("Chain INVALID"))
	if result.Detail != "" {
		fmt.Println("  " + result.Detail)
	}
	os.Exit(2)
}

// ----------------------------------------------------------------
// strike command
// ----------------------------------------------------------------

func cmdStrike(gateway string) {
	sellerID := argValue("--seller", "-s")
	if sellerID == "" {
		fmt.Fprintln(os.Stderr, "Usage: verity strike --seller <seller-id>")
		os.Exit(1)
	}

	resp, err := doRequest("POST", gateway+"/api/sellers/"+sellerID+"/strike", []byte("{}"))
	if err != nil {
		fail(err)
	}

	var result struct {
		StrikesInWindow int    `json:"strikesInWindow"`
		Status          string `json:"status"`
	}
	json.Unmarshal(resp, &result)

	fmt.Printf("Seller %s: strikes_in_window=%d status=%s\n",
		sellerID, result.StrikesInWindow, colorStatus(result.Status))
}

func colorStatus(s string) string {
	switch s {
	case "verified":
		return color.GreenString(s)
	case "rejected":
		return color.RedString(s)
	default:
		return color.YellowString(s)
	}
}

// ----------------------------------------------------------------
// alerts commands
// ----------------------------------------------------------------

func cmdAlerts(gateway string) {
	resp, err := doRequest("GET", gateway+"/api/alerts", nil)
	if err != nil {
		fail(err)
	}

	var alerts []struct {
		ID       string `json:"id"`
		Kind     string `json:"kind"`
		Severity string `json:"severity"`
		Title    string `json:"title"`
		Status   string `json:"status"`
	}
	json.Unmarshal(resp, &alerts)

	if len(alerts) == 0 {
		fmt.Println("No alerts")
		return
	}
	for _, a := range alerts {
		fmt.Printf("%-38s %-16s %-9s %-14s %s\n",
			a.ID, a.Kind, colorSeverity(a.Severity), a.Status, a.Title)
	}
}

func colorSeverity(s string) string {
	switch s {
	case "critical":
		return color.New(color.FgRed, color.Bold).Sprint(s)
	case "high":
		return color.RedString(s)
	case "medium":
		return color.YellowString(s)
	default:
		return s
	}
}

func cmdResolve(gateway string) {
	alertID := argValue("--alert", "-a")
	actor := argValue("--actor")
	if alertID == "" {
		fmt.Fprintln(os.Stderr, "Usage: verity resolve --alert <alert-id> [--actor <name>]")
		os.Exit(1)
	}
	if actor == "" {
		actor = "cli"
	}

	body, _ := json.Marshal(map[string]string{"actor": actor})
	if _, err := doRequest("POST", gateway+"/api/alerts/"+alertID+"/resolve", body); err != nil {
		fail(err)
	}
	fmt.Println(color.GreenString("Resolved ") + alertID)
}

// ----------------------------------------------------------------
// dashboard command
// ----------------------------------------------------------------

func cmdDashboard(gateway string) {
	resp, err := doRequest("GET", gateway+"/api/analytics/dashboard", nil)
	if err != nil {
		fail(err)
	}

	var d struct {
		TotalProducts    int     `json:"total_products"`
		ActiveProducts   int     `json:"active_products"`
		AverageTrust     float64 `json:"average_trust"`
		LowTrustProducts int     `json:"low_trust_products"`
		TotalSellers     int     `json:"total_sellers"`
		VerifiedSellers  int     `json:"verified_sellers"`
		FlaggedSellers   int     `json:"flagged_sellers"`
		OpenAlerts       int     `json:"open_alerts"`
		CriticalAlerts   int     `json:"critical_alerts"`
		ScansLast24h     int     `json:"scans_last_24h"`
	}
	json.Unmarshal(resp, &d)

	fmt.Printf("Products:  %d total, %d active, %d low-trust, avg score %s\n",
		d.TotalProducts, d.ActiveProducts, d.LowTrustProducts, colorScore(d.AverageTrust))
	fmt.Printf("Sellers:   %d total, %d verified, %d flagged\n",
		d.TotalSellers, d.VerifiedSellers, d.FlaggedSellers)
	fmt.Printf("Alerts:    %d open (%d critical)\n", d.OpenAlerts, d.CriticalAlerts)
	fmt.Printf("Scans:     %d in last 24h\n", d.ScansLast24h)
}

// ----------------------------------------------------------------
// HTTP plumbing
// ----------------------------------------------------------------

func doRequest(method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		json.Unmarshal(data, &e)
		if e.Error != "" {
			return nil, fmt.Errorf("%s (%d)", e.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return data, nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
	os.Exit(1)
}
