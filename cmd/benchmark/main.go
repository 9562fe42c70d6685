// Command benchmark replays signed Paystack charge webhooks against a running
// paycore server and reports how many deliveries were accepted.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	baseURL    string
	secret     string
	senders    int
	duration   time.Duration
	delivery   string
	references int
)

// Delivery outcomes, updated atomically by the senders.
var (
	delivered uint64
	accepted  uint64
	badSig    uint64
	failed    uint64
)

func init() {
	flag.StringVar(&baseURL, "url", "http://localhost:8080", "paycore base URL")
	flag.StringVar(&secret, "secret", os.Getenv("PAYSTACK_SECRET_KEY"), "Paystack secret used to sign deliveries")
	flag.IntVar(&senders, "senders", 10, "concurrent webhook senders")
	flag.DurationVar(&duration, "duration", 30*time.Second, "how long to send for")
	flag.StringVar(&delivery, "delivery", "unique", "unique | redeliver")
	flag.IntVar(&references, "references", 100, "distinct payment references to send events for")
}

func main() {
	flag.Parse()
	if delivery != "unique" && delivery != "redeliver" {
		log.Fatalf("unknown -delivery %q", delivery)
	}
	log.Printf("sending %s webhooks with %d senders for %s", delivery, senders, duration)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			send(start)
		}()
	}
	wg.Wait()

	if err := report(time.Since(start)); err != nil {
		log.Fatal(err)
	}
}

func send(start time.Time) {
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		id, reference := nextEvent()
		body, _ := json.Marshal(map[string]any{
			"event": "charge.success",
			"data": map[string]any{
				"id":        id,
				"reference": reference,
				"status":    "success",
				"amount":    10000,
				"currency":  "NGN",
			},
		})

		req, _ := http.NewRequest(http.MethodPost, baseURL+"/webhooks/paystack", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Paystack-Signature", sign(body))

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failed, 1)
			continue
		}
		resp.Body.Close()

		atomic.AddUint64(&delivered, 1)
		switch resp.StatusCode {
		case http.StatusOK:
			atomic.AddUint64(&accepted, 1)
		case http.StatusUnauthorized:
			atomic.AddUint64(&badSig, 1)
		default:
			atomic.AddUint64(&failed, 1)
		}
	}
}

func sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// nextEvent picks a reference and an event id. In redeliver mode nine in ten
// events reuse the reference's fixed id, so the server sees retries.
func nextEvent() (int64, string) {
	n := rand.Intn(references) + 1
	reference := fmt.Sprintf("bench-ref-%d", n)
	if delivery == "redeliver" && rand.Float32() < 0.90 {
		return int64(n), reference
	}
	return time.Now().UnixNano(), reference
}

type summary struct {
	Delivery      string  `json:"delivery"`
	Seconds       float64 `json:"seconds"`
	Delivered     uint64  `json:"delivered"`
	PerSecond     float64 `json:"per_second"`
	Accepted      uint64  `json:"accepted"`
	BadSignature  uint64  `json:"bad_signature"`
	BadSigPercent float64 `json:"bad_signature_pct"`
	Failed        uint64  `json:"failed"`
}

func report(d time.Duration) error {
	s := summary{
		Delivery:     delivery,
		Seconds:      d.Seconds(),
		Delivered:    atomic.LoadUint64(&delivered),
		Accepted:     atomic.LoadUint64(&accepted),
		BadSignature: atomic.LoadUint64(&badSig),
		Failed:       atomic.LoadUint64(&failed),
	}
	s.PerSecond = float64(s.Delivered) / s.Seconds
	if s.Delivered > 0 {
		s.BadSigPercent = float64(s.BadSignature) / float64(s.Delivered) * 100
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return err
	}

	f, err := os.Create(fmt.Sprintf("webhooks_%s.json", delivery))
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(s)
}
