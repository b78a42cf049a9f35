// accept-offer is an exec handler that accepts a trade offer on each worker
// it is given, as long as the price stays under the configured limit.
//
//	handlers:
//	  accept-offer:
//	    command: ./plugins/accept-offer/accept-offer
//	    config:
//	      max_price: 25
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/herd/internal/protocol"
)

type offerArgs struct {
	OfferID string  `json:"offer_id"`
	Price   float64 `json:"price"`
}

type handlerConfig struct {
	MaxPrice float64
	DryRun   bool
}

type acceptance struct {
	Worker   string `json:"worker"`
	Receipt  string `json:"receipt,omitempty"`
	Accepted bool   `json:"accepted"`
}

func main() {
	resp := handle(os.Stdin)
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}

func handle(r io.Reader) protocol.Response {
	var req protocol.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return errResp(fmt.Sprintf("invalid request JSON: %v", err))
	}
	if req.Protocol != protocol.Version {
		return errResp(fmt.Sprintf("unsupported protocol version %d", req.Protocol))
	}
	if !req.DeadlineAt.IsZero() && time.Now().After(req.DeadlineAt) {
		return errResp("deadline already passed")
	}

	args, err := parseArgs(req.Args)
	if err != nil {
		return errResp(err.Error())
	}
	cfg := parseConfig(req.Config)

	if cfg.MaxPrice > 0 && args.Price > cfg.MaxPrice {
		return errResp(fmt.Sprintf("offer %s: price %.2f above limit %.2f", args.OfferID, args.Price, cfg.MaxPrice))
	}
	if len(req.Workers) == 0 {
		return errResp("no workers assigned")
	}

	out := make([]acceptance, 0, len(req.Workers))
	logs := make([]protocol.LogEntry, 0, len(req.Workers))
	for _, w := range req.Workers {
		a := acceptance{Worker: w.Identity, Accepted: !cfg.DryRun}
		if !cfg.DryRun {
			a.Receipt = uuid.NewString()
		}
		out = append(out, a)
		logs = append(logs, info(fmt.Sprintf("offer %s accepted by %s (dry_run=%t)", args.OfferID, w.Identity, cfg.DryRun)))
	}

	return protocol.Response{
		Status: "ok",
		Result: map[string]any{"offer_id": args.OfferID, "acceptances": out},
		Logs:   logs,
	}
}

func parseArgs(raw any) (offerArgs, error) {
	var args offerArgs
	data, err := json.Marshal(raw)
	if err != nil {
		return args, fmt.Errorf("args: %w", err)
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return args, fmt.Errorf("args must be an object with offer_id and price: %w", err)
	}
	if strings.TrimSpace(args.OfferID) == "" {
		return args, fmt.Errorf("args.offer_id is required")
	}
	return args, nil
}

func parseConfig(cfg map[string]any) handlerConfig {
	var out handlerConfig
	if v, ok := cfg["max_price"].(float64); ok {
		out.MaxPrice = v
	}
	if v, ok := cfg["dry_run"].(bool); ok {
		out.DryRun = v
	}
	return out
}

func info(msg string) protocol.LogEntry {
	return protocol.LogEntry{Level: "info", Message: msg}
}

func errResp(msg string) protocol.Response {
	return protocol.Response{Status: "error", Error: msg}
}
