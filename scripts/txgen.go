// Command txgen drives the settlement API for smoke testing. It issues one
// operation per invocation so runs are easy to script.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

type options struct {
	op      string
	baseURL string
	party   string
	role    string

	txID     string
	sender   string
	receiver string
	itemType string
	quantity int

	receivedQty  int
	reason       string
	requestedQty int
	decision     string
	notes        string

	evidenceType string
	contentHash  string

	adjustment string
}

func main() {
	var opt options

	flag.StringVar(&opt.op, "op", "", "operation: create|confirm-sent|confirm-received|dispute|accept|resolve|evidence|trust|adjust|scan|performance")
	flag.StringVar(&opt.baseURL, "base-url", "http://localhost:8080", "API base URL")
	flag.StringVar(&opt.party, "party", "", "calling party identifier")
	flag.StringVar(&opt.role, "role", "", "calling party role")

	flag.StringVar(&opt.txID, "tx-id", "", "transaction identifier")
	flag.StringVar(&opt.sender, "sender", "acme", "sender party for create")
	flag.StringVar(&opt.receiver, "receiver", "globex", "receiver party for create")
	flag.StringVar(&opt.itemType, "item-type", "pallet", "item type for create")
	flag.IntVar(&opt.quantity, "quantity", 1, "quantity for create")

	flag.IntVar(&opt.receivedQty, "received-qty", 0, "received quantity for confirm-received; 0 means as shipped")
	flag.StringVar(&opt.reason, "reason", "NOT_RECEIVED", "dispute reason")
	flag.IntVar(&opt.requestedQty, "requested-qty", 0, "requested quantity for dispute")
	flag.StringVar(&opt.decision, "decision", "IN_FAVOR_RECEIVER", "arbitration decision: IN_FAVOR_SENDER|IN_FAVOR_RECEIVER|PARTIAL")
	flag.StringVar(&opt.notes, "notes", "", "arbitration notes")

	flag.StringVar(&opt.evidenceType, "evidence-type", "photo", "evidence type")
	flag.StringVar(&opt.contentHash, "content-hash", "", "evidence content hash")

	flag.StringVar(&opt.adjustment, "adjustment", "LATE_DELIVERY", "trust adjustment reason")
	flag.Parse()

	method, path, body, err := buildRequest(opt)
	if err != nil {
		log.Fatal(err)
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, strings.TrimRight(opt.baseURL, "/")+path, &buf)
	if err != nil {
		log.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if opt.party != "" {
		req.Header.Set("X-Party-Id", opt.party)
	}
	if opt.role != "" {
		req.Header.Set("X-Party-Role", opt.role)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s %s -> %s\n", method, path, resp.Status)
	if len(out) > 0 {
		var pretty bytes.Buffer
		if json.Indent(&pretty, out, "", "  ") == nil {
			fmt.Println(pretty.String())
		} else {
			fmt.Println(string(out))
		}
	}
}

func buildRequest(opt options) (method, path string, body interface{}, err error) {
	needTx := func() error {
		if opt.txID == "" {
			return fmt.Errorf("operation %s requires -tx-id", opt.op)
		}
		return nil
	}

	switch opt.op {
	case "create":
		req := map[string]interface{}{
			"sender":   opt.sender,
			"receiver": opt.receiver,
			"itemType": opt.itemType,
			"quantity": opt.quantity,
		}
		return http.MethodPost, "/v1/transactions", req, nil
	case "confirm-sent":
		if err := needTx(); err != nil {
			return "", "", nil, err
		}
		return http.MethodPost, "/v1/transactions/" + opt.txID + "/confirm-sent", nil, nil
	case "confirm-received":
		if err := needTx(); err != nil {
			return "", "", nil, err
		}
		var req map[string]interface{}
		if opt.receivedQty > 0 {
			req = map[string]interface{}{"receivedQty": opt.receivedQty}
		}
		return http.MethodPost, "/v1/transactions/" + opt.txID + "/confirm-received", req, nil
	case "dispute":
		if err := needTx(); err != nil {
			return "", "", nil, err
		}
		req := map[string]interface{}{"reason": opt.reason}
		if opt.requestedQty > 0 {
			req["requestedQty"] = opt.requestedQty
		}
		return http.MethodPost, "/v1/transactions/" + opt.txID + "/dispute", req, nil
	case "accept":
		if err := needTx(); err != nil {
			return "", "", nil, err
		}
		return http.MethodPost, "/v1/transactions/" + opt.txID + "/dispute/accept", nil, nil
	case "resolve":
		if err := needTx(); err != nil {
			return "", "", nil, err
		}
		req := map[string]interface{}{"decision": opt.decision}
		if opt.notes != "" {
			req["notes"] = opt.notes
		}
		return http.MethodPost, "/v1/transactions/" + opt.txID + "/dispute/resolve", req, nil
	case "evidence":
		if err := needTx(); err != nil {
			return "", "", nil, err
		}
		if opt.contentHash == "" {
			return "", "", nil, fmt.Errorf("operation evidence requires -content-hash")
		}
		req := map[string]interface{}{"type": opt.evidenceType, "contentHash": opt.contentHash}
		return http.MethodPost, "/v1/transactions/" + opt.txID + "/evidence", req, nil
	case "trust":
		if opt.party == "" {
			return "", "", nil, fmt.Errorf("operation trust requires -party")
		}
		return http.MethodGet, "/v1/parties/" + opt.party + "/trust", nil, nil
	case "adjust":
		if opt.party == "" {
			return "", "", nil, fmt.Errorf("operation adjust requires -party")
		}
		req := map[string]interface{}{"adjustment": opt.adjustment}
		return http.MethodPost, "/v1/parties/" + opt.party + "/trust/adjustments", req, nil
	case "scan":
		return http.MethodPost, "/v1/scheduler/scan", nil, nil
	case "performance":
		return http.MethodGet, "/v1/performance", nil, nil
	case "":
		return "", "", nil, fmt.Errorf("-op is required")
	default:
		return "", "", nil, fmt.Errorf("unknown operation %q", opt.op)
	}
}
