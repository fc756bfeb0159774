// Command build-order builds a submit_order call, signs it when a key is
// given, prints it, and optionally posts it to a running node together
// with the devnet deposit that admits it.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/uhyunpark/hyperdex/pkg/api"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperdex/pkg/crypto"
)

func main() {
	var (
		apiURL  = flag.String("api", "http://localhost:8080", "node API base URL")
		owner   = flag.String("owner", "", "owner address (hex); ignored with -key")
		keyHex  = flag.String("key", "", "owner private key (hex); signs the call")
		genKey  = flag.Bool("gen-key", false, "generate a fresh key and sign with it")
		pairID  = flag.Uint64("pair", 1, "trading pair id")
		side    = flag.String("side", "buy", "buy or sell")
		typ     = flag.String("type", "limit", "limit or market")
		qty     = flag.Int64("qty", 0, "base quantity (quote for a market buy), raw units")
		price   = flag.Int64("price", 0, "limit price in quote raw units")
		extID   = flag.String("external-id", "", "client order id")
		submit  = flag.Bool("submit", false, "post the call to the node")
		deposit = flag.Bool("deposit", false, "after submitting, send the reserve through the devnet transfer route")
	)
	flag.Parse()

	var signer *crypto.Signer
	switch {
	case *genKey:
		k, err := crypto.GenerateKey()
		if err != nil {
			fail("%v", err)
		}
		signer = k
		fmt.Printf("Address: %s\n", k.Address().Hex())
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", k.PrivateKeyHex())
	case *keyHex != "":
		k, err := crypto.FromPrivateKeyHex(*keyHex)
		if err != nil {
			fail("%v", err)
		}
		signer = k
	case !common.IsHexAddress(*owner):
		fail("owner must be a hex address, got %q", *owner)
	}
	s, err := orderbook.ParseSide(*side)
	if err != nil {
		fail("%v", err)
	}
	t, err := orderbook.ParseOrderType(*typ)
	if err != nil {
		fail("%v", err)
	}
	addr := common.HexToAddress(*owner)
	if signer != nil {
		addr = signer.Address()
	}

	order := transaction.SubmitOrder{
		Owner:      addr,
		PairID:     *pairID,
		Side:       s,
		Type:       t,
		Quantity:   *qty,
		Price:      *price,
		ExternalID: *extID,
	}
	call, err := transaction.New(uuid.NewString(), transaction.TypeSubmitOrder, []common.Address{addr}, order)
	if err != nil {
		fail("build call: %v", err)
	}
	if err := call.Validate(); err != nil {
		fail("%v", err)
	}
	req := api.SubmitCallRequest{ID: call.ID, Type: call.Type, Signers: call.Signers, Payload: call.Payload}
	if signer != nil {
		sig, err := signer.SignCallHex(call)
		if err != nil {
			fail("sign: %v", err)
		}
		req.Signatures = []string{sig}
		req.Signers = nil
	}

	callJSON, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		fail("marshal call: %v", err)
	}
	fmt.Println("Call (JSON):")
	fmt.Println(string(callJSON))
	fmt.Println()

	if !*submit {
		fmt.Println("To submit this order:")
		fmt.Printf("  POST %s/api/v1/calls\n", *apiURL)
		fmt.Println("  Content-Type: application/json")
		fmt.Printf("  X-Account: %s\n", addr.Hex())
		fmt.Println("Then transfer the reserve shown by")
		fmt.Printf("  GET %s/api/v1/accounts/%s/queued\n", *apiURL, addr.Hex())
		return
	}

	var resp api.SubmitCallResponse
	if err := post(*apiURL+"/api/v1/calls", req, &resp); err != nil {
		fail("submit: %v", err)
	}
	fmt.Printf("Submitted call %s\n", resp.CallID)

	if !*deposit {
		return
	}
	// The queued order appears once the next block is finalized.
	var queued []api.QueuedInfo
	if err := get(fmt.Sprintf("%s/api/v1/accounts/%s/queued", *apiURL, addr.Hex()), &queued); err != nil {
		fail("queued: %v", err)
	}
	for _, q := range queued {
		if q.PairID != *pairID {
			continue
		}
		transfer := api.DevTransferRequest{
			From:   addr,
			To:     common.HexToAddress(q.DepositTo),
			Denom:  q.Denom,
			Amount: q.Deposit,
			Memo:   "order:" + q.ExternalID,
		}
		if err := post(*apiURL+"/api/v1/dev/transfers", transfer, nil); err != nil {
			fail("deposit: %v", err)
		}
		fmt.Printf("Deposited %s %s to %s\n", q.Deposit, q.Denom.Symbol, q.DepositTo)
		return
	}
	fmt.Println("Order not staged yet; retry the deposit after the next block")
}

func post(url string, body, out interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	res, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	return readResponse(res, out)
}

func get(url string, out interface{}) error {
	res, err := http.Get(url)
	if err != nil {
		return err
	}
	return readResponse(res, out)
}

func readResponse(res *http.Response, out interface{}) error {
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", res.Status, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(b, out)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
