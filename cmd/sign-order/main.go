package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/predictex/predictex/pkg/core/engine"
	"github.com/predictex/predictex/pkg/core/validate"
	"github.com/predictex/predictex/pkg/crypto"
)

// Dev helper: generates (or loads) a key, signs an order and the matching
// cancel message, and prints the JSON payloads ready to POST.
func main() {
	var (
		keyHex  = flag.String("key", "", "private key hex (empty = generate)")
		mkt     = flag.String("market", "demo-binary", "market id")
		outcome = flag.Uint("outcome", 0, "outcome index")
		side    = flag.String("side", "buy", "buy or sell")
		price   = flag.Int64("price", 600000, "price, 1e6 fixed point")
		amount  = flag.Int64("amount", 100, "quantity")
		expiry  = flag.Int64("expiry", 0, "unix seconds, 0 = none")
	)
	flag.Parse()

	var signer *crypto.Signer
	var err error
	if *keyHex != "" {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
	} else {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	salt, err := crypto.GenerateSalt()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	typed := &crypto.OrderEIP712{
		Maker:        signer.Address(),
		OutcomeIndex: new(big.Int).SetUint64(uint64(*outcome)),
		IsBuy:        *side == "buy",
		Price:        big.NewInt(*price),
		Amount:       big.NewInt(*amount),
		Salt:         new(big.Int).SetUint64(salt),
		Expiry:       big.NewInt(*expiry),
	}

	eip712 := crypto.NewEIP712Signer(crypto.DefaultDomain())
	signature, err := eip712.SignOrder(signer, typed)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}

	raw := validate.RawOrder{
		Maker:        signer.Address().Hex(),
		Market:       *mkt,
		OutcomeIndex: uint32(*outcome),
		Side:         *side,
		Price:        *price,
		Amount:       *amount,
		Salt:         salt,
		Expiry:       *expiry,
		Signature:    fmt.Sprintf("0x%x", signature),
	}

	orderJSON, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Order payload (POST /api/v1/orders):")
	fmt.Println(string(orderJSON))
	fmt.Println()

	// Sanity check the signature round trip before printing the cancel.
	valid, err := eip712.VerifyOrderSignature(typed, signature)
	if err != nil || !valid {
		fmt.Printf("Signature verification failed: valid=%v err=%v\n", valid, err)
		os.Exit(1)
	}
	fmt.Println("Signature verified.")
	fmt.Println()

	cancelSig, err := crypto.SignCancel(signer, salt)
	if err != nil {
		fmt.Printf("Error signing cancel: %v\n", err)
		os.Exit(1)
	}
	cancel := engine.CancelRequest{
		Maker:     signer.Address().Hex(),
		Salt:      salt,
		Signature: fmt.Sprintf("0x%x", cancelSig),
	}
	cancelJSON, err := json.MarshalIndent(cancel, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Cancel payload (POST /api/v1/orders/cancel):")
	fmt.Println(string(cancelJSON))
}
