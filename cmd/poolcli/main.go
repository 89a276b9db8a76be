// Command poolcli is the privacy pool SDK's command-line front end:
// mnemonic/key generation, deposits, withdrawals, ragequits, and the
// brute-force commitment recovery utility, each as its own subcommand in
// the standard library's flag.NewFlagSet style.
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/ccoin/privacypool/internal/commitment"
	"github.com/ccoin/privacypool/internal/contract"
	"github.com/ccoin/privacypool/internal/field"
	"github.com/ccoin/privacypool/internal/indexer"
	"github.com/ccoin/privacypool/internal/keys"
	"github.com/ccoin/privacypool/internal/merkletree"
	"github.com/ccoin/privacypool/internal/proof"
	"github.com/ccoin/privacypool/internal/recovery"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "keys":
		err = runKeys(os.Args[2:])
	case "deposit":
		err = runDeposit(os.Args[2:])
	case "withdraw":
		err = runWithdraw(os.Args[2:])
	case "ragequit":
		err = runRagequit(os.Args[2:])
	case "recover":
		err = runRecover(os.Args[2:])
	case "sync":
		err = runSync(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "poolcli:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: poolcli <keys|deposit|withdraw|ragequit|recover|sync> [flags]")
}

// --- keys ---

func runKeys(args []string) error {
	fs := flag.NewFlagSet("keys", flag.ExitOnError)
	mnemonic := fs.String("mnemonic", "", "existing BIP-39 mnemonic; generates a fresh one if empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m := *mnemonic
	if m == "" {
		entropy, err := bip39.NewEntropy(256)
		if err != nil {
			return fmt.Errorf("generate entropy: %w", err)
		}
		m, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return fmt.Errorf("generate mnemonic: %w", err)
		}
	}

	mk, err := keys.GenerateMasterKeys(m)
	if err != nil {
		return fmt.Errorf("derive master keys: %w", err)
	}

	return printJSON(map[string]string{
		"mnemonic":        m,
		"masterNullifier": mk.MasterNullifier.ToFixedHex(),
		"masterSecret":    mk.MasterSecret.ToFixedHex(),
	})
}

// --- deposit ---

func runDeposit(args []string) error {
	fs := flag.NewFlagSet("deposit", flag.ExitOnError)
	rpcURL := fs.String("rpc", "", "JSON-RPC endpoint")
	entrypoint := fs.String("entrypoint", "", "entrypoint contract address")
	signerKey := fs.String("key", "", "hex-encoded signer private key")
	mnemonic := fs.String("mnemonic", "", "wallet mnemonic")
	scopeHex := fs.String("scope", "", "pool scope, fixed-width hex")
	amount := fs.String("amount", "", "deposit amount, base units")
	asset := fs.String("asset", "", "ERC20 asset address; omit for native")
	index := fs.Uint64("index", 0, "deposit index for key derivation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mk, err := keys.GenerateMasterKeys(*mnemonic)
	if err != nil {
		return fmt.Errorf("derive master keys: %w", err)
	}
	scope, err := field.FromFixedHex(*scopeHex)
	if err != nil {
		return fmt.Errorf("parse scope: %w", err)
	}
	nullifier, secret := mk.DepositSecrets(scope, *index)
	precommitment, err := commitment.NewPrecommitment(nullifier, secret)
	if err != nil {
		return fmt.Errorf("build precommitment: %w", err)
	}

	amountBig, ok := new(big.Int).SetString(*amount, 10)
	if !ok {
		return fmt.Errorf("malformed amount %q", *amount)
	}

	pk, fromAddr, err := loadSigner(*signerKey)
	if err != nil {
		return err
	}
	chainSigner := &cliSigner{key: pk}

	pool, err := contract.NewEthereumPoolContract(*rpcURL, common.HexToAddress(*entrypoint), fromAddr, chainSigner)
	if err != nil {
		return fmt.Errorf("build pool contract: %w", err)
	}

	ctx := context.Background()
	var txHash common.Hash
	if *asset == "" {
		txHash, err = pool.DepositNative(ctx, amountBig, precommitment.Hash)
	} else {
		txHash, err = pool.DepositAsset(ctx, common.HexToAddress(*asset), amountBig, precommitment.Hash)
	}
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	return printJSON(map[string]string{
		"txHash":            txHash.Hex(),
		"precommitmentHash": precommitment.Hash.ToFixedHex(),
		"nullifier":         nullifier.ToFixedHex(),
		"secret":            secret.ToFixedHex(),
		"label":             precommitment.Hash.ToFixedHex(),
	})
}

// --- withdraw / ragequit ---

// witnessFile is the shape of the JSON document --witness points at: the
// full set of private/public inputs a withdrawal or ragequit proof needs,
// since assembling a Lean-IMT inclusion proof requires an indexer's view
// of the tree this standalone CLI does not maintain itself.
type witnessFile struct {
	Label             string   `json:"label"`
	ExistingValue     string   `json:"existingValue"`
	ExistingNullifier string   `json:"existingNullifier"`
	ExistingSecret    string   `json:"existingSecret"`
	NewNullifier      string   `json:"newNullifier"`
	NewSecret         string   `json:"newSecret"`
	WithdrawnValue    string   `json:"withdrawnValue"`
	Context           string   `json:"context"`
	StateSiblings     []string `json:"stateSiblings"`
	StateIndex        uint64   `json:"stateIndex"`
	StateDepth        int      `json:"stateDepth"`
	StateRoot         string   `json:"stateRoot"`
	ASPSiblings       []string `json:"aspSiblings"`
	ASPIndex          uint64   `json:"aspIndex"`
	ASPDepth          int      `json:"aspDepth"`
	ASPRoot           string   `json:"aspRoot"`
}

func parseFieldSlice(vals []string) ([]field.Element, error) {
	out := make([]field.Element, len(vals))
	for i, v := range vals {
		e, err := field.FromFixedHex(v)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}

func (w *witnessFile) toWithdrawalInputs() (*proof.WithdrawalInputs, error) {
	parse := func(s string) (field.Element, error) { return field.FromFixedHex(s) }

	var err error
	assign := func(s string) field.Element {
		if err != nil {
			return field.Element{}
		}
		var v field.Element
		v, err = parse(s)
		return v
	}

	label := assign(w.Label)
	existingValue := assign(w.ExistingValue)
	existingNullifier := assign(w.ExistingNullifier)
	existingSecret := assign(w.ExistingSecret)
	newNullifier := assign(w.NewNullifier)
	newSecret := assign(w.NewSecret)
	withdrawnValue := assign(w.WithdrawnValue)
	ctxVal := assign(w.Context)
	stateRoot := assign(w.StateRoot)
	aspRoot := assign(w.ASPRoot)
	if err != nil {
		return nil, err
	}

	stateSiblings, err := parseFieldSlice(w.StateSiblings)
	if err != nil {
		return nil, fmt.Errorf("state siblings: %w", err)
	}
	aspSiblings, err := parseFieldSlice(w.ASPSiblings)
	if err != nil {
		return nil, fmt.Errorf("asp siblings: %w", err)
	}

	return &proof.WithdrawalInputs{
		Label:             label,
		ExistingValue:     existingValue,
		ExistingNullifier: existingNullifier,
		ExistingSecret:    existingSecret,
		NewNullifier:      newNullifier,
		NewSecret:         newSecret,
		WithdrawnValue:    withdrawnValue,
		Context:           ctxVal,
		StateProof: &merkletree.InclusionProof{
			Siblings:    stateSiblings,
			Index:       int(w.StateIndex),
			ActualDepth: w.StateDepth,
		},
		StateRoot: stateRoot,
		ASPProof: &merkletree.InclusionProof{
			Siblings:    aspSiblings,
			Index:       int(w.ASPIndex),
			ActualDepth: w.ASPDepth,
		},
		ASPRoot: aspRoot,
	}, nil
}

func runWithdraw(args []string) error {
	fs := flag.NewFlagSet("withdraw", flag.ExitOnError)
	rpcURL := fs.String("rpc", "", "JSON-RPC endpoint")
	entrypoint := fs.String("entrypoint", "", "entrypoint contract address")
	signerKey := fs.String("key", "", "hex-encoded signer private key")
	recipient := fs.String("recipient", "", "withdrawal processooor address")
	witnessPath := fs.String("witness", "", "path to a witness JSON document")
	dataHex := fs.String("data", "", "hex-encoded withdrawal data payload")
	if err := fs.Parse(args); err != nil {
		return err
	}

	raw, err := os.ReadFile(*witnessPath)
	if err != nil {
		return fmt.Errorf("read witness file: %w", err)
	}
	var wf witnessFile
	if err := json.Unmarshal(raw, &wf); err != nil {
		return fmt.Errorf("parse witness file: %w", err)
	}
	inputs, err := wf.toWithdrawalInputs()
	if err != nil {
		return fmt.Errorf("decode witness: %w", err)
	}

	manager, err := proof.NewManager()
	if err != nil {
		return fmt.Errorf("build proof manager: %w", err)
	}
	gproof, err := manager.ProveWithdrawal(inputs)
	if err != nil {
		return fmt.Errorf("prove withdrawal: %w", err)
	}
	encoded, err := contract.EncodeWithdrawalProof(gproof)
	if err != nil {
		return err
	}

	data, err := hexDecode(*dataHex)
	if err != nil {
		return fmt.Errorf("decode data: %w", err)
	}

	pk, fromAddr, err := loadSigner(*signerKey)
	if err != nil {
		return err
	}
	pool, err := contract.NewEthereumPoolContract(*rpcURL, common.HexToAddress(*entrypoint), fromAddr, &cliSigner{key: pk})
	if err != nil {
		return fmt.Errorf("build pool contract: %w", err)
	}

	txHash, err := pool.Withdraw(context.Background(), contract.Withdrawal{
		Processooor: common.HexToAddress(*recipient),
		Data:        data,
	}, encoded)
	if err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}

	return printJSON(map[string]string{"txHash": txHash.Hex()})
}

func runRagequit(args []string) error {
	fs := flag.NewFlagSet("ragequit", flag.ExitOnError)
	rpcURL := fs.String("rpc", "", "JSON-RPC endpoint")
	entrypoint := fs.String("entrypoint", "", "entrypoint contract address")
	signerKey := fs.String("key", "", "hex-encoded signer private key")
	value := fs.String("value", "", "commitment value, base units")
	label := fs.String("label", "", "commitment label, fixed-width hex")
	nullifier := fs.String("nullifier", "", "commitment nullifier, fixed-width hex")
	secret := fs.String("secret", "", "commitment secret, fixed-width hex")
	if err := fs.Parse(args); err != nil {
		return err
	}

	valueBig, ok := new(big.Int).SetString(*value, 10)
	if !ok {
		return fmt.Errorf("malformed value %q", *value)
	}
	labelElem, err := field.FromFixedHex(*label)
	if err != nil {
		return fmt.Errorf("parse label: %w", err)
	}
	nullifierElem, err := field.FromFixedHex(*nullifier)
	if err != nil {
		return fmt.Errorf("parse nullifier: %w", err)
	}
	secretElem, err := field.FromFixedHex(*secret)
	if err != nil {
		return fmt.Errorf("parse secret: %w", err)
	}

	manager, err := proof.NewManager()
	if err != nil {
		return fmt.Errorf("build proof manager: %w", err)
	}
	gproof, err := manager.ProveRagequit(&proof.RagequitInputs{
		Value:     field.FromBigInt(valueBig),
		Label:     labelElem,
		Nullifier: nullifierElem,
		Secret:    secretElem,
	})
	if err != nil {
		return fmt.Errorf("prove ragequit: %w", err)
	}
	encoded, err := contract.EncodeRagequitProof(gproof)
	if err != nil {
		return err
	}

	pk, fromAddr, err := loadSigner(*signerKey)
	if err != nil {
		return err
	}
	pool, err := contract.NewEthereumPoolContract(*rpcURL, common.HexToAddress(*entrypoint), fromAddr, &cliSigner{key: pk})
	if err != nil {
		return fmt.Errorf("build pool contract: %w", err)
	}

	txHash, err := pool.Ragequit(context.Background(), encoded)
	if err != nil {
		return fmt.Errorf("ragequit: %w", err)
	}
	return printJSON(map[string]string{"txHash": txHash.Hex()})
}

// --- recover ---

func runRecover(args []string) error {
	fs := flag.NewFlagSet("recover", flag.ExitOnError)
	label := fs.String("label", "", "commitment label, fixed-width hex")
	precommitment := fs.String("precommitment", "", "precommitment hash, fixed-width hex")
	target := fs.String("commitment", "", "known commitment hash to explain, fixed-width hex")
	min := fs.String("min", "0", "minimum candidate value, decimal base units")
	max := fs.String("max", "", "maximum candidate value, decimal base units")
	step := fs.String("step", "1", "step between candidate values, decimal base units")
	timeout := fs.Duration("timeout", 60*time.Second, "search timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	labelElem, err := field.FromFixedHex(*label)
	if err != nil {
		return fmt.Errorf("parse label: %w", err)
	}
	precommitmentElem, err := field.FromFixedHex(*precommitment)
	if err != nil {
		return fmt.Errorf("parse precommitment: %w", err)
	}
	targetElem, err := field.FromFixedHex(*target)
	if err != nil {
		return fmt.Errorf("parse commitment: %w", err)
	}

	minBig, ok := new(big.Int).SetString(*min, 10)
	if !ok {
		return fmt.Errorf("malformed min %q", *min)
	}
	maxBig, ok := new(big.Int).SetString(*max, 10)
	if !ok {
		return fmt.Errorf("malformed max %q", *max)
	}
	stepBig, ok := new(big.Int).SetString(*step, 10)
	if !ok {
		return fmt.Errorf("malformed step %q", *step)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	res, err := recovery.Search(ctx, recovery.Target{
		Label:             labelElem,
		PrecommitmentHash: precommitmentElem,
		CommitmentHash:    targetElem,
	}, recovery.Range{Min: minBig, Max: maxBig, Step: stepBig})
	if err != nil {
		return err
	}

	return printJSON(map[string]string{"value": res.Value.ToFixedHex()})
}

// --- sync ---

// runSync drives internal/indexer's Postgres-backed mirror through one
// Sync pass against a live chain: a long-lived
// wallet process runs this on a timer instead of rebuilding its inclusion
// proofs from a full chain rescan on every withdrawal.
func runSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	rpcURL := fs.String("rpc", "", "JSON-RPC endpoint")
	pool := fs.String("pool", "", "pool contract address")
	pgHost := fs.String("pg-host", "localhost", "Postgres host")
	pgPort := fs.Int("pg-port", 5432, "Postgres port")
	pgUser := fs.String("pg-user", "privacypool", "Postgres user")
	pgPassword := fs.String("pg-password", "", "Postgres password")
	pgDatabase := fs.String("pg-database", "privacypool_index", "Postgres database")
	confirmations := fs.Uint64("confirmations", 12, "blocks to hold back from the chain tip before indexing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()

	store, err := indexer.NewStore(ctx, &indexer.Config{
		Host:     *pgHost,
		Port:     *pgPort,
		User:     *pgUser,
		Password: *pgPassword,
		Database: *pgDatabase,
		SSLMode:  "disable",
		MaxConns: 5,
	})
	if err != nil {
		return fmt.Errorf("open indexer store: %w", err)
	}
	defer store.Close()

	source, err := indexer.NewEthereumLogSource(*rpcURL)
	if err != nil {
		return fmt.Errorf("open log source: %w", err)
	}

	mirror := indexer.NewMirror(store, source)
	poolAddr := common.HexToAddress(*pool)

	if err := mirror.Bootstrap(ctx, poolAddr); err != nil {
		return fmt.Errorf("bootstrap mirror: %w", err)
	}
	if err := mirror.Sync(ctx, poolAddr, *confirmations); err != nil {
		return fmt.Errorf("sync mirror: %w", err)
	}

	stateRoot, err := mirror.StateRoot(ctx, poolAddr)
	if err != nil {
		return fmt.Errorf("read state root: %w", err)
	}
	aspRoot, err := mirror.ASPRoot(ctx)
	if err != nil {
		return fmt.Errorf("read asp root: %w", err)
	}

	return printJSON(map[string]string{
		"stateRoot": stateRoot.ToFixedHex(),
		"aspRoot":   aspRoot.ToFixedHex(),
	})
}

// --- shared helpers ---

func loadSigner(hexKey string) (*ecdsa.PrivateKey, common.Address, error) {
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("parse signer key: %w", err)
	}
	return pk, crypto.PubkeyToAddress(pk.PublicKey), nil
}

type cliSigner struct {
	key *ecdsa.PrivateKey
}

func (s *cliSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	chainID := tx.ChainId()
	if chainID == nil || chainID.Sign() == 0 {
		return types.SignTx(tx, types.HomesteadSigner{}, s.key)
	}
	return types.SignTx(tx, types.NewEIP155Signer(chainID), s.key)
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
