// Command relayerd is the privacy pool relayer daemon: it loads a chain
// configuration document, dials one Ethereum JSON-RPC endpoint per
// configured chain, and serves the four-route relayer HTTP surface over
// go-chi. Shape follows the flag-parse -> banner -> signal-context ->
// run(ctx, cfg) -> os.Exit(1) pattern the rest of this module's daemons
// use.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/ccoin/privacypool/internal/artifacts"
	"github.com/ccoin/privacypool/internal/contract"
	"github.com/ccoin/privacypool/internal/proof"
	"github.com/ccoin/privacypool/internal/relayer"
	"github.com/ccoin/privacypool/internal/relayer/feequote"
	"github.com/ccoin/privacypool/internal/relayer/store"
	"github.com/ccoin/privacypool/internal/relayermesh"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "relayer.config.json", "path to the relayer configuration document")
	listenAddr := flag.String("listen", ":8787", "HTTP listen address")
	artifactsBackend := flag.String("artifacts-backend", "filesystem", "circuit artifact backend: filesystem|network")
	artifactsBase := flag.String("artifacts-base", "./artifacts", "artifact directory path or base URL")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	log.WithField("version", version).Info("privacy pool relayer starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, log, *configPath, *listenAddr, *artifactsBackend, *artifactsBase); err != nil {
		log.WithError(err).Error("relayer exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logrus.Logger, configPath, listenAddr, artifactsBackend, artifactsBase string) error {
	cfg, err := relayer.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("relayerd: load config: %w", err)
	}

	if err := logVerificationKeyDigests(log, artifactsBackend, artifactsBase); err != nil {
		log.WithError(err).Warn("could not log verification key digests")
	}

	proofs, err := proof.NewManager()
	if err != nil {
		return fmt.Errorf("relayerd: build proof manager: %w", err)
	}

	st, err := store.Open(ctx, &store.Config{Path: cfg.SQLiteDBPath})
	if err != nil {
		return fmt.Errorf("relayerd: open request store: %w", err)
	}
	defer st.Close()

	svc := relayer.NewService(cfg, log, st, nil)

	if cfg.Mesh.Enabled {
		mesh, err := relayermesh.New(ctx, &relayermesh.Config{
			Enabled:        cfg.Mesh.Enabled,
			ListenAddrs:    cfg.Mesh.ListenAddrs,
			BootstrapPeers: cfg.Mesh.BootstrapPeers,
		}, log)
		if err != nil {
			return fmt.Errorf("relayerd: start relayer mesh: %w", err)
		}
		defer mesh.Close()
		svc.SetMesh(mesh)
		log.WithField("peers", len(cfg.Mesh.BootstrapPeers)).Info("relayer mesh gossip enabled")
	}

	for i := range cfg.Chains {
		entry := cfg.Chains[i]
		if err := registerChain(svc, cfg, &entry, proofs, log); err != nil {
			return fmt.Errorf("relayerd: register chain %d: %w", entry.ChainID, err)
		}
		log.WithFields(logrus.Fields{"chainId": entry.ChainID, "rpcUrl": entry.RPCURL}).Info("chain registered")
	}

	server := &http.Server{Addr: listenAddr, Handler: svc.Router()}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", listenAddr).Info("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		log.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("relayerd: serve: %w", err)
	}
}

func registerChain(svc *relayer.Service, cfg *relayer.Config, entry *relayer.ChainEntry, proofs *proof.Manager, log *logrus.Logger) error {
	signerKey := entry.SignerPrivateKey
	if signerKey == "" {
		signerKey = cfg.Defaults.SignerPrivateKey
	}
	privKey, err := parsePrivateKey(signerKey)
	if err != nil {
		return fmt.Errorf("parse signer key: %w", err)
	}
	fromAddr := crypto.PubkeyToAddress(privKey.PublicKey)

	entrypoint := entry.EntrypointAddress
	if entrypoint == nil {
		entrypoint = &cfg.Defaults.EntrypointAddress
	}

	client, err := ethclient.Dial(entry.RPCURL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", entry.RPCURL, err)
	}

	chainIDBig := big.NewInt(entry.ChainID)
	pool, err := contract.NewEthereumPoolContract(entry.RPCURL, *entrypoint, fromAddr, &legacySigner{chainID: chainIDBig, key: privKey})
	if err != nil {
		return fmt.Errorf("build pool contract: %w", err)
	}

	feeReceiver := entry.FeeReceiverAddress
	if feeReceiver == nil {
		feeReceiver = &cfg.Defaults.FeeReceiverAddress
	}

	quoter := feequote.NewQuoter(feequote.DefaultConfig(), &nativeOnlyOracle{}, privKey, *feeReceiver, chainIDBig)

	rt := &relayer.ChainRuntime{
		Pool:   pool,
		Proofs: proofs,
		Quoter: quoter,
		GasPrice: func(ctx context.Context) (*big.Int, error) {
			return client.SuggestGasPrice(ctx)
		},
	}

	return svc.RegisterChain(entry.ChainID, rt)
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key := strings.TrimPrefix(hexKey, "0x")
	return crypto.HexToECDSA(key)
}

// legacySigner signs a populated transaction with a held private key under
// EIP-155 replay protection, implementing contract.TxSigner.
type legacySigner struct {
	chainID *big.Int
	key     *ecdsa.PrivateKey
}

func (s *legacySigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.key)
}

// nativeOnlyOracle prices only the chain's native asset at 1:1, returning
// ErrNoRoute for anything else. Real deployments wire a DEX-backed
// feequote.PriceOracle here; DEX routing internals stay behind the
// PriceOracle seam.
type nativeOnlyOracle struct{}

func (nativeOnlyOracle) Quote(ctx context.Context, chainID *big.Int, assetIn common.Address, amountIn *big.Int) (*feequote.Quote, error) {
	if assetIn != contract.NativeAsset {
		return nil, feequote.ErrNoRoute
	}
	return &feequote.Quote{Num: big.NewInt(1), Den: big.NewInt(1), Path: []common.Address{assetIn}}, nil
}

func logVerificationKeyDigests(log *logrus.Logger, backend, base string) error {
	b := artifacts.BackendFilesystem
	if strings.EqualFold(backend, "network") {
		b = artifacts.BackendNetwork
	}
	loader := artifacts.New(b, base)
	if err := loader.Init(); err != nil {
		return err
	}
	for _, name := range []artifacts.CircuitName{artifacts.CircuitCommitment, artifacts.CircuitMerkleTree, artifacts.CircuitWithdraw} {
		vk, err := loader.GetVerificationKey(name)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(vk)
		log.WithFields(logrus.Fields{"circuit": name, "vkeySHA256": hex.EncodeToString(sum[:])}).Info("loaded verification key")
	}
	return nil
}
