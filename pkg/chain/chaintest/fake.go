// Package chaintest provides an in-process stand-in for the chain binary. It
// keeps node homes on disk in the same layout the real CLI does, so code
// driving it can be exercised without a chain build.
package chaintest

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/testground/chainbench/pkg/chain"
)

// Fake implements chain.Command.
type Fake struct {
	mu     sync.Mutex
	calls  [][]string
	height map[string]int
}

var _ chain.Command = (*Fake)(nil)

func New() *Fake {
	return &Fake{height: make(map[string]int)}
}

// Calls returns every invocation seen so far.
func (f *Fake) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

// CountCalls counts invocations whose leading arguments equal prefix.
func (f *Fake) CountCalls(prefix ...string) int {
	n := 0
	for _, c := range f.Calls() {
		if len(c) >= len(prefix) && strings.Join(c[:len(prefix)], " ") == strings.Join(prefix, " ") {
			n++
		}
	}
	return n
}

type invocation struct {
	pos   []string
	flags map[string]string
	stdin []byte
}

func parse(args []string, stdin []byte) *invocation {
	inv := &invocation{flags: make(map[string]string), stdin: stdin}
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "--") && i+1 < len(args) {
			inv.flags[strings.TrimPrefix(args[i], "--")] = args[i+1]
			i++
			continue
		}
		inv.pos = append(inv.pos, args[i])
	}
	return inv
}

func (f *Fake) Run(ctx context.Context, stdin []byte, args ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.mu.Unlock()

	inv := parse(args, stdin)
	home := inv.flags["home"]
	if home == "" {
		return "", errors.New("--home is required")
	}

	if len(inv.pos) == 0 {
		return "", errors.New("no subcommand")
	}
	sub := inv.pos[0]
	if len(inv.pos) > 1 {
		sub += " " + inv.pos[1]
	}

	switch sub {
	case "comet show-node-id":
		b, err := os.ReadFile(filepath.Join(home, "config", "node_id"))
		return string(b), err
	case "keys unsafe-import-eth-key":
		return "", f.importKey(home, inv)
	case "genesis add-genesis-account":
		return "", f.addGenesisAccount(home, inv)
	case "genesis gentx":
		return "", f.gentx(home, inv)
	case "genesis bulk-add-genesis-account":
		return "", f.bulkAdd(home, inv)
	case "genesis collect-gentxs":
		return "", f.collectGentxs(home, inv)
	case "genesis validate":
		return "", f.validate(home)
	}

	switch inv.pos[0] {
	case "init":
		return "", f.init(home, inv)
	case "status":
		f.mu.Lock()
		f.height[home]++
		h := f.height[home]
		f.mu.Unlock()
		return fmt.Sprintf(`{"sync_info":{"latest_block_height":"%d"}}`, h), nil
	}
	return "", fmt.Errorf("unsupported command %q", strings.Join(args, " "))
}

type genesis struct {
	ChainID   string                     `json:"chain_id"`
	Consensus map[string]interface{}     `json:"consensus"`
	AppState  map[string]json.RawMessage `json:"app_state"`
}

type bankState struct {
	Balances []chain.GenesisAccount `json:"balances"`
}

type genutilState struct {
	GenTxs []json.RawMessage `json:"gen_txs"`
}

// Gentx is the part of a genesis transaction the fake writes and checks.
type Gentx struct {
	Moniker string        `json:"moniker"`
	NodeID  string        `json:"node_id"`
	Address string        `json:"delegator_address"`
	Value   chain.Balance `json:"value"`
}

func genesisPath(home string) string {
	return filepath.Join(home, "config", "genesis.json")
}

func readGenesis(home string) (*genesis, error) {
	b, err := os.ReadFile(genesisPath(home))
	if err != nil {
		return nil, err
	}
	var g genesis
	return &g, json.Unmarshal(b, &g)
}

func writeGenesis(home string, g *genesis) error {
	b, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(genesisPath(home), b, 0o644)
}

func (g *genesis) bank() (*bankState, error) {
	var b bankState
	return &b, json.Unmarshal(g.AppState["bank"], &b)
}

func (g *genesis) setBank(b *bankState) error {
	raw, err := json.Marshal(b)
	g.AppState["bank"] = raw
	return err
}

func (f *Fake) init(home string, inv *invocation) error {
	if len(inv.pos) < 2 {
		return errors.New("init: moniker required")
	}
	cfg := filepath.Join(home, "config")
	if err := os.MkdirAll(cfg, 0o755); err != nil {
		return err
	}

	id := make([]byte, 20)
	if _, err := rand.Read(id); err != nil {
		return err
	}
	files := map[string]string{
		"node_id":  hex.EncodeToString(id),
		"moniker":  inv.pos[1],
		"denom":    inv.flags["default-denom"],
		"chain_id": inv.flags["chain-id"],
	}
	for name, v := range files {
		if err := os.WriteFile(filepath.Join(cfg, name), []byte(v), 0o644); err != nil {
			return err
		}
	}

	configTOML := map[string]interface{}{
		"moniker":    inv.pos[1],
		"db_backend": "goleveldb",
		"p2p":        map[string]interface{}{"addr_book_strict": true, "persistent_peers": ""},
		"mempool":    map[string]interface{}{"recheck": true, "size": 5000},
		"consensus":  map[string]interface{}{"timeout_commit": "5s"},
	}
	appTOML := map[string]interface{}{
		"minimum-gas-prices": "",
		"mempool":            map[string]interface{}{"max-txs": 5000},
		"json-rpc":           map[string]interface{}{"enable": true, "enable-indexer": false},
	}
	for name, doc := range map[string]interface{}{"config.toml": configTOML, "app.toml": appTOML} {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(cfg, name), buf.Bytes(), 0o644); err != nil {
			return err
		}
	}

	return writeGenesis(home, &genesis{
		ChainID:   inv.flags["chain-id"],
		Consensus: map[string]interface{}{"params": map[string]interface{}{"block": map[string]interface{}{"max_gas": "-1"}}},
		AppState: map[string]json.RawMessage{
			"bank":      json.RawMessage(`{"balances":[]}`),
			"genutil":   json.RawMessage(`{"gen_txs":[]}`),
			"evm":       json.RawMessage(`{"params":{"evm_denom":"aphoton"}}`),
			"feemarket": json.RawMessage(`{"params":{"no_base_fee":false}}`),
		},
	})
}

func keyPath(home, name string) string {
	return filepath.Join(home, "keyring-test", name)
}

func (f *Fake) importKey(home string, inv *invocation) error {
	if len(inv.pos) < 4 {
		return errors.New("unsafe-import-eth-key: name and key required")
	}
	if len(inv.stdin) == 0 {
		return errors.New("unsafe-import-eth-key: passphrase expected on stdin")
	}
	if _, err := crypto.HexToECDSA(inv.pos[3]); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(home, "keyring-test"), 0o700); err != nil {
		return err
	}
	return os.WriteFile(keyPath(home, inv.pos[2]), []byte(inv.pos[3]), 0o600)
}

func keyAddress(home, name string) (string, error) {
	b, err := os.ReadFile(keyPath(home, name))
	if err != nil {
		return "", fmt.Errorf("key %s not found: %w", name, err)
	}
	key, err := crypto.HexToECDSA(string(b))
	if err != nil {
		return "", err
	}
	return chain.EthToBech32(crypto.PubkeyToAddress(key.PublicKey), chain.Bech32Prefix)
}

func parseCoin(s string) (chain.Balance, error) {
	i := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if i <= 0 {
		return chain.Balance{}, fmt.Errorf("invalid coin %q", s)
	}
	return chain.Balance{Amount: s[:i], Denom: s[i:]}, nil
}

func addBalances(home string, accounts []chain.GenesisAccount) error {
	g, err := readGenesis(home)
	if err != nil {
		return err
	}
	bank, err := g.bank()
	if err != nil {
		return err
	}
	known := make(map[string]bool)
	for _, b := range bank.Balances {
		known[b.Address] = true
	}
	for _, a := range accounts {
		if known[a.Address] {
			return fmt.Errorf("account %s already exists", a.Address)
		}
		known[a.Address] = true
		bank.Balances = append(bank.Balances, a)
	}
	if err := g.setBank(bank); err != nil {
		return err
	}
	return writeGenesis(home, g)
}

func (f *Fake) addGenesisAccount(home string, inv *invocation) error {
	if len(inv.pos) < 4 {
		return errors.New("add-genesis-account: account and amount required")
	}
	addr, err := keyAddress(home, inv.pos[2])
	if err != nil {
		return err
	}
	coin, err := parseCoin(inv.pos[3])
	if err != nil {
		return err
	}
	return addBalances(home, []chain.GenesisAccount{{Address: addr, Coins: []chain.Balance{coin}}})
}

func (f *Fake) gentx(home string, inv *invocation) error {
	if len(inv.pos) < 4 {
		return errors.New("gentx: account and amount required")
	}
	if inv.flags["min-self-delegation"] == "" {
		return errors.New("gentx: --min-self-delegation required")
	}
	out := inv.flags["output-document"]
	if out == "" {
		return errors.New("gentx: --output-document required")
	}
	addr, err := keyAddress(home, inv.pos[2])
	if err != nil {
		return err
	}
	coin, err := parseCoin(inv.pos[3])
	if err != nil {
		return err
	}
	moniker, _ := os.ReadFile(filepath.Join(home, "config", "moniker"))
	nodeID, _ := os.ReadFile(filepath.Join(home, "config", "node_id"))

	b, err := json.Marshal(&Gentx{Moniker: string(moniker), NodeID: string(nodeID), Address: addr, Value: coin})
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0o644)
}

func (f *Fake) bulkAdd(home string, inv *invocation) error {
	if len(inv.pos) < 3 {
		return errors.New("bulk-add-genesis-account: file required")
	}
	b, err := os.ReadFile(inv.pos[2])
	if err != nil {
		return err
	}
	var accounts []chain.GenesisAccount
	if err := json.Unmarshal(b, &accounts); err != nil {
		return err
	}
	return addBalances(home, accounts)
}

func (f *Fake) collectGentxs(home string, inv *invocation) error {
	dir := inv.flags["gentx-dir"]
	if dir == "" {
		return errors.New("collect-gentxs: --gentx-dir required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var gen genutilState
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		gen.GenTxs = append(gen.GenTxs, json.RawMessage(b))
	}

	g, err := readGenesis(home)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(&gen)
	if err != nil {
		return err
	}
	g.AppState["genutil"] = raw
	return writeGenesis(home, g)
}

func (f *Fake) validate(home string) error {
	g, err := readGenesis(home)
	if err != nil {
		return fmt.Errorf("invalid genesis: %w", err)
	}
	if g.ChainID == "" {
		return errors.New("invalid genesis: empty chain id")
	}
	bank, err := g.bank()
	if err != nil {
		return err
	}
	funded := make(map[string]bool)
	for _, b := range bank.Balances {
		funded[b.Address] = true
	}

	var gen genutilState
	if err := json.Unmarshal(g.AppState["genutil"], &gen); err != nil {
		return err
	}
	for _, raw := range gen.GenTxs {
		var tx Gentx
		if err := json.Unmarshal(raw, &tx); err != nil {
			return err
		}
		if !funded[tx.Address] {
			return fmt.Errorf("invalid genesis: validator %s has no balance", tx.Address)
		}
	}
	return nil
}

// DecodeGentxs returns the genesis transactions recorded in home.
func DecodeGentxs(home string) ([]Gentx, error) {
	g, err := readGenesis(home)
	if err != nil {
		return nil, err
	}
	var gen genutilState
	if err := json.Unmarshal(g.AppState["genutil"], &gen); err != nil {
		return nil, err
	}
	txs := make([]Gentx, len(gen.GenTxs))
	for i, raw := range gen.GenTxs {
		if err := json.Unmarshal(raw, &txs[i]); err != nil {
			return nil, err
		}
	}
	return txs, nil
}
