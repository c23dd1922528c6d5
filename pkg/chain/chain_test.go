package chain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	args := Args([]string{"genesis", "gentx", "", "validator"},
		F("min_self_delegation", 1),
		F("home", "/data/home"),
		F("skipped", nil),
		F("_output_document_", "/tmp/gentx.json"),
	)
	require.Equal(t, []string{
		"genesis", "gentx", "validator",
		"--min-self-delegation", "1",
		"--home", "/data/home",
		"--output-document", "/tmp/gentx.json",
	}, args)
}

func TestClean(t *testing.T) {
	out := "<jemalloc>: option ignored\n  abcdef0123  \n<jemalloc>: again\n"
	require.Equal(t, "abcdef0123", clean([]byte(out)))
}

func TestGenAccountIsDeterministic(t *testing.T) {
	a, err := GenAccount(1, 0)
	require.NoError(t, err)
	b, err := GenAccount(1, 0)
	require.NoError(t, err)
	require.Equal(t, a.Address, b.Address)
	require.Len(t, a.KeyHex(), 64)

	seen := map[string]bool{}
	for seq := 0; seq < 4; seq++ {
		for idx := 0; idx < 4; idx++ {
			acc, err := GenAccount(seq, idx)
			require.NoError(t, err)
			require.False(t, seen[acc.Address.Hex()], "duplicate account for (%d, %d)", seq, idx)
			seen[acc.Address.Hex()] = true
		}
	}

	_, err = GenAccount(-1, 0)
	require.Error(t, err)
}

func TestEthToBech32(t *testing.T) {
	acc, err := GenAccount(3, 1)
	require.NoError(t, err)

	addr, err := EthToBech32(acc.Address, Bech32Prefix)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(addr, "crc1"))
	// 20 bytes → 32 data chars + 6 checksum chars + "crc1"
	require.Len(t, addr, 4+32+6)
}

func TestMergeAppendConcatenatesLists(t *testing.T) {
	out, err := MergeAppend(
		map[string]interface{}{"accounts": []int{1}},
		map[string]interface{}{"accounts": []int{2}},
	)
	require.NoError(t, err)

	b, err := json.Marshal(out)
	require.NoError(t, err)
	require.JSONEq(t, `{"accounts":[1,2]}`, string(b))
}

func TestMergeAppendIsAssociative(t *testing.T) {
	a := json.RawMessage(`{"accounts":[{"address":"a"}],"meta":{"x":1}}`)
	b := json.RawMessage(`{"accounts":[{"address":"b"}],"meta":{"y":2}}`)
	c := json.RawMessage(`{"accounts":[{"address":"c"}]}`)

	ab, err := MergeAppend(a, b)
	require.NoError(t, err)
	left, err := MergeAppend(ab, c)
	require.NoError(t, err)

	bc, err := MergeAppend(b, c)
	require.NoError(t, err)
	right, err := MergeAppend(a, bc)
	require.NoError(t, err)

	lb, _ := json.Marshal(left)
	rb, _ := json.Marshal(right)
	require.JSONEq(t, string(lb), string(rb))
	require.JSONEq(t, `{"accounts":[{"address":"a"},{"address":"b"},{"address":"c"}],"meta":{"x":1,"y":2}}`, string(lb))
}

func TestMergePatchOverridesScalarsAndLists(t *testing.T) {
	defaults := map[string]interface{}{
		"consensus": map[string]interface{}{"params": map[string]interface{}{"block": map[string]interface{}{"max_gas": "163000000"}}},
		"index":     []string{"a", "b"},
		"keep":      true,
	}
	user := json.RawMessage(`{"consensus":{"params":{"block":{"max_bytes":"1048576"}}},"index":["c"],"keep":false}`)

	out, err := MergePatch(defaults, user)
	require.NoError(t, err)

	b, err := json.Marshal(out)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"consensus":{"params":{"block":{"max_gas":"163000000","max_bytes":"1048576"}}},
		"index":["c"],
		"keep":false
	}`, string(b))

	// inputs are left untouched.
	require.Equal(t, []string{"a", "b"}, defaults["index"])
}

func TestMergePatchReplacesValuesOfAnotherKind(t *testing.T) {
	cases := []struct {
		name  string
		base  string
		patch string
		want  string
	}{
		{"scalar to object", `{"a":"x"}`, `{"a":{"b":1}}`, `{"a":{"b":1}}`},
		{"nested scalar to object", `{"p2p":{"seeds":"","keep":1}}`, `{"p2p":{"seeds":{"x":true}}}`, `{"p2p":{"seeds":{"x":true},"keep":1}}`},
		{"scalar to list", `{"a":1}`, `{"a":[1,2]}`, `{"a":[1,2]}`},
		{"list to object", `{"a":[1]}`, `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"object to scalar", `{"a":{"b":1}}`, `{"a":"x"}`, `{"a":"x"}`},
		{"null to object", `{"a":null}`, `{"a":{"b":1}}`, `{"a":{"b":1}}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out, err := MergePatch(json.RawMessage(c.base), json.RawMessage(c.patch))
			require.NoError(t, err)

			b, err := json.Marshal(out)
			require.NoError(t, err)
			require.JSONEq(t, c.want, string(b))
		})
	}
}

func TestMergeAppendReplacesScalarWithList(t *testing.T) {
	out, err := MergeAppend(
		json.RawMessage(`{"accounts":"none"}`),
		json.RawMessage(`{"accounts":[1]}`),
		json.RawMessage(`{"accounts":[2]}`),
	)
	require.NoError(t, err)

	b, err := json.Marshal(out)
	require.NoError(t, err)
	require.JSONEq(t, `{"accounts":[1,2]}`, string(b))
}

func TestMergePatchKeepsLargeNumbers(t *testing.T) {
	out, err := MergePatch(json.RawMessage(`{"amount":100000000000000000000000}`))
	require.NoError(t, err)

	b, err := json.Marshal(out)
	require.NoError(t, err)
	require.Equal(t, `{"amount":100000000000000000000000}`, string(b))
}

func TestPatchJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"chain_id":"x","app_state":{"evm":{"params":{"evm_denom":"aphoton","other":1}}}}`), 0o644))

	written, err := PatchJSON(path, map[string]interface{}{
		"app_state": map[string]interface{}{"evm": map[string]interface{}{"params": map[string]interface{}{"evm_denom": DefaultDenom}}},
	})
	require.NoError(t, err)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, written, onDisk)
	require.JSONEq(t, `{"chain_id":"x","app_state":{"evm":{"params":{"evm_denom":"basecro","other":1}}}}`, string(onDisk))
}

func TestPatchTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
moniker = "validators-1"

[p2p]
addr_book_strict = true
persistent_peers = ""

[mempool]
size = 5000
`), 0o644))

	require.NoError(t, PatchTOML(path, map[string]interface{}{
		"p2p":     map[string]interface{}{"addr_book_strict": false, "persistent_peers": "a@1.2.3.4:26656"},
		"mempool": map[string]interface{}{"size": MempoolSize},
	}))

	var out struct {
		Moniker string `toml:"moniker"`
		P2P     struct {
			AddrBookStrict  bool   `toml:"addr_book_strict"`
			PersistentPeers string `toml:"persistent_peers"`
		} `toml:"p2p"`
		Mempool struct {
			Size int `toml:"size"`
		} `toml:"mempool"`
	}
	_, err := toml.DecodeFile(path, &out)
	require.NoError(t, err)
	require.Equal(t, "validators-1", out.Moniker)
	require.False(t, out.P2P.AddrBookStrict)
	require.Equal(t, "a@1.2.3.4:26656", out.P2P.PersistentPeers)
	require.Equal(t, MempoolSize, out.Mempool.Size)
}

func TestValidatePeers(t *testing.T) {
	good := PeerPacket{
		Group:  "validators",
		IP:     "10.0.1.1",
		NodeID: "abc",
		PeerID: "abc@10.0.1.1:26656",
		Accounts: []GenesisAccount{
			{Address: "crc1xyz", Coins: []Balance{AccountInitialAmount}},
		},
	}
	require.NoError(t, ValidatePeers([]PeerPacket{good}))

	bad := good
	bad.IP = "bad host!"
	dup := good
	err := ValidatePeers([]PeerPacket{good, bad, dup})
	require.Error(t, err)
	require.Contains(t, err.Error(), "peer 1")
	require.Contains(t, err.Error(), "already used")
}
