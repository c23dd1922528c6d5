package runtime

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
)

const (
	DefaultChainID     = "cronos_777-1"
	DefaultNumAccounts = 1
	DefaultHaltHeight  = 10
)

// IsValidator reports whether this instance belongs to the validator group.
func (rp *RunParams) IsValidator() bool {
	return rp.TestGroupID == ValidatorGroup
}

// IsParamSet checks if a certain parameter is set.
func (rp *RunParams) IsParamSet(name string) bool {
	_, ok := rp.TestInstanceParams[name]
	return ok
}

// StringParam returns a string parameter, or def if it is not set.
func (rp *RunParams) StringParam(name, def string) string {
	if v, ok := rp.TestInstanceParams[name]; ok {
		return v
	}
	return def
}

// IntParam returns an int parameter, or def if it is not set. It errors when
// the value cannot be parsed.
func (rp *RunParams) IntParam(name string, def int) (int, error) {
	v, ok := rp.TestInstanceParams[name]
	if !ok {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", name, err)
	}
	return i, nil
}

// BoolParam returns a bool parameter, or def if it is not set.
func (rp *RunParams) BoolParam(name string, def bool) (bool, error) {
	v, ok := rp.TestInstanceParams[name]
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("param %s: %w", name, err)
	}
	return b, nil
}

// BytesParam returns a byte-size parameter such as "10MB" or "1 GiB".
func (rp *RunParams) BytesParam(name string, def uint64) (uint64, error) {
	v, ok := rp.TestInstanceParams[name]
	if !ok {
		return def, nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", name, err)
	}
	return n, nil
}

// JSONParam unmarshals a JSON parameter into v. It returns false when the
// parameter is not set.
func (rp *RunParams) JSONParam(name string, v interface{}) (bool, error) {
	s, ok := rp.TestInstanceParams[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return true, fmt.Errorf("param %s: %w", name, err)
	}
	return true, nil
}

// ChainID is the chain id every node of the run is initialized with.
func (rp *RunParams) ChainID() string {
	return rp.StringParam("chain_id", DefaultChainID)
}

// NumAccounts is the number of funded test accounts each instance derives.
func (rp *RunParams) NumAccounts() (int, error) {
	return rp.IntParam("num_accounts", DefaultNumAccounts)
}

// NumTxs is the number of transactions each account is expected to send.
func (rp *RunParams) NumTxs() (int, error) {
	return rp.IntParam("num_txs", 0)
}

// HaltHeight is the block height after which the nodes are stopped.
func (rp *RunParams) HaltHeight() (int, error) {
	return rp.IntParam("halt_height", DefaultHaltHeight)
}
