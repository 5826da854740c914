package mutator

import (
	"encoding/hex"
	"fmt"

	duktape "gopkg.in/olebedev/go-duktape.v3"

	"github.com/fuzzland/ityfuzz-go/internal/abitree"
	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
	"github.com/fuzzland/ityfuzz-go/internal/ilog"
)

var presetLog = ilog.New("component", "mutator.preset")

// LoadPreset sandboxes a user-supplied exploit-preset script in duktape,
// per SPEC_FULL.md's supplemented "exploit presets" feature: the script
// must define a global `nextCall()` returning `{contract: "0x..", data:
// "0x.."}` describing the scripted follow-up call.
func LoadPreset(script string) (Preset, error) {
	vm := duktape.New()
	defer vm.DestroyHeap()

	if err := vm.PevalString(script); err != nil {
		return Preset{}, fmt.Errorf("mutator: preset script error: %w", err)
	}
	vm.PevalString("JSON.stringify(nextCall())")
	result := vm.SafeToString(-1)
	vm.Pop()

	contractHex, dataHex, err := parsePresetResult(result)
	if err != nil {
		return Preset{}, err
	}
	data, err := hex.DecodeString(trimHexPrefix(dataHex))
	if err != nil {
		return Preset{}, fmt.Errorf("mutator: preset data not hex: %w", err)
	}

	var addr evmtypes.Address
	if err := addr.UnmarshalText([]byte(contractHex)); err != nil {
		return Preset{}, fmt.Errorf("mutator: preset contract not an address: %w", err)
	}

	presetLog.Debug("loaded exploit preset", "contract", addr.Hex(), "bytes", len(data))
	return Preset{Contract: addr, ABI: abitree.NewUnknown(data, len(data))}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// parsePresetResult extracts the two string fields from the duktape
// JSON.stringify output without pulling in a JSON decoder for two scalars.
func parsePresetResult(js string) (contract, data string, err error) {
	contract, err = extractField(js, "contract")
	if err != nil {
		return "", "", err
	}
	data, err = extractField(js, "data")
	if err != nil {
		return "", "", err
	}
	return contract, data, nil
}

func extractField(js, field string) (string, error) {
	key := "\"" + field + "\":\""
	idx := indexOf(js, key)
	if idx < 0 {
		return "", fmt.Errorf("mutator: preset result missing field %q", field)
	}
	start := idx + len(key)
	end := indexOfFrom(js, '"', start)
	if end < 0 {
		return "", fmt.Errorf("mutator: preset result malformed field %q", field)
	}
	return js[start:end], nil
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func indexOfFrom(s string, c byte, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
