package indexer

import (
	"fmt"
	"strings"

	"paysync/internal/felt"
)

// ParseContractAddress validates a contract address felt and returns it in
// canonical 0x-prefixed hex. An empty input yields "".
func ParseContractAddress(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", nil
	}
	if !strings.HasPrefix(input, "0x") && !strings.HasPrefix(input, "0X") {
		return "", fmt.Errorf("invalid contract address: %s", input)
	}
	value, err := felt.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid contract address: %w", err)
	}
	return felt.Hex(value), nil
}
