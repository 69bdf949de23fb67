package oracle

import "strings"

// ReplayArgs is the command line of a replay run for tx.
func ReplayArgs(tx TxContext, network string, keys []string) []string {
	return []string{
		"replay", "-o",
		"--target-contract", tx.To,
		"--target-function", "server",
		"-c", network,
		"--onchain-etherscan-api-key", strings.Join(keys, ","),
		"--target-from-address", tx.From,
		"--target-tx-input", tx.Input,
		"--target-tx-hash", tx.Hash,
		"--target-fn-name", tx.FunctionName,
		"--target-value", tx.Value,
		"--target-onchain-block-number", tx.BlockNumber,
		"--target-onchain-block-timestamp", tx.TimeStamp,
		"--target-tx-is-error", tx.IsError,
		"--target-block-hash", tx.BlockHash,
	}
}

// VerifyArgs is the command line of a differential run of req.Target
// against req.Victim.
func VerifyArgs(req VerifyRequest, network string, keys []string) []string {
	t, v := req.Target, req.Victim
	args := []string{
		"evm", "-o",
		"--target-contract", t.To,
		"--victim-contract", v.To,
		"--target-function", t.FunctionName,
		"--victim-function", v.FunctionName,
		"-c", network,
		"--onchain-etherscan-api-key", strings.Join(keys, ","),
		"--target-from-address", t.From,
		"--target-tx-input", t.Input,
		"--target-tx-hash", t.Hash,
		"--target-fn-name", t.FunctionName,
		"--target-value", t.Value,
		"--target-onchain-block-number", t.BlockNumber,
		"--target-onchain-block-timestamp", t.TimeStamp,
		"--target-tx-is-error", t.IsError,
		"--victim-from-address", v.From,
		"--victim-tx-input", v.Input,
		"--victim-tx-hash", v.Hash,
		"--victim-fn-name", v.FunctionName,
		"--victim-value", v.Value,
		"--victim-onchain-block-number", v.BlockNumber,
		"--victim-onchain-block-timestamp", v.TimeStamp,
		"--victim-tx-is-error", v.IsError,
		"--related-function-signature", req.RelatedSignature,
		"--related-function-name", req.RelatedName,
		"--target-block-hash", t.BlockHash,
		"--victim-block-hash", v.BlockHash,
	}
	if req.Verified {
		args = append(args, "--is-verified")
	}
	return args
}
