package trace

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// VerifyResult is the outcome of verifying a trace file.
type VerifyResult struct {
	EventCount     int
	Valid          bool
	BrokenAt       int // -1 if no break
	Signed         bool
	SignatureOK    bool
	SignatureNoKey bool // signature present but no key to verify
	ChainHash      string
	Error          string
}

// VerifyFile verifies the hash chain and optional signature of a trace file.
func VerifyFile(path string) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Verify(f)
}

// Verify checks hash chain integrity and the optional HMAC signature on the
// terminal event.
func Verify(r io.Reader) (*VerifyResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB max line

	expectedPrevHash := genesisHash
	count := 0
	var lastEvent Event

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		count++

		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return broken(count, fmt.Sprintf("event %d: invalid JSON: %v", count, err)), nil
		}
		if evt.PrevHash != expectedPrevHash {
			return broken(count, fmt.Sprintf("event %d: prev_hash mismatch (expected %.16s..., got %.16s...)", count, expectedPrevHash, evt.PrevHash)), nil
		}
		h := sha256.Sum256(line)
		expectedPrevHash = hex.EncodeToString(h[:])
		lastEvent = evt
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	res := &VerifyResult{EventCount: count, Valid: true, BrokenAt: -1}
	if lastEvent.Data == nil {
		return res, nil
	}
	if chainHash, ok := lastEvent.Data["chain_hash"].(string); ok {
		res.ChainHash = chainHash
		if chainHash != lastEvent.PrevHash {
			res.Valid = false
			res.BrokenAt = count
			res.Error = "chain_hash does not match prev_hash of terminal event"
			return res, nil
		}
	}
	if sig, ok := lastEvent.Data["signature"].(string); ok {
		res.Signed = true
		key := os.Getenv(SigningKeyEnv)
		if key == "" {
			res.SignatureNoKey = true
		} else if res.ChainHash != "" {
			res.SignatureOK = hmac.Equal([]byte(sig), []byte(sign(key, res.ChainHash)))
		}
	}
	return res, nil
}

func broken(at int, msg string) *VerifyResult {
	return &VerifyResult{EventCount: at, Valid: false, BrokenAt: at, Error: msg}
}
