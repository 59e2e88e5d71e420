package pingwatch

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// BatchResult holds per-packet RTTs for one target. A nil entry in RTTs
// marks a lost packet; received RTTs are milliseconds.
type BatchResult struct {
	Sent     int
	Received int
	RTTs     []float64 // received samples only, in send order
}

// BatchPinger probes a set of addresses in one pass.
type BatchPinger interface {
	Ping(ctx context.Context, addrs []string, count, timeoutMs, periodMs int) (map[string]BatchResult, error)
}

// FpingRunner shells out to fping. The tool's command line and stderr
// format are a hard deployment dependency; the alternative is raw ICMP
// sockets with elevated privileges.
type FpingRunner struct {
	// Path is the fping binary, "fping" by default.
	Path string
}

// Ping runs one fping invocation over all addresses: -C for packets per
// target, -q for quiet, -t for per-packet timeout, -p for packet spacing.
// fping exits non-zero when any target is unreachable, so the exit code is
// ignored as long as output parses.
func (f *FpingRunner) Ping(ctx context.Context, addrs []string, count, timeoutMs, periodMs int) (map[string]BatchResult, error) {
	if len(addrs) == 0 {
		return map[string]BatchResult{}, nil
	}
	bin := f.Path
	if bin == "" {
		bin = "fping"
	}

	args := []string{
		"-C", strconv.Itoa(count),
		"-q",
		"-t", strconv.Itoa(timeoutMs),
		"-p", strconv.Itoa(periodMs),
	}
	args = append(args, addrs...)

	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// Exit status 1/2 just means lost packets or unresolvable hosts;
		// only fail when fping produced nothing to parse.
		if stderr.Len() == 0 {
			return nil, err
		}
	}
	return parseFpingOutput(stderr.String()), nil
}

// parseFpingOutput reads fping -C -q stderr lines of the form
//
//	192.0.2.1 : 4.99 5.01 - 5.22
//
// where "-" marks a lost packet.
func parseFpingOutput(out string) map[string]BatchResult {
	results := make(map[string]BatchResult)
	for _, line := range strings.Split(out, "\n") {
		addr, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		addr = strings.TrimSpace(addr)
		// fping may append a DNS name in parentheses after the address.
		if i := strings.IndexByte(addr, ' '); i >= 0 {
			addr = addr[:i]
		}
		if addr == "" {
			continue
		}

		var res BatchResult
		for _, field := range strings.Fields(rest) {
			res.Sent++
			if field == "-" {
				continue
			}
			rtt, err := strconv.ParseFloat(field, 64)
			if err != nil {
				res.Sent--
				continue
			}
			res.Received++
			res.RTTs = append(res.RTTs, rtt)
		}
		if res.Sent > 0 {
			results[addr] = res
		}
	}
	return results
}
